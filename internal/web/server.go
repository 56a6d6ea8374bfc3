// Package web provides an HTTP status server for the occupancy daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/occupancy-notifier/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)

	n := negroni.New(negroni.NewRecovery(), negroni.HandlerFunc(logRequest))
	n.UseHandler(mux)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           n,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// logRequest is negroni middleware logging each request at debug level.
func logRequest(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(rw, r)

	ev := log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("took", time.Since(start))
	if res, ok := rw.(negroni.ResponseWriter); ok {
		ev = ev.Int("status", res.Status())
	}
	ev.Msg("http request")
}
