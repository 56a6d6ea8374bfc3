package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestExtractFeedback(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		want    string
		wantOK  bool
		wantErr bool
	}{
		{"number", `{"Status":{"RoomAnalytics":{"PeopleCount":{"Current":2}}},"Id":1}`, "2", true, false},
		{"string", `{"Status":{"RoomAnalytics":{"PeopleCount":{"Current":"0"}}}}`, "0", true, false},
		{"sentinel", `{"Status":{"RoomAnalytics":{"PeopleCount":{"Current":-1}}}}`, "-1", true, false},
		{"other node", `{"Status":{"Audio":{"Volume":50}}}`, "", false, false},
		{"not object", `[1,2]`, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := extractFeedback(json.RawMessage(tt.params))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("raw: got %q, want %q", got, tt.want)
			}
		})
	}
}

// newFakeCodec serves the xAPI websocket: it acknowledges the feedback
// subscription and then pushes the given feedback values.
func newFakeCodec(t *testing.T, values []any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "integrator" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req rpcRequest
		var params subscribeParams
		req.Params = &params
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "xFeedback/Subscribe" || !params.NotifyCurrentValue {
			t.Errorf("unexpected subscribe request: %+v", req)
		}
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"Id": 0}})
		conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "xFeedback/Event", "params": map[string]any{
			"Status": map[string]any{"Audio": map[string]any{"Volume": 40}},
		}})
		for _, v := range values {
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "xFeedback/Event", "params": map[string]any{
				"Id": 0,
				"Status": map[string]any{"RoomAnalytics": map[string]any{
					"PeopleCount": map[string]any{"Current": v},
				}},
			}})
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestXAPIWatcherDeliversFeedback(t *testing.T) {
	ts := newFakeCodec(t, []any{0, 2, "abc"})

	w := NewXAPIWatcher(Device{Host: ts.URL, Username: "integrator", Password: "pw"}, BackoffConfig{})
	connected := make(chan bool, 4)
	w.OnConnect = func(c bool) { connected <- c }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, out) }()

	var got []string
	for len(got) < 3 {
		select {
		case r := <-out:
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	cancel()

	want := []string{"0", "2", "abc"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reading %d: got %q, want %q", i, got[i], want[i])
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	if c := <-connected; !c {
		t.Error("expected OnConnect(true) first")
	}
}

func TestXAPIWatcherStopsWhileReconnecting(t *testing.T) {
	// Nothing listens here, so every dial fails and the watcher backs off.
	ts := httptest.NewServer(http.NotFoundHandler())
	host := ts.URL
	ts.Close()

	w := NewXAPIWatcher(Device{Host: host}, BackoffConfig{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, Multiplier: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := w.Watch(ctx, make(chan string)); err != nil {
		t.Errorf("Watch: got %v, want nil", err)
	}
}
