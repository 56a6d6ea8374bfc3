package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/occupancy-notifier/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Room Occupancy</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.OCCUPIED { color: green; font-weight: bold; }
.EMPTY { color: #888; }
.UNKNOWN { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Room Occupancy</h1>

<h2>State</h2>
<table>
<tr><th>Occupancy</th><td id="occupancy" class="{{.State}}">{{.State}}</td></tr>
<tr><th>People</th><td>{{if .HaveCount}}{{.LastCount}}{{else}}-{{end}}</td></tr>
<tr><th>Last reading</th><td>{{stamp .LastReading}}</td></tr>
</table>

<h2>Signals</h2>
<table>
<tr><th>Started</th><td>{{.Counts.Started}}</td></tr>
<tr><th>Ended</th><td>{{.Counts.Ended}}</td></tr>
<tr><th>Malformed readings</th><td>{{.Counts.Malformed}}</td></tr>
<tr><th>Delivered</th><td>{{.Delivery.OK}}</td></tr>
<tr><th>Failed</th><td>{{.Delivery.Failed}}</td></tr>
{{if .Delivery.LastError}}<tr><th>Last error</th><td>{{.Delivery.LastError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Source ({{.Config.Source}})</th><td class="{{if .SourceConnected}}connected{{else}}disconnected{{end}}">{{if .SourceConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Webhook</th><td>{{.Config.WebhookURL}} ({{.Config.Join}})</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}{{if eq .Config.Mode "poll"}} every {{.Config.PollMs}}ms{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has an Uptime() method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
