package api

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/inspection.station/internal/config"
)

var devicesTemplate = template.Must(template.New("devices").Parse(`<!DOCTYPE html>
<html><head><title>Serial devices</title></head>
<body>
<h1>Serial devices</h1>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Name</th><th>Role</th><th>Port</th><th>Settings</th><th>Enabled</th><th>Running</th></tr>
{{range .}}<tr>
<td>{{.DeviceID}}</td><td>{{.Name}}</td><td>{{.Role}}</td><td>{{.Port}}</td>
<td>{{.BaudRate}} {{.DataBits}}/{{.Parity}}/{{.StopBits}}</td>
<td>{{.Enabled}}</td><td>{{.Running}}</td>
</tr>{{else}}<tr><td colspan="7">no devices configured</td></tr>{{end}}
</table>
<h2>Send</h2>
<form method="POST" action="/debug/serial-send">
<input name="device_id" placeholder="device id">
<input name="command" placeholder="command" size="40">
<button type="submit">send</button>
</form>
<p><a href="/debug/serial-tail">live tail</a></p>
</body></html>
`))

type deviceRow struct {
	config.DeviceConfig
	Running bool
}

// AttachAdminRoutes attaches serial debugging pages to the /debug/ tree of
// mux. These routes are accessible only over localhost/via Tailscale and are
// not publicly accessible.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial-devices", "Configured serial devices and their state", func(w http.ResponseWriter, r *http.Request) {
		running := make(map[string]bool)
		for _, id := range s.devices.Running() {
			running[id] = true
		}
		var rows []deviceRow
		for _, d := range config.LoadOrEmpty(s.store).Devices {
			rows = append(rows, deviceRow{DeviceConfig: d, Running: running[d.DeviceID]})
		}

		buf := bytes.NewBuffer(nil)
		if err := devicesTemplate.Execute(buf, rows); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	// form endpoint for the send box above; appends CRLF like a terminal
	debug.HandleSilentFunc("serial-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		deviceID := strings.TrimSpace(r.FormValue("device_id"))
		command := strings.TrimSpace(r.FormValue("command"))
		if deviceID == "" || command == "" {
			http.Error(w, "Missing device_id or command", http.StatusBadRequest)
			return
		}
		data := []byte(command + "\r\n")
		err := s.devices.SendToDevice(deviceID, data)
		s.recordCommand(deviceID, data, err)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to write command: %v", err), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to %s", command, deviceID))
	})

	debug.HandleSilentFunc("serial-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.streamEvents(w, r, r.URL.Query().Get("device_id"))
	})
}
