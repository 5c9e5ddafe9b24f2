package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/inspection.station/internal/httputil"
	"github.com/banshee-data/inspection.station/internal/serialmux"
)

// sseKeepAlive is how often an idle event stream gets a comment line.
const sseKeepAlive = 15 * time.Second

// handleEvents handles GET /api/serial/events as a Server-Sent Events stream.
// An optional device_id query parameter limits the stream to one device.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	s.streamEvents(w, r, r.URL.Query().Get("device_id"))
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, deviceID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, events := s.broker.Subscribe()
	defer s.broker.Unsubscribe(id)

	// initial ping establishes the stream
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if deviceID != "" && e.DeviceID() != deviceID {
				continue
			}
			if err := writeSSE(w, e); err != nil {
				log.Printf("Error writing event to %s: %v", r.RemoteAddr, err)
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, e serialmux.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.Name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, payload)
	return err
}
