package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/httputil"
	"github.com/banshee-data/inspection.station/internal/serialmux"
	"github.com/banshee-data/inspection.station/internal/timeutil"
)

const maxRequestBody = 1 << 20

// RunningResponse lists the devices with a live port.
type RunningResponse struct {
	Running []string `json:"running"`
}

// SendRequest is the body of POST /api/serial/send. Data takes precedence
// over Text; Data may be a JSON array of byte values or a base64 string.
type SendRequest struct {
	DeviceID string              `json:"device_id"`
	Data     serialmux.ByteArray `json:"data,omitempty"`
	Text     string              `json:"text,omitempty"`
}

// SendResponse reports a completed write.
type SendResponse struct {
	DeviceID string `json:"device_id"`
	Bytes    int    `json:"bytes"`
}

func (s *Server) running() RunningResponse {
	ids := s.devices.Running()
	if ids == nil {
		ids = []string{}
	}
	return RunningResponse{Running: ids}
}

// handleConfig handles GET/PUT/DELETE /api/serial/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, withDevices(config.LoadOrEmpty(s.store)))
	case http.MethodPut:
		s.handleUpdateConfig(w, r)
	case http.MethodDelete:
		s.handleResetConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleUpdateConfig validates and saves the new device set, then restarts
// every device so the change takes effect.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var set config.DeviceSet
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&set); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := config.Validate(set); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if err := s.store.Save(set); err != nil {
		log.Printf("Error saving serial config: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to save config: %v", err))
		return
	}
	s.devices.RestartAll(set, s.broker)
	log.Printf("Serial config updated: %d device(s), %d running", len(set.Devices), len(s.devices.Running()))

	httputil.WriteJSONOK(w, withDevices(set))
}

// handleResetConfig stops every device and stores an empty set.
func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.devices.StopAll()
	empty := config.DeviceSet{Devices: []config.DeviceConfig{}}
	if err := s.store.Save(empty); err != nil {
		log.Printf("Error resetting serial config: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to save config: %v", err))
		return
	}
	log.Printf("Serial config reset")
	httputil.WriteJSONOK(w, empty)
}

// loadValid returns the stored set, writing a 400 when it does not validate.
func (s *Server) loadValid(w http.ResponseWriter) (config.DeviceSet, bool) {
	set := config.LoadOrEmpty(s.store)
	if err := config.Validate(set); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("stored config is invalid: %v", err))
		return config.DeviceSet{}, false
	}
	return set, true
}

// handleStart handles POST /api/serial/start
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()

	set, ok := s.loadValid(w)
	if !ok {
		return
	}
	s.devices.StartAll(set, s.broker)
	httputil.WriteJSONOK(w, s.running())
}

// handleStop handles POST /api/serial/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.devices.StopAll()
	httputil.WriteJSONOK(w, s.running())
}

// handleRestart handles POST /api/serial/restart
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()

	set, ok := s.loadValid(w)
	if !ok {
		return
	}
	s.devices.RestartAll(set, s.broker)
	httputil.WriteJSONOK(w, s.running())
}

// handleSend handles POST /api/serial/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.DeviceID == "" {
		httputil.BadRequest(w, "device_id is required")
		return
	}
	data := []byte(req.Data)
	if len(data) == 0 {
		data = []byte(req.Text)
	}
	if len(data) == 0 {
		httputil.BadRequest(w, "data or text is required")
		return
	}

	err := s.devices.SendToDevice(req.DeviceID, data)
	s.recordCommand(req.DeviceID, data, err)

	var we *serialmux.WriteError
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, SendResponse{DeviceID: req.DeviceID, Bytes: len(data)})
	case errors.Is(err, serialmux.ErrDeviceNotRunning):
		httputil.NotFound(w, err.Error())
	case errors.As(err, &we):
		log.Printf("Error writing to device %s: %v", req.DeviceID, we.Err)
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) recordCommand(deviceID string, data []byte, sendErr error) {
	if s.commands == nil {
		return
	}
	ts := int64(timeutil.UnixMillis(s.clock.Now()))
	if err := s.commands.RecordCommand(deviceID, data, ts, sendErr); err != nil {
		log.Printf("Error recording command for %s: %v", deviceID, err)
	}
}

// handleCommands handles GET /api/serial/commands?device_id=&limit=
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.commands == nil {
		httputil.NotFound(w, "command log is not enabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cmds, err := s.commands.RecentCommands(r.URL.Query().Get("device_id"), limit)
	if err != nil {
		log.Printf("Error fetching commands: %v", err)
		httputil.InternalServerError(w, "failed to fetch commands")
		return
	}
	httputil.WriteJSONOK(w, cmds)
}

// handlePorts handles GET /api/serial/ports
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		log.Printf("Error listing serial ports: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	if ports == nil {
		ports = []serialmux.PortInfo{}
	}
	httputil.WriteJSONOK(w, ports)
}

// handleRunning handles GET /api/serial/running
func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.running())
}

// withDevices makes an empty set encode as "devices": [].
func withDevices(set config.DeviceSet) config.DeviceSet {
	if set.Devices == nil {
		set.Devices = []config.DeviceConfig{}
	}
	return set
}
