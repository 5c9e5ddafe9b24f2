package api

import (
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/db"
	"github.com/banshee-data/inspection.station/internal/serialmux"
	"github.com/banshee-data/inspection.station/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DeviceManager is the part of serialmux.Manager the API drives.
type DeviceManager interface {
	StartAll(set config.DeviceSet, sink serialmux.Sink)
	StopAll()
	RestartAll(set config.DeviceSet, sink serialmux.Sink)
	SendToDevice(deviceID string, data []byte) error
	Running() []string
}

// CommandLog records commands sent through the API.
type CommandLog interface {
	RecordCommand(deviceID string, data []byte, sentAtMs int64, sendErr error) error
	RecentCommands(deviceID string, limit int) ([]db.DeviceCommand, error)
}

// ServerConfig holds the dependencies of a Server.
type ServerConfig struct {
	Devices DeviceManager
	Store   config.Store
	Broker  *serialmux.Broker
	// Commands is optional; without it sends are not recorded.
	Commands CommandLog
	// ListPorts defaults to serialmux.ListPorts.
	ListPorts func() ([]serialmux.PortInfo, error)
	// Clock defaults to the wall clock.
	Clock timeutil.Clock
}

// Server exposes the serial manager over HTTP.
type Server struct {
	devices   DeviceManager
	store     config.Store
	broker    *serialmux.Broker
	commands  CommandLog
	listPorts func() ([]serialmux.PortInfo, error)
	clock     timeutil.Clock

	// configMu serialises config changes with the restarts they trigger
	configMu sync.Mutex
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		devices:   cfg.Devices,
		store:     cfg.Store,
		broker:    cfg.Broker,
		commands:  cfg.Commands,
		listPorts: cfg.ListPorts,
		clock:     cfg.Clock,
	}
	if s.listPorts == nil {
		s.listPorts = serialmux.ListPorts
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.broker == nil {
		s.broker = serialmux.NewBroker(0)
	}
	return s
}

// Broker returns the sink device events are published to.
func (s *Server) Broker() *serialmux.Broker { return s.broker }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/serial/config", s.handleConfig)
	mux.HandleFunc("/api/serial/start", s.handleStart)
	mux.HandleFunc("/api/serial/stop", s.handleStop)
	mux.HandleFunc("/api/serial/restart", s.handleRestart)
	mux.HandleFunc("/api/serial/send", s.handleSend)
	mux.HandleFunc("/api/serial/ports", s.handlePorts)
	mux.HandleFunc("/api/serial/running", s.handleRunning)
	mux.HandleFunc("/api/serial/commands", s.handleCommands)
	mux.HandleFunc("/api/serial/events", s.handleEvents)
	return mux
}
