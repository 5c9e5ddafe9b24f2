package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/inspection.station/internal/api"
	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/db"
	"github.com/banshee-data/inspection.station/internal/serialmux"
	"github.com/banshee-data/inspection.station/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode with simulated ports replaying a fixture line")
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", config.DefaultConfigPath(), "Path to the serial device config JSON (ignored when -db is set)")
	dbPath      = flag.String("db", "", "SQLite database for devices and the command log; when set it replaces the JSON config")
	fixture     = flag.String("fixture", "fixtures.txt", "Dev mode: file whose first line each simulated device emits")
	replayEvery = flag.Duration("replay-interval", time.Second, "Dev mode: how often each simulated device emits its fixture line")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const defaultFixtureLine = "DEV-0001"

// fixtureLine returns the first non-empty line of path, or a placeholder when
// the file is missing.
func fixtureLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultFixtureLine, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read fixtures file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return defaultFixtureLine, nil
}

// portOpener picks real serial ports or, in dev mode, simulated ones.
func portOpener(dev bool, fixturePath string, interval time.Duration) (serialmux.PortOpener, error) {
	if !dev {
		return serialmux.OpenSerialPort, nil
	}
	line, err := fixtureLine(fixturePath)
	if err != nil {
		return nil, err
	}
	log.Printf("dev mode: simulated devices emit %q every %v", line, interval)
	return serialmux.NewReplayOpener([]byte(line+"\r\n"), interval), nil
}

// startupSet loads the stored devices. An invalid set is logged and nothing
// is started until the config is fixed through the API.
func startupSet(store config.Store) config.DeviceSet {
	set := config.LoadOrEmpty(store)
	if err := config.Validate(set); err != nil {
		log.Printf("serial config invalid, no devices started: %v", err)
		return config.DeviceSet{}
	}
	return set
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.String())

	opener, err := portOpener(*devMode, *fixture, *replayEvery)
	if err != nil {
		log.Fatalf("failed to set up ports: %v", err)
	}

	var (
		store    config.Store
		database *db.DB
	)
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = database
		log.Printf("serial config stored in database %s", *dbPath)
	} else {
		store = config.NewJSONStore(*configPath)
		log.Printf("serial config stored in %s", *configPath)
	}

	broker := serialmux.NewBroker(0)
	defer broker.Close()
	mgr := serialmux.NewManager(serialmux.ManagerConfig{Opener: opener})

	srvCfg := api.ServerConfig{Devices: mgr, Store: store, Broker: broker}
	if database != nil {
		srvCfg.Commands = database
	}
	server := api.NewServer(srvCfg)

	set := startupSet(store)
	mgr.StartAll(set, broker)
	log.Printf("%d of %d configured device(s) running", len(mgr.Running()), len(set.Devices))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		server.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes unavailable: %v", err)
			}
		}

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	mgr.Close()
	log.Printf("Graceful shutdown complete")
}
