package serialmux

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/monitoring"
	"github.com/banshee-data/inspection.station/internal/timeutil"
)

// DefaultGraceDelay is how long RestartAll waits between stopping and
// starting so cancelled loops can release their ports.
const DefaultGraceDelay = 200 * time.Millisecond

// ErrDeviceNotRunning is returned when sending to a device that has no live
// port: never started, failed to open, stopped, or dropped after a fault.
var ErrDeviceNotRunning = errors.New("device not running")

// WriteError reports a failed write to a running device.
type WriteError struct {
	DeviceID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to device %s failed: %v", e.DeviceID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ManagerConfig holds the dependencies of a Manager. Zero values select the
// production defaults.
type ManagerConfig struct {
	// Opener opens device ports. Defaults to OpenSerialPort.
	Opener PortOpener
	// Clock stamps events and times the restart grace delay.
	Clock timeutil.Clock
	// GraceDelay is the pause inside RestartAll. Defaults to DefaultGraceDelay.
	GraceDelay time.Duration
}

// Manager owns the set of running devices. It starts one read goroutine per
// enabled device, routes writes to the right port and stops devices on
// request. All methods are safe for concurrent use.
//
// The running set is guarded by a single mutex that is never held across
// port I/O. As a consequence a StartAll racing a StopAll for the same device
// may briefly reopen a port its previous loop has not yet released; callers
// that need a clean handover use RestartAll, which waits GraceDelay.
type Manager struct {
	open  PortOpener
	clock timeutil.Clock
	grace time.Duration

	mu      sync.Mutex
	running map[string]*deviceHandle

	wg sync.WaitGroup
}

// NewManager creates a Manager with nothing running.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		open:    cfg.Opener,
		clock:   cfg.Clock,
		grace:   cfg.GraceDelay,
		running: make(map[string]*deviceHandle),
	}
	if m.open == nil {
		m.open = OpenSerialPort
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	if m.grace <= 0 {
		m.grace = DefaultGraceDelay
	}
	return m
}

// StartAll starts every enabled device in set that is not already running.
// Devices already running are left alone, so StartAll also serves as "start
// whatever is stopped". A device whose loop ended on a read error has
// already left the running set, so StartAll reopens it. Open failures are
// reported to sink as serial:error events; nothing is returned to the caller.
func (m *Manager) StartAll(set config.DeviceSet, sink Sink) {
	for _, dev := range set.Enabled() {
		if m.IsRunning(dev.DeviceID) {
			continue
		}
		m.spawn(dev, sink)
	}
}

// StopAll signals every running device to stop and forgets them. It does not
// wait: each loop notices within one ReadTimeout and closes its port. Use
// Wait when the ports must be closed before continuing.
func (m *Manager) StopAll() {
	m.mu.Lock()
	running := m.running
	m.running = make(map[string]*deviceHandle)
	m.mu.Unlock()

	for _, h := range running {
		h.cancel.Store(true)
	}
	if len(running) > 0 {
		monitoring.Logf("serial: stop requested for %d device(s)", len(running))
	}
}

// RestartAll stops everything, waits the grace delay and starts set. A loop
// that is slow to exit can still hold its port when the new open happens;
// that open then fails with a serial:error event like any other.
func (m *Manager) RestartAll(set config.DeviceSet, sink Sink) {
	m.StopAll()
	m.clock.Sleep(m.grace)
	m.StartAll(set, sink)
}

// SendToDevice writes data to a running device's port. It never touches the
// read side and may be called concurrently with reads and other writers.
func (m *Manager) SendToDevice(deviceID string, data []byte) error {
	m.mu.Lock()
	h, ok := m.running[deviceID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotRunning, deviceID)
	}
	if err := h.write(data); err != nil {
		return &WriteError{DeviceID: deviceID, Err: err}
	}
	return nil
}

// IsRunning reports whether deviceID is in the running set.
func (m *Manager) IsRunning(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[deviceID]
	return ok
}

// Running returns the ids of all running devices, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Wait blocks until every device loop started by this manager has returned
// and closed its port.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops all devices and waits for their loops to finish.
func (m *Manager) Close() {
	m.StopAll()
	m.Wait()
}

// spawn opens the device's port outside the lock, registers the handle and
// starts the read loop.
func (m *Manager) spawn(cfg config.DeviceConfig, sink Sink) {
	logf := monitoring.Prefixed(fmt.Sprintf("[serial %s|%s]", cfg.Name, cfg.Port))

	port, err := m.open(cfg.Port, OptionsFor(cfg))
	if err != nil {
		logf("open failed: %v", err)
		emitError(sink, m.clock, cfg, err)
		return
	}

	if d, ok := port.(DTRSetter); ok {
		if err := d.SetDTR(true); err != nil {
			logf("setting DTR failed (non-fatal): %v", err)
		} else {
			logf("DTR asserted")
		}
	}

	h := newDeviceHandle(port)

	m.mu.Lock()
	if _, exists := m.running[cfg.DeviceID]; exists {
		m.mu.Unlock()
		logf("already running, discarding duplicate open")
		port.Close()
		return
	}
	m.running[cfg.DeviceID] = h
	m.wg.Add(1)
	m.mu.Unlock()

	emitStatus(sink, m.clock, cfg, true)
	logf("listening")

	r := &deviceRunner{
		cfg:    cfg,
		handle: h,
		framer: NewFramer(),
		sink:   sink,
		clock:  m.clock,
		logf:   logf,
	}
	go func() {
		defer m.wg.Done()
		defer close(h.done)

		faulted := r.run()
		if faulted {
			m.forget(cfg.DeviceID, h)
		}
		if err := h.close(); err != nil {
			logf("close failed: %v", err)
		}
		logf("read loop exited")
	}()
}

// forget drops a faulted device from the running set unless it has already
// been replaced by a newer handle.
func (m *Manager) forget(deviceID string, h *deviceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.running[deviceID]; ok && cur == h {
		delete(m.running, deviceID)
	}
}
