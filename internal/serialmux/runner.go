package serialmux

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/timeutil"
)

const (
	readChunkSize = 256
	// A diagnostic line is logged every this many consecutive read
	// timeouts (about five seconds at ReadTimeout).
	timeoutLogInterval = 50
)

var (
	// ErrWriteFailed is returned when a port accepts no bytes of a write.
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrPortClosed is returned when writing to a device whose loop has
	// already closed its port.
	ErrPortClosed = errors.New("serial port closed")
)

// deviceHandle is the manager's view of a running device. The read side of
// port belongs to the device loop alone; writes from any caller go through
// writeMu.
type deviceHandle struct {
	cancel atomic.Bool

	writeMu sync.Mutex
	port    SerialPorter
	closed  bool

	done chan struct{}
}

func newDeviceHandle(port SerialPorter) *deviceHandle {
	return &deviceHandle{port: port, done: make(chan struct{})}
}

// write sends all of data, serialised with other writers.
func (h *deviceHandle) write(data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed {
		return ErrPortClosed
	}
	for len(data) > 0 {
		n, err := h.port.Write(data)
		if err != nil {
			return err
		}
		if n <= 0 {
			return ErrWriteFailed
		}
		data = data[n:]
	}
	return nil
}

// close closes the port once no write is in flight.
func (h *deviceHandle) close() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.port.Close()
}

// deviceRunner reads one device until cancelled or until the port fails.
type deviceRunner struct {
	cfg    config.DeviceConfig
	handle *deviceHandle
	framer *Framer
	sink   Sink
	clock  timeutil.Clock
	logf   func(format string, v ...interface{})
}

// run is the read loop. It reports whether it ended because of a port
// fault; a cancelled loop returns false and emits nothing on the way out.
func (r *deviceRunner) run() (faulted bool) {
	buf := make([]byte, readChunkSize)
	timeouts := 0

	for {
		if r.handle.cancel.Load() {
			return false
		}

		n, err := r.handle.port.Read(buf)
		if n > 0 {
			timeouts = 0
			for _, fr := range r.framer.Feed(buf[:n]) {
				r.emitFrame(fr)
			}
		}

		switch {
		case err == nil:
		case isTimeout(err):
			timeouts++
			if timeouts%timeoutLogInterval == 0 {
				r.logf("waiting... %s unread in driver buffer", r.pendingInput())
			}
			if fr, ok := r.framer.FlushIfFull(); ok {
				r.emitFrame(fr)
			}
		default:
			r.logf("read error: %v", err)
			r.emitError(err)
			r.emitStatus(false)
			return true
		}
	}
}

func (r *deviceRunner) pendingInput() string {
	ib, ok := r.handle.port.(InputBufferer)
	if !ok {
		return "unknown bytes"
	}
	n, err := ib.BytesToRead()
	if err != nil {
		return fmt.Sprintf("unknown bytes (%v)", err)
	}
	return fmt.Sprintf("%d bytes", n)
}

func (r *deviceRunner) emitFrame(fr Frame) {
	switch {
	case fr.Flushed:
		r.logf("RX flush %dB", len(fr.Data))
	case fr.Text != nil:
		r.logf("RX: %s", *fr.Text)
	default:
		r.logf("RX (hex): % X", fr.Data)
	}
	r.sink.Emit(Event{Name: EventData, Payload: DataPayload{
		DeviceID:    r.cfg.DeviceID,
		Role:        r.cfg.Role,
		Port:        r.cfg.Port,
		Data:        fr.Data,
		DataStr:     fr.Text,
		TimestampMs: timeutil.UnixMillis(r.clock.Now()),
	}})
}

func (r *deviceRunner) emitError(err error) {
	emitError(r.sink, r.clock, r.cfg, err)
}

func (r *deviceRunner) emitStatus(connected bool) {
	emitStatus(r.sink, r.clock, r.cfg, connected)
}

func emitError(sink Sink, clock timeutil.Clock, cfg config.DeviceConfig, err error) {
	sink.Emit(Event{Name: EventError, Payload: ErrorPayload{
		DeviceID:    cfg.DeviceID,
		Port:        cfg.Port,
		Error:       err.Error(),
		TimestampMs: timeutil.UnixMillis(clock.Now()),
	}})
}

func emitStatus(sink Sink, clock timeutil.Clock, cfg config.DeviceConfig, connected bool) {
	sink.Emit(Event{Name: EventStatus, Payload: StatusPayload{
		DeviceID:    cfg.DeviceID,
		Port:        cfg.Port,
		Connected:   connected,
		TimestampMs: timeutil.UnixMillis(clock.Now()),
	}})
}
