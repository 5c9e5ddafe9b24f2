package serialmux

import (
	"bytes"
	"sync"
	"time"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests and dev mode. Reads on an empty buffer wait up to ReadTimeout for
// data and then fail with ErrReadTimeout, like a real port with a timeout.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadTimeout is how long an empty Read waits before timing out
	ReadTimeout time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// DTRError is returned by SetDTR if set
	DTRError error

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// DTR is the last value passed to SetDTR
	DTR bool

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls and WriteCalls count calls
	ReadCalls  int
	WriteCalls int

	// writing is true while a Write is in progress, to detect overlap
	writing     bool
	overlapped  bool
	dataArrived chan struct{}
}

// NewTestableSerialPort creates a port with empty buffers and ReadTimeout.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		ReadTimeout: ReadTimeout,
		dataArrived: make(chan struct{}, 1),
	}
}

// Read returns buffered data, a pending ReadError, or ErrReadTimeout after
// waiting ReadTimeout with nothing to return.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++
	if n, done, err := t.readLocked(p); done {
		t.mu.Unlock()
		return n, err
	}
	timeout := t.ReadTimeout
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.dataArrived:
	case <-timer.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if n, done, err := t.readLocked(p); done {
		return n, err
	}
	return 0, ErrReadTimeout
}

func (t *TestableSerialPort) readLocked(p []byte) (int, bool, error) {
	if t.Closed {
		return 0, true, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, true, err
	}
	if t.ReadBuffer.Len() > 0 {
		n, err := t.ReadBuffer.Read(p)
		return n, true, err
	}
	return 0, false, nil
}

// Write appends to WriteBuffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.WriteCalls++
	if t.Closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	if t.writing {
		t.overlapped = true
	}
	t.writing = true
	latency := t.WriteLatency
	t.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.writing = false
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes a waiting reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	t.Closed = true
	t.mu.Unlock()
	t.notify()
	return nil
}

// SetDTR records the DTR state or returns DTRError.
func (t *TestableSerialPort) SetDTR(dtr bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DTRError != nil {
		return t.DTRError
	}
	t.DTR = dtr
	return nil
}

// BytesToRead implements InputBufferer.
func (t *TestableSerialPort) BytesToRead() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ReadBuffer.Len(), nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	t.ReadBuffer.Write(data)
	t.mu.Unlock()
	t.notify()
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	t.ReadError = err
	t.mu.Unlock()
	t.notify()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// WritesOverlapped reports whether two Writes were ever in progress at once.
func (t *TestableSerialPort) WritesOverlapped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overlapped
}

func (t *TestableSerialPort) notify() {
	select {
	case t.dataArrived <- struct{}{}:
	default:
	}
}

// MockPortFactory opens TestableSerialPorts by path. Paths without a
// configured port get a fresh one, which is then kept for inspection.
type MockPortFactory struct {
	mu sync.Mutex

	// Ports maps a path to the port Open returns for it
	Ports map[string]*TestableSerialPort

	// Errors maps a path to the error Open returns for it
	Errors map[string]error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockPortFactory creates an empty MockPortFactory.
func NewMockPortFactory() *MockPortFactory {
	return &MockPortFactory{
		Ports:  make(map[string]*TestableSerialPort),
		Errors: make(map[string]error),
	}
}

// Open returns the configured port or error for path.
func (f *MockPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if err := f.Errors[path]; err != nil {
		return nil, err
	}
	p, ok := f.Ports[path]
	if !ok || p.IsClosed() {
		p = NewTestableSerialPort()
		if opts.ReadTimeout > 0 {
			p.ReadTimeout = opts.ReadTimeout
		}
		f.Ports[path] = p
	}
	return p, nil
}

// Port returns the port last handed out for path, creating it if needed.
func (f *MockPortFactory) Port(path string) *TestableSerialPort {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Ports[path]
	if !ok {
		p = NewTestableSerialPort()
		f.Ports[path] = p
	}
	return p
}

// SetError makes Open fail for path; nil clears it.
func (f *MockPortFactory) SetError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, path)
		return
	}
	f.Errors[path] = err
}

// Opens returns how many times Open was called for path.
func (f *MockPortFactory) Opens(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.OpenCalls {
		if c.Path == path {
			n++
		}
	}
	return n
}

// NewReplayOpener returns a PortOpener for dev mode: every port it opens
// receives line once per interval until closed.
func NewReplayOpener(line []byte, interval time.Duration) PortOpener {
	return func(path string, opts PortOptions) (SerialPorter, error) {
		p := NewTestableSerialPort()
		if opts.ReadTimeout > 0 {
			p.ReadTimeout = opts.ReadTimeout
		}
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				if p.IsClosed() {
					return
				}
				p.AddReadData(line)
			}
		}()
		return p, nil
	}
}
