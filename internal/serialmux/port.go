package serialmux

import (
	"errors"
	"io"
	"os"
	"time"
)

// ReadTimeout bounds every read so a device loop notices cancellation
// promptly without interrupting an in-flight read.
const ReadTimeout = 100 * time.Millisecond

// ErrReadTimeout is returned by a port Read that waited ReadTimeout without
// receiving anything.
var ErrReadTimeout = errors.New("serial read timed out")

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// DTRSetter is implemented by ports that can drive the DTR line. Some USB
// virtual-serial scanners stay silent until the host asserts it.
type DTRSetter interface {
	SetDTR(dtr bool) error
}

// InputBufferer is implemented by ports that can report how many received
// bytes are waiting in the driver buffer.
type InputBufferer interface {
	BytesToRead() (int, error)
}

// PortOpener opens the named port with the given options. The returned port
// must already apply opts.ReadTimeout to reads.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)

// isTimeout reports whether err means "nothing arrived before the deadline"
// rather than a broken port.
func isTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
