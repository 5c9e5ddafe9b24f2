package serialmux

import (
	"strings"
	"unicode/utf8"
)

// MaxPendingBytes is the size at which an unterminated buffer is flushed as a
// message, so binary protocols without line endings still deliver.
const MaxPendingBytes = 64

// Frame is one message cut from a device's byte stream.
type Frame struct {
	Data []byte
	// Text is the UTF-8 decoding of Data, or nil when Data is not valid
	// UTF-8. For line-terminated frames it is trimmed and nil when blank;
	// size-flushed frames keep the raw decoding untrimmed.
	Text *string
	// Flushed marks frames cut by the size rule rather than a terminator.
	Flushed bool
}

// Framer splits a byte stream into messages. A '\r' or '\n' ends the
// current message; either alone is enough and an empty buffer at a
// terminator produces nothing, so "\r\n" yields a single message. The size
// rule is checked only once a chunk has been consumed: a buffer that has
// reached MaxPendingBytes without a terminator is then flushed whole, so a
// long line whose terminator arrives in the same chunk is never split.
//
// A Framer holds the pending bytes of exactly one device and is not safe for
// concurrent use.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, readChunkSize)}
}

// Push adds one byte and reports the line it terminated, if any. It never
// applies the size rule.
func (f *Framer) Push(b byte) (Frame, bool) {
	if b == '\r' || b == '\n' {
		if len(f.buf) == 0 {
			return Frame{}, false
		}
		return lineFrame(f.take()), true
	}
	f.buf = append(f.buf, b)
	return Frame{}, false
}

// Feed pushes every byte of p and returns the completed messages in order,
// followed by a size-flushed message if the remainder reached
// MaxPendingBytes.
func (f *Framer) Feed(p []byte) []Frame {
	var frames []Frame
	for _, b := range p {
		if fr, ok := f.Push(b); ok {
			frames = append(frames, fr)
		}
	}
	if fr, ok := f.FlushIfFull(); ok {
		frames = append(frames, fr)
	}
	return frames
}

// FlushIfFull emits the pending buffer when it has reached MaxPendingBytes.
// The whole buffer goes out as one message, however far past the threshold.
func (f *Framer) FlushIfFull() (Frame, bool) {
	if len(f.buf) < MaxPendingBytes {
		return Frame{}, false
	}
	data := f.take()
	fr := Frame{Data: data, Flushed: true}
	if utf8.Valid(data) {
		s := string(data)
		fr.Text = &s
	}
	return fr, true
}

// Pending returns the number of buffered bytes not yet emitted.
func (f *Framer) Pending() int { return len(f.buf) }

func (f *Framer) take() []byte {
	data := make([]byte, len(f.buf))
	copy(data, f.buf)
	f.buf = f.buf[:0]
	return data
}

func lineFrame(data []byte) Frame {
	fr := Frame{Data: data}
	if utf8.Valid(data) {
		if s := strings.TrimSpace(string(data)); s != "" {
			fr.Text = &s
		}
	}
	return fr
}
