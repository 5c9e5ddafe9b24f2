package serialmux

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/inspection.station/internal/config"
)

// Event names as seen by subscribers.
const (
	EventData   = "serial:data"
	EventError  = "serial:error"
	EventStatus = "serial:status"
)

// Event is one notification from a device loop. Payload is a DataPayload,
// ErrorPayload or StatusPayload matching Name.
type Event struct {
	Name    string
	Payload interface{}
}

// DeviceID returns the id of the device the event belongs to.
func (e Event) DeviceID() string {
	switch p := e.Payload.(type) {
	case DataPayload:
		return p.DeviceID
	case ErrorPayload:
		return p.DeviceID
	case StatusPayload:
		return p.DeviceID
	}
	return ""
}

// DataPayload carries one framed message.
type DataPayload struct {
	DeviceID    string      `json:"device_id"`
	Role        config.Role `json:"role"`
	Port        string      `json:"port"`
	Data        ByteArray   `json:"data"`
	DataStr     *string     `json:"data_str"`
	TimestampMs uint64      `json:"timestamp_ms"`
}

// ErrorPayload reports a failed open or a read error that ended a device loop.
type ErrorPayload struct {
	DeviceID    string `json:"device_id"`
	Port        string `json:"port"`
	Error       string `json:"error"`
	TimestampMs uint64 `json:"timestamp_ms"`
}

// StatusPayload reports a device connecting or dropping.
type StatusPayload struct {
	DeviceID    string `json:"device_id"`
	Port        string `json:"port"`
	Connected   bool   `json:"connected"`
	TimestampMs uint64 `json:"timestamp_ms"`
}

// Sink receives device events. Each device loop calls Emit from its own
// goroutine, so implementations must be safe for concurrent use. Emit should
// not block for long: a slow sink stalls the device that is emitting.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// ByteArray is raw bytes that encode as a JSON array of numbers. It decodes
// either that form or a base64 string.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 byte string: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("byte array must be numbers or base64: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value %d at index %d out of range", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
