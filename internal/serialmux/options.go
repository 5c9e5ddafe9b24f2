package serialmux

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/inspection.station/internal/config"
)

// PortOptions describes the serial connection parameters used when opening a
// port. The JSON names mirror the device document.
type PortOptions struct {
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"-"`
}

// OptionsFor returns the port options for a configured device.
func OptionsFor(d config.DeviceConfig) PortOptions {
	return PortOptions{
		BaudRate:    int(d.BaudRate),
		DataBits:    int(d.DataBits),
		StopBits:    int(d.StopBits),
		Parity:      d.Parity,
		ReadTimeout: ReadTimeout,
	}
}

// Normalise validates the options and canonicalises parity to N, E or O.
// Unrecognised parity strings are treated as no parity, matching how the
// settings document has always been interpreted.
func (o PortOptions) Normalise() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		opts.Parity = "N"
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = ReadTimeout
	}
	return opts, nil
}

// SerialMode converts the options into the serial.Mode required by
// go.bug.st/serial. Hardware flow control is never enabled.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
