package serialmux

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/inspection.station/internal/config"
)

func TestOptionsFor(t *testing.T) {
	dev := config.DeviceConfig{
		DeviceID: "plc-1",
		Port:     "/dev/ttyUSB0",
		BaudRate: 115200,
		DataBits: 7,
		StopBits: 2,
		Parity:   config.ParityEven,
	}
	want := PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "Even", ReadTimeout: ReadTimeout}
	if diff := cmp.Diff(want, OptionsFor(dev)); diff != "" {
		t.Errorf("OptionsFor() mismatch (-want +got):\n%s", diff)
	}
}

func TestPortOptions_Normalise_Parity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"None", "N"},
		{"", "N"},
		{"n", "N"},
		{"Even", "E"},
		{"e", "E"},
		{" EVEN ", "E"},
		{"Odd", "O"},
		{"o", "O"},
		{"Mark", "N"},
		{"garbage", "N"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: tt.in}.Normalise()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Parity)
		})
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"zero baud", PortOptions{DataBits: 8, StopBits: 1}},
		{"negative baud", PortOptions{BaudRate: -1, DataBits: 8, StopBits: 1}},
		{"data bits 4", PortOptions{BaudRate: 9600, DataBits: 4, StopBits: 1}},
		{"data bits 9", PortOptions{BaudRate: 9600, DataBits: 9, StopBits: 1}},
		{"stop bits 0", PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 0}},
		{"stop bits 3", PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Normalise()
			assert.Error(t, err)
		})
	}
}

func TestPortOptions_Normalise_DefaultsReadTimeout(t *testing.T) {
	got, err := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1}.Normalise()
	require.NoError(t, err)
	assert.Equal(t, ReadTimeout, got.ReadTimeout)
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
		want serial.Mode
	}{
		{
			name: "8N1",
			opts: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "None"},
			want: serial.Mode{BaudRate: 9600, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity},
		},
		{
			name: "7E2",
			opts: PortOptions{BaudRate: 19200, DataBits: 7, StopBits: 2, Parity: "Even"},
			want: serial.Mode{BaudRate: 19200, DataBits: 7, StopBits: serial.TwoStopBits, Parity: serial.EvenParity},
		},
		{
			name: "8O1",
			opts: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "Odd"},
			want: serial.Mode{BaudRate: 115200, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.OddParity},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.SerialMode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestPortOptions_SerialMode_Invalid(t *testing.T) {
	_, err := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 3}.SerialMode()
	assert.Error(t, err)
}

func TestOpenSerialPort_RejectsInvalidOptions(t *testing.T) {
	_, err := OpenSerialPort("/dev/does-not-matter", PortOptions{})
	assert.Error(t, err)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(ErrReadTimeout))
	assert.True(t, isTimeout(timeoutErr{}))
	assert.False(t, isTimeout(ErrPortClosed))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
