package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is a device's declared purpose on the workstation. It is carried in
// data events so downstream consumers can route messages; the serial layer
// treats every role the same way.
type Role string

const (
	RoleScanner Role = "scanner"
	RolePlc     Role = "plc"
	RoleLight   Role = "light"
	RoleRobot   Role = "robot"
	RoleCamera  Role = "camera"
)

// UnmarshalJSON accepts the camelCase role names written by the settings UI
// and is lenient about case so hand-edited files still load.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleScanner:
		*r = RoleScanner
	case RolePlc:
		*r = RolePlc
	case RoleLight:
		*r = RoleLight
	case RoleRobot:
		*r = RoleRobot
	case RoleCamera:
		*r = RoleCamera
	default:
		return fmt.Errorf("unknown device role %q", s)
	}
	return nil
}

// Parity values as stored in the device document.
const (
	ParityNone = "None"
	ParityOdd  = "Odd"
	ParityEven = "Even"
)

// DeviceConfig describes one serial device: its identity, wiring and role.
// A runner receives its own copy, so changing a device means restarting it.
type DeviceConfig struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Port     string `json:"port"`
	BaudRate uint32 `json:"baud_rate"`
	DataBits uint8  `json:"data_bits"`
	StopBits uint8  `json:"stop_bits"`
	Parity   string `json:"parity"`
	Enabled  bool   `json:"enabled"`
}

// DeviceSet is the ordered collection of configured devices.
type DeviceSet struct {
	Devices []DeviceConfig `json:"devices"`
}

// Find returns the device with the given id.
func (s DeviceSet) Find(deviceID string) (DeviceConfig, bool) {
	for _, d := range s.Devices {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Enabled returns the enabled devices in configuration order.
func (s DeviceSet) Enabled() []DeviceConfig {
	var out []DeviceConfig
	for _, d := range s.Devices {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

var (
	ErrEmptyDeviceID     = errors.New("device_id must not be empty")
	ErrEmptyPort         = errors.New("port must not be empty")
	ErrZeroBaudRate      = errors.New("baud_rate must not be 0")
	ErrInvalidDataBits   = errors.New("data_bits must be 5, 6, 7 or 8")
	ErrInvalidStopBits   = errors.New("stop_bits must be 1 or 2")
	ErrDuplicateDeviceID = errors.New("device_id must be unique")
)

// ValidationError names the device that failed validation. Kind is one of the
// Err* sentinels above and can be matched with errors.Is.
type ValidationError struct {
	Kind   error
	Device string
}

func (e *ValidationError) Error() string {
	if e.Device == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("device %s: %v", e.Device, e.Kind)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Validate checks every device in order and reports the first one that
// breaks a field constraint or repeats an earlier device_id. It performs no
// I/O.
func Validate(set DeviceSet) error {
	seen := make(map[string]struct{}, len(set.Devices))
	for _, d := range set.Devices {
		if err := validateDevice(d); err != nil {
			return err
		}
		if _, dup := seen[d.DeviceID]; dup {
			return &ValidationError{Kind: ErrDuplicateDeviceID, Device: d.DeviceID}
		}
		seen[d.DeviceID] = struct{}{}
	}
	return nil
}

func validateDevice(d DeviceConfig) error {
	switch {
	case d.DeviceID == "":
		return &ValidationError{Kind: ErrEmptyDeviceID}
	case d.Port == "":
		return &ValidationError{Kind: ErrEmptyPort, Device: d.Name}
	case d.BaudRate == 0:
		return &ValidationError{Kind: ErrZeroBaudRate, Device: d.Name}
	case d.DataBits < 5 || d.DataBits > 8:
		return &ValidationError{Kind: ErrInvalidDataBits, Device: d.Name}
	case d.StopBits != 1 && d.StopBits != 2:
		return &ValidationError{Kind: ErrInvalidStopBits, Device: d.Name}
	}
	return nil
}
