package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/inspection.station/internal/fsutil"
)

// AppDirName is the directory under the user config dir holding station files.
const AppDirName = "inspection-station"

// DefaultFileName is the name of the persisted device document.
const DefaultFileName = "serial_config.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Store persists a DeviceSet.
type Store interface {
	Load() (DeviceSet, error)
	Save(DeviceSet) error
}

// DefaultConfigPath returns <user config dir>/inspection-station/serial_config.json,
// falling back to the working directory when no config dir is known.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		if base, err = os.Getwd(); err != nil {
			base = "."
		}
	}
	return filepath.Join(base, AppDirName, DefaultFileName)
}

// JSONStore keeps the device document as an indented JSON file.
type JSONStore struct {
	path string
	fs   fsutil.FileSystem
}

// NewJSONStore returns a store for the file at path on the real filesystem.
func NewJSONStore(path string) *JSONStore {
	return NewJSONStoreFS(path, fsutil.OSFileSystem{})
}

// NewJSONStoreFS returns a store backed by the given filesystem.
func NewJSONStoreFS(path string, fsys fsutil.FileSystem) *JSONStore {
	return &JSONStore{path: filepath.Clean(path), fs: fsys}
}

// Path returns the file the store reads and writes.
func (s *JSONStore) Path() string { return s.path }

// Load reads and decodes the device document. A missing file is reported as
// an error wrapping fs.ErrNotExist; use LoadOrEmpty when absence is normal.
func (s *JSONStore) Load() (DeviceSet, error) {
	if ext := filepath.Ext(s.path); ext != ".json" {
		return DeviceSet{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := s.fs.Stat(s.path)
	if err != nil {
		return DeviceSet{}, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return DeviceSet{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return DeviceSet{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var set DeviceSet
	if err := json.Unmarshal(data, &set); err != nil {
		return DeviceSet{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return set, nil
}

// LoadOrEmpty returns the stored device set, or an empty one when the file is
// absent or unreadable. Parse failures are logged.
func LoadOrEmpty(s Store) DeviceSet {
	set, err := s.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("serial config unusable, starting with no devices: %v", err)
		}
		return DeviceSet{}
	}
	return set
}

// Save writes the device set, creating parent directories as needed. The
// document is written to a sibling temp file first and renamed into place.
func (s *JSONStore) Save(set DeviceSet) error {
	if set.Devices == nil {
		set.Devices = []DeviceConfig{}
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
