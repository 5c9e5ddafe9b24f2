package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/fsutil"
	"github.com/banshee-data/inspection.station/internal/serialmux"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.False(t, *devMode)
	assert.Empty(t, *dbPath)
	assert.Equal(t, config.DefaultConfigPath(), *configPath)
	assert.Equal(t, "fixtures.txt", *fixture)
	assert.Equal(t, time.Second, *replayEvery)
	assert.False(t, *showVersion)
}

func TestFixtureLine(t *testing.T) {
	dir := t.TempDir()

	got, err := fixtureLine(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Equal(t, defaultFixtureLine, got)

	path := filepath.Join(dir, "fixtures.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  SN-4711  \nSN-4712\n"), 0o644))
	got, err = fixtureLine(path)
	require.NoError(t, err)
	assert.Equal(t, "SN-4711", got)

	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte("\n\n"), 0o644))
	got, err = fixtureLine(blank)
	require.NoError(t, err)
	assert.Equal(t, defaultFixtureLine, got)
}

func TestPortOpener(t *testing.T) {
	hw, err := portOpener(false, "", 0)
	require.NoError(t, err)
	assert.NotNil(t, hw)

	dev, err := portOpener(true, filepath.Join(t.TempDir(), "none.txt"), 5*time.Millisecond)
	require.NoError(t, err)

	port, err := dev("SIM0", serialmux.PortOptions{ReadTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer port.Close()

	buf := make([]byte, 64)
	require.Eventually(t, func() bool {
		n, _ := port.Read(buf)
		return n > 0 && strings.HasPrefix(string(buf[:n]), defaultFixtureLine+"\r\n")
	}, time.Second, time.Millisecond)
}

func TestStartupSet(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	store := config.NewJSONStoreFS("/cfg/serial_config.json", fsys)

	assert.Empty(t, startupSet(store).Devices)

	valid := config.DeviceSet{Devices: []config.DeviceConfig{{
		DeviceID: "scanner", Name: "Scanner", Role: config.RoleScanner, Port: "COM3",
		BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: config.ParityNone, Enabled: true,
	}}}
	require.NoError(t, store.Save(valid))
	assert.Equal(t, valid, startupSet(store))

	invalid := valid
	invalid.Devices = []config.DeviceConfig{valid.Devices[0]}
	invalid.Devices[0].StopBits = 3
	require.NoError(t, store.Save(invalid))
	assert.Empty(t, startupSet(store).Devices)
}
