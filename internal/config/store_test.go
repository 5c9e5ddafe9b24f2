package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/inspection.station/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station", DefaultFileName)
	store := NewJSONStore(path)

	set := DeviceSet{Devices: []DeviceConfig{validDevice("scanner_0"), validDevice("light_a")}}
	set.Devices[1].Role = RoleLight
	require.NoError(t, store.Save(set))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestJSONStore_SaveEmptyWritesDevicesArray(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	store := NewJSONStoreFS("/cfg/serial_config.json", mem)

	require.NoError(t, store.Save(DeviceSet{}))

	data, err := mem.ReadFile("/cfg/serial_config.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"devices": []`)

	_, err = mem.Stat("/cfg/serial_config.json.tmp")
	assert.Error(t, err, "temp file should be renamed away")
}

func TestLoadOrEmpty(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.MkdirAll("/cfg", 0o755))

	t.Run("missing file", func(t *testing.T) {
		store := NewJSONStoreFS("/cfg/absent.json", mem)
		_, err := store.Load()
		require.Error(t, err)
		assert.Empty(t, LoadOrEmpty(store).Devices)
	})

	t.Run("corrupt file", func(t *testing.T) {
		require.NoError(t, mem.WriteFile("/cfg/bad.json", []byte("{not json"), 0o644))
		store := NewJSONStoreFS("/cfg/bad.json", mem)
		_, err := store.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
		assert.Empty(t, LoadOrEmpty(store).Devices)
	})

	t.Run("valid file", func(t *testing.T) {
		require.NoError(t, mem.WriteFile("/cfg/ok.json",
			[]byte(`{"devices":[{"device_id":"a","role":"robot","port":"COM1","baud_rate":9600,"data_bits":8,"stop_bits":1,"parity":"Odd","enabled":true}]}`), 0o644))
		set := LoadOrEmpty(NewJSONStoreFS("/cfg/ok.json", mem))
		require.Len(t, set.Devices, 1)
		assert.Equal(t, RoleRobot, set.Devices[0].Role)
	})
}

func TestJSONStore_RejectsNonJSONExtensionAndLargeFiles(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("devices.yaml", []byte("{}"), 0o644))
	_, err := NewJSONStoreFS("devices.yaml", mem).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json")

	big := `{"devices":[]}` + strings.Repeat(" ", maxFileSize)
	require.NoError(t, mem.WriteFile("big.json", []byte(big), 0o644))
	_, err = NewJSONStoreFS("big.json", mem).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	assert.Equal(t, DefaultFileName, filepath.Base(p))
	assert.Equal(t, AppDirName, filepath.Base(filepath.Dir(p)))
}
