package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultPath, c.Store.Path)
	assert.Equal(t, DefaultDataShards, c.Store.DataShards)
	assert.Equal(t, DefaultParityShards, c.Store.ParityShards)
	assert.Equal(t, DefaultLogLevel, c.Log.Level)

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgtx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: /var/lib/pgtx
  dataShards: 6
  parityShards: 3
  compressionLevel: 9
  maxObjectSize: 1048576
log:
  level: debug
  noColor: true
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Store: StoreConfig{
			Path:             "/var/lib/pgtx",
			DataShards:       6,
			ParityShards:     3,
			CompressionLevel: 9,
			MaxObjectSize:    1 << 20,
		},
		Log: LogConfig{Level: "debug", NoColor: true},
	}, c)
}

func TestParse_PartialFile(t *testing.T) {
	c, err := Parse([]byte("store:\n  inMemory: true\n"))
	require.NoError(t, err)
	assert.True(t, c.Store.InMemory)
	assert.Equal(t, DefaultPath, c.Store.Path)
	assert.Equal(t, DefaultLogLevel, c.Log.Level)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("store:\n  bogus: 1\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = Parse([]byte("store: [1, 2"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
