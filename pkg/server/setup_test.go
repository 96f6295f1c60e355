package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinycarbon/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinycarbon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TINYCARBON_CONFIG", "")
	t.Setenv("PORT", "")
	t.Setenv("TINYCARBON_PORT", "")
	t.Setenv("TINYCARBON_DATA_DIR", "")
	t.Setenv("TINYCARBON_INDEX_DIR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, cfg.Port)
	assert.Equal(t, config.DefaultDataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(config.DefaultDataDir, ".index"), cfg.IndexDir)
	assert.Equal(t, config.DefaultCacheMaxSize, cfg.Cache.MaxSize)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
data_dir: /var/lib/tinycarbon
cache:
  max_size: 1000
  strategy: sorted
aggregator:
  flush_interval: 5s
storage_schemas:
  - name: carbon
    pattern: ^carbon\.
    retentions: 60:90d
`)
	t.Setenv("TINYCARBON_CONFIG", path)
	t.Setenv("TINYCARBON_PORT", "")
	t.Setenv("PORT", "")
	t.Setenv("TINYCARBON_INDEX_DIR", "")
	t.Setenv("TINYCARBON_DATA_DIR", "/srv/whisper")
	t.Setenv("TINYCARBON_CACHE_MAX_SIZE", "500")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/srv/whisper", cfg.DataDir)
	assert.Equal(t, filepath.Join("/srv/whisper", ".index"), cfg.IndexDir)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, "sorted", cfg.Cache.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Aggregator.FlushInterval)
	require.Len(t, cfg.StorageSchemas, 1)
	assert.Equal(t, "60:90d", cfg.StorageSchemas[0].Retentions)

	// Unset fields keep their defaults
	assert.Equal(t, config.DefaultMaxUpdatesPerSecond, cfg.Cache.MaxUpdatesPerSecond)
}

func TestLoadConfig_PortFallback(t *testing.T) {
	t.Setenv("TINYCARBON_CONFIG", "")
	t.Setenv("TINYCARBON_PORT", "")
	t.Setenv("PORT", "7070")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", "prot: 8080\n"},
		{"bad duration", "aggregator:\n  flush_interval: soon\n"},
		{"invalid strategy", "cache:\n  strategy: random\n"},
		{"zero cache", "cache:\n  max_size: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TINYCARBON_CONFIG", writeConfig(t, tt.body))
			t.Setenv("TINYCARBON_CACHE_MAX_SIZE", "")
			t.Setenv("TINYCARBON_CACHE_STRATEGY", "")

			_, err := LoadConfig()
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	t.Setenv("TINYCARBON_CONFIG", writeConfig(t, ""))
	t.Setenv("TINYCARBON_PORT", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPort, cfg.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("TINYCARBON_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TINYCARBON_TEST_INT", "42")
	assert.Equal(t, int64(42), getEnvInt64("TINYCARBON_TEST_INT", 7))

	t.Setenv("TINYCARBON_TEST_INT", "many")
	assert.Equal(t, int64(7), getEnvInt64("TINYCARBON_TEST_INT", 7))

	t.Setenv("TINYCARBON_TEST_INT", "")
	assert.Equal(t, int64(7), getEnvInt64("TINYCARBON_TEST_INT", 7))
}
