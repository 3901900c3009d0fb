package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "bolt", cfg.KVIndex.MetadataBackend)
	assert.NotZero(t, cfg.Container.Size)
}

func TestLoad_ParsesFileAndAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: debug
  format: json
storage:
  dir: ` + filepath.ToSlash(tmpDir) + `
container:
  size: 1048576
shutdown_timeout: 5s
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, uint32(1048576), cfg.Container.Size)
	// untouched sections still receive defaults
	assert.Equal(t, "badger", cfg.KVIndex.ChunkIndexBackend)
	assert.Equal(t, 4, cfg.Cache.WriteCacheContainers)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KVIndex.MetadataBackend = "mongodb"
	require.Error(t, Validate(cfg))
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Logging.Level = "WARN"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", loaded.Logging.Level)
}
