package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/proj")

	assert.Equal(t, "/proj", cfg.ProjectRoot)
	assert.Equal(t, defaultStorePath, cfg.Store.Path)
	assert.Equal(t, defaultBatchSize, cfg.Store.BatchSize)
	assert.Equal(t, defaultBusyTimeout, cfg.Store.BusyTimeout)
	assert.Equal(t, defaultMaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, defaultMTimeEpsilon, cfg.Detect.MTimeEpsilon)
	assert.False(t, cfg.Logging.Enabled)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "/proj")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig("/proj"), cfg)
}

func TestLoad_PartialOverridesDefaultTheRest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "difftest.yaml")

	yamlContent := `
store:
  batch_size: 50
cache:
  max_entries: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path, "/proj")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Store.BatchSize)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, defaultStorePath, cfg.Store.Path)
	assert.Equal(t, defaultMTimeEpsilon, cfg.Detect.MTimeEpsilon)
}

func TestStorePath_RelativeVsAbsolute(t *testing.T) {
	cfg := DefaultConfig("/proj")
	assert.Equal(t, filepath.Join("/proj", defaultStorePath), cfg.StorePath())

	cfg.Store.Path = "/abs/store.db"
	assert.Equal(t, "/abs/store.db", cfg.StorePath())
}

func TestApplyDefaults_IgnoresZeroDurationOverride(t *testing.T) {
	cfg := &Config{Detect: DetectConfig{MTimeEpsilon: 0}}
	cfg.applyDefaults("/proj")

	assert.Equal(t, time.Millisecond, cfg.Detect.MTimeEpsilon)
}
