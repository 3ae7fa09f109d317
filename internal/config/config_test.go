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
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:11434", cfg.Host)
	assert.Equal(t, 3, cfg.Runs)
	assert.Equal(t, 1, cfg.Cycles)
	assert.Equal(t, "both", cfg.TestMode)
	assert.Equal(t, time.Second, cfg.Sleep)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	content := `
host: http://bench-box:11434
model: qwen2.5:7b
ctx: "2048,8192"
runs: 5
warmup: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://bench-box:11434", cfg.Host)
	assert.Equal(t, "qwen2.5:7b", cfg.Model)
	assert.Equal(t, "2048,8192", cfg.Contexts)
	assert.Equal(t, 5, cfg.Runs)
	assert.True(t, cfg.Warmup)

	// Untouched fields keep their defaults.
	assert.Equal(t, "128,256", cfg.NumPredicts)
	assert.Equal(t, 1, cfg.Cycles)
	assert.Equal(t, time.Second, cfg.Sleep)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
