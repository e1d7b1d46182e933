package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octrecon/pkg/reconstruction"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2048, cfg.Acquisition.ALineSize)
	assert.Equal(t, 2200, cfg.Acquisition.LinesPerFrame)
	assert.Equal(t, time.Second, cfg.Acquisition.Timeout)
	assert.Equal(t, 400, cfg.Acquisition.MaxFrames)
	assert.Equal(t, []reconstruction.Oversampling{{RawLines: 2200, TheoreticalLines: 2000}}, cfg.Reconstruction.Oversampling)

	params := cfg.ReconstructionParams()
	assert.Equal(t, 9.0, params.Contrast)
	assert.Equal(t, -57.0, params.Brightness)
	assert.Equal(t, 624, params.ImageDepth)
	assert.Equal(t, 625, params.RadialPadTop)
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveThenLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Acquisition.LinesPerFrame = 2500
	cfg.Acquisition.Timeout = 250 * time.Millisecond
	cfg.Reconstruction.Contrast = 4.5
	cfg.Reconstruction.Oversampling = []reconstruction.Oversampling{{RawLines: 1100, TheoreticalLines: 1000}}
	cfg.Logging.Format = "json"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialFileKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("reconstruction:\n  brightness: -60\nbuffer:\n  capacity: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, -60.0, cfg.Reconstruction.Brightness)
	assert.Equal(t, 5, cfg.Buffer.Capacity)
	assert.Equal(t, 9.0, cfg.Reconstruction.Contrast)
	assert.Equal(t, 2200, cfg.Acquisition.LinesPerFrame)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0644))

	t.Setenv("OCTRECON_LOGGING_LEVEL", "debug")
	t.Setenv("OCTRECON_ACQUISITION_TIMEOUT", "3s")
	t.Setenv("OCTRECON_METRICS_ENABLED", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3*time.Second, cfg.Acquisition.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("acquisition: [unclosed\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"single pool buffer", func(c *Config) { c.Acquisition.PoolSize = 1 }},
		{"zero timeout", func(c *Config) { c.Acquisition.Timeout = 0 }},
		{"depth beyond spectrum", func(c *Config) { c.Reconstruction.ImageDepth = 1026 }},
		{"zero depth", func(c *Config) { c.Reconstruction.ImageDepth = 0 }},
		{"growing oversampling", func(c *Config) {
			c.Reconstruction.Oversampling = []reconstruction.Oversampling{{RawLines: 100, TheoreticalLines: 200}}
		}},
		{"empty ring", func(c *Config) { c.Buffer.Capacity = 0 }},
		{"save without dir", func(c *Config) {
			c.Acquisition.SaveData = true
			c.Acquisition.SaveDir = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics without listen", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.Reconstruction.ImageDepth = 1025
	assert.NoError(t, cfg.Validate())
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "octrecon.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "linesPerFrame: 2200")
	assert.Contains(t, string(data), "timeout: 1s")
}
