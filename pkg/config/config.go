// Package config provides configuration loading and management for octrecon.
// It handles loading configuration from YAML files with environment overrides
// and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"octrecon/internal/logging"
	"octrecon/internal/models"
	"octrecon/pkg/reconstruction"
)

// EnvPrefix prefixes environment overrides, e.g. OCTRECON_LOGGING_LEVEL.
const EnvPrefix = "OCTRECON"

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Acquisition parameters
	Acquisition struct {
		// ALineSize is the number of samples the digitizer records per A-line.
		ALineSize int `yaml:"aLineSize" mapstructure:"aLineSize"`

		// LinesPerFrame is the number of A-lines per buffer, one frame per buffer.
		LinesPerFrame int `yaml:"linesPerFrame" mapstructure:"linesPerFrame"`

		// PoolSize is the number of DMA buffers cycling through the board.
		PoolSize int `yaml:"poolSize" mapstructure:"poolSize"`

		// Timeout bounds the wait for one buffer.
		Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

		// MaxFrames stops the acquisition after this many frames.
		MaxFrames int `yaml:"maxFrames" mapstructure:"maxFrames"`

		// SaveData writes every raw buffer to a capture file in SaveDir.
		SaveData bool   `yaml:"saveData" mapstructure:"saveData"`
		SaveDir  string `yaml:"saveDir" mapstructure:"saveDir"`
	} `yaml:"acquisition" mapstructure:"acquisition"`

	// Reconstruction parameters
	Reconstruction struct {
		Contrast     float64 `yaml:"contrast" mapstructure:"contrast"`
		Brightness   float64 `yaml:"brightness" mapstructure:"brightness"`
		ImageDepth   int     `yaml:"imageDepth" mapstructure:"imageDepth"`
		RadialPadTop int     `yaml:"radialPadTop" mapstructure:"radialPadTop"`

		// Workers bounds the per-line parallelism, 0 uses every core.
		Workers int `yaml:"workers" mapstructure:"workers"`

		// RadialView renders the polar view of every frame.
		RadialView bool `yaml:"radialView" mapstructure:"radialView"`

		// Oversampling lists the A-line counts that are cropped and resized.
		Oversampling []reconstruction.Oversampling `yaml:"oversampling" mapstructure:"oversampling"`
	} `yaml:"reconstruction" mapstructure:"reconstruction"`

	// Buffer is the hand-off ring between acquisition and reconstruction
	Buffer struct {
		Capacity int `yaml:"capacity" mapstructure:"capacity"`
	} `yaml:"buffer" mapstructure:"buffer"`

	// Calibration source
	Calibration struct {
		// Dir holds SSOCTBackground.txt and SSOCTCalibration180MHZ.txt.
		Dir string `yaml:"dir" mapstructure:"dir"`
	} `yaml:"calibration" mapstructure:"calibration"`

	// Output parameters
	Output struct {
		// Dir receives the PNG frames.
		Dir string `yaml:"dir" mapstructure:"dir"`

		// SaveFrames enables writing PNG frames.
		SaveFrames bool `yaml:"saveFrames" mapstructure:"saveFrames"`
	} `yaml:"output" mapstructure:"output"`

	// Simulator parameters for running without hardware
	Simulator struct {
		FringeCycles  float64       `yaml:"fringeCycles" mapstructure:"fringeCycles"`
		Noise         float64       `yaml:"noise" mapstructure:"noise"`
		DriftPerFrame int           `yaml:"driftPerFrame" mapstructure:"driftPerFrame"`
		FrameInterval time.Duration `yaml:"frameInterval" mapstructure:"frameInterval"`
	} `yaml:"simulator" mapstructure:"simulator"`

	Logging struct {
		Level  string `yaml:"level" mapstructure:"level"`
		Format string `yaml:"format" mapstructure:"format"`
	} `yaml:"logging" mapstructure:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Listen  string `yaml:"listen" mapstructure:"listen"`
	} `yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default acquisition parameters
	cfg.Acquisition.ALineSize = models.DefaultALineSize
	cfg.Acquisition.LinesPerFrame = 2200
	cfg.Acquisition.PoolSize = 4
	cfg.Acquisition.Timeout = time.Second
	cfg.Acquisition.MaxFrames = 400
	cfg.Acquisition.SaveData = false
	cfg.Acquisition.SaveDir = "data"

	// Set default reconstruction parameters
	params := models.DefaultReconstructionParams()
	cfg.Reconstruction.Contrast = params.Contrast
	cfg.Reconstruction.Brightness = params.Brightness
	cfg.Reconstruction.ImageDepth = params.ImageDepth
	cfg.Reconstruction.RadialPadTop = params.RadialPadTop
	cfg.Reconstruction.Workers = 0
	cfg.Reconstruction.RadialView = true
	cfg.Reconstruction.Oversampling = reconstruction.DefaultOversampling()

	cfg.Buffer.Capacity = 3

	cfg.Calibration.Dir = "calib"

	cfg.Output.Dir = "frames"
	cfg.Output.SaveFrames = true

	cfg.Simulator.FringeCycles = float64(models.DefaultALineSize) / 8
	cfg.Simulator.Noise = 20
	cfg.Simulator.DriftPerFrame = 3
	cfg.Simulator.FrameInterval = 20 * time.Millisecond

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Metrics.Enabled = false
	cfg.Metrics.Listen = ":9090"

	return cfg
}

// ReconstructionParams returns the reconstruction section as engine parameters.
func (c *Config) ReconstructionParams() models.ReconstructionParams {
	return models.ReconstructionParams{
		Contrast:     c.Reconstruction.Contrast,
		Brightness:   c.Reconstruction.Brightness,
		ImageDepth:   c.Reconstruction.ImageDepth,
		RadialPadTop: c.Reconstruction.RadialPadTop,
		Workers:      c.Reconstruction.Workers,
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	a := c.Acquisition
	if a.ALineSize < 2 {
		errs = append(errs, fmt.Errorf("acquisition.aLineSize must be at least 2, got %d", a.ALineSize))
	}
	if a.LinesPerFrame < 1 {
		errs = append(errs, fmt.Errorf("acquisition.linesPerFrame must be positive, got %d", a.LinesPerFrame))
	}
	if a.PoolSize < 2 {
		errs = append(errs, fmt.Errorf("acquisition.poolSize must be at least 2, got %d", a.PoolSize))
	}
	if a.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("acquisition.timeout must be positive, got %v", a.Timeout))
	}
	if a.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("acquisition.maxFrames must not be negative, got %d", a.MaxFrames))
	}
	if a.SaveData && a.SaveDir == "" {
		errs = append(errs, errors.New("acquisition.saveDir is required when saveData is set"))
	}

	r := c.Reconstruction
	if maxDepth := models.MaxImageDepth(a.ALineSize); r.ImageDepth < 1 || r.ImageDepth > maxDepth {
		errs = append(errs, fmt.Errorf("reconstruction.imageDepth must be in [1, %d], got %d", maxDepth, r.ImageDepth))
	}
	if r.RadialPadTop < 0 {
		errs = append(errs, fmt.Errorf("reconstruction.radialPadTop must not be negative, got %d", r.RadialPadTop))
	}
	if r.Workers < 0 {
		errs = append(errs, fmt.Errorf("reconstruction.workers must not be negative, got %d", r.Workers))
	}
	for _, o := range r.Oversampling {
		if o.TheoreticalLines < 1 || o.TheoreticalLines >= o.RawLines {
			errs = append(errs, fmt.Errorf("reconstruction.oversampling entry %d -> %d must shrink the frame", o.RawLines, o.TheoreticalLines))
		}
	}

	if c.Buffer.Capacity < 1 {
		errs = append(errs, fmt.Errorf("buffer.capacity must be at least 1, got %d", c.Buffer.Capacity))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file and OCTRECON_* environment
// variables on top of the defaults. A missing file is not an error; an empty
// path loads defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seed viper with every key so environment overrides apply to all of them
	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("error marshaling defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("error reading defaults: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
