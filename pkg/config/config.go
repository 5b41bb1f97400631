// Package config provides configuration loading and management for stackdiff.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"image"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"stackdiff/pkg/alignment"
	"stackdiff/pkg/imageio"
	"stackdiff/pkg/registration"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Alignment parameters
	Alignment struct {
		// BottomCut is the number of rows removed from the bottom of both
		// images before matching, 0 to keep them
		BottomCut int `yaml:"bottomCut"`

		// BottomCutDefault removes the default strip height when BottomCut
		// is 0
		BottomCutDefault bool `yaml:"bottomCutDefault"`

		// NudgeX and NudgeY shift the crop window of the bottom image
		NudgeX int `yaml:"nudgeX"`
		NudgeY int `yaml:"nudgeY"`
	} `yaml:"alignment"`

	// Template matching parameters
	Matching struct {
		// Method is ccoeff_normed or ccorr_normed
		Method string `yaml:"method"`

		// Strategy is direct or fft
		Strategy string `yaml:"strategy"`

		// MinConfidence rejects matches below this correlation, 0 disables
		MinConfidence float64 `yaml:"minConfidence"`

		// NumCores specifies how many CPU cores to use for correlation
		NumCores int `yaml:"numCores"`
	} `yaml:"matching"`

	// Output parameters
	Output struct {
		// Dir receives the aligned images; empty writes next to the inputs
		Dir string `yaml:"dir"`

		// JPEGQuality is used for JPEG outputs, 1 to 100
		JPEGQuality int `yaml:"jpegQuality"`

		// SaveDiff writes the difference map of a single pair. Batch runs
		// always write one map per pair.
		SaveDiff bool `yaml:"saveDiff"`

		// PanelsDir receives the side-by-side panels when set
		PanelsDir string `yaml:"panelsDir"`

		// Verbosity controls the level of logging output
		Verbosity int `yaml:"verbosity"`
	} `yaml:"output"`

	// Debug parameters
	Debug struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is the directory where intermediary results are saved
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"debug"`

	// Batch parameters
	Batch struct {
		// Workers is the number of image pairs processed concurrently
		Workers int `yaml:"workers"`
	} `yaml:"batch"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default alignment parameters
	cfg.Alignment.BottomCut = 0
	cfg.Alignment.BottomCutDefault = false
	cfg.Alignment.NudgeX = 0
	cfg.Alignment.NudgeY = 0

	// Set default matching parameters
	cfg.Matching.Method = registration.MethodCCoeffNormed.String()
	cfg.Matching.Strategy = registration.StrategyDirect.String()
	cfg.Matching.MinConfidence = registration.DefaultMinConfidence
	cfg.Matching.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Dir = ""
	cfg.Output.JPEGQuality = imageio.DefaultJPEGQuality
	cfg.Output.SaveDiff = true
	cfg.Output.PanelsDir = ""
	cfg.Output.Verbosity = 0

	// Set default debug parameters
	cfg.Debug.SaveIntermediaryResults = false
	cfg.Debug.IntermediaryDir = "intermediary_results"

	cfg.Batch.Workers = 1

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, xerrors.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerrors.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return xerrors.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return xerrors.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if c.Alignment.BottomCut < 0 {
		return xerrors.Errorf("alignment.bottomCut must not be negative, got %d", c.Alignment.BottomCut)
	}
	if _, err := registration.ParseMethod(c.Matching.Method); err != nil {
		return xerrors.Errorf("matching.method: %w", err)
	}
	if _, err := registration.ParseStrategy(c.Matching.Strategy); err != nil {
		return xerrors.Errorf("matching.strategy: %w", err)
	}
	if c.Matching.MinConfidence > 1 {
		return xerrors.Errorf("matching.minConfidence must be at most 1, got %g", c.Matching.MinConfidence)
	}
	if c.Matching.NumCores < 0 {
		return xerrors.Errorf("matching.numCores must not be negative, got %d", c.Matching.NumCores)
	}
	if q := c.Output.JPEGQuality; q < 1 || q > 100 {
		return xerrors.Errorf("output.jpegQuality must be between 1 and 100, got %d", q)
	}
	if c.Debug.SaveIntermediaryResults && c.Debug.IntermediaryDir == "" {
		return xerrors.New("debug.intermediaryDir is required when saveIntermediaryResults is set")
	}
	if c.Batch.Workers < 0 {
		return xerrors.Errorf("batch.workers must not be negative, got %d", c.Batch.Workers)
	}
	return nil
}

// Options converts the configuration into alignment options. The debug
// sink and logger are left for the caller to attach.
func (c *Config) Options() (alignment.Options, error) {
	if err := c.Validate(); err != nil {
		return alignment.Options{}, err
	}
	method, _ := registration.ParseMethod(c.Matching.Method)
	strategy, _ := registration.ParseStrategy(c.Matching.Strategy)

	opts := alignment.DefaultOptions()
	opts.BottomCut = c.Alignment.BottomCut
	if opts.BottomCut == 0 && c.Alignment.BottomCutDefault {
		opts.BottomCut = alignment.DefaultBottomCut
	}
	opts.Nudge = image.Pt(c.Alignment.NudgeX, c.Alignment.NudgeY)
	opts.Method = method
	opts.Strategy = strategy
	opts.MinConfidence = c.Matching.MinConfidence
	opts.Workers = c.Matching.NumCores
	opts.JPEGQuality = c.Output.JPEGQuality
	return opts, nil
}
