// Package config provides configuration loading and management for
// fmrireg. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// MaxIterations bounds the outer iterations of each
		// optimization phase
		MaxIterations int `yaml:"maxIterations"`

		// Mode selects the search: rigid, translation, or rotation
		Mode string `yaml:"mode"`

		// TranslationBins is the joint-histogram resolution for the
		// translation search phase
		TranslationBins int `yaml:"translationBins"`

		// RotationBins is the coarser joint-histogram resolution for
		// the rotation search phase
		RotationBins int `yaml:"rotationBins"`

		// SimplexSize scales the optimizer's initial simplex
		SimplexSize float64 `yaml:"simplexSize"`
	} `yaml:"registration"`

	// Skull-stripping parameters for the external BET tool
	SkullStrip struct {
		// Enabled runs brain extraction on both inputs before
		// registration
		Enabled bool `yaml:"enabled"`

		// BetPath is the bet executable to invoke
		BetPath string `yaml:"betPath"`

		// FractionalIntensity is BET's intensity threshold (-f)
		FractionalIntensity float64 `yaml:"fractionalIntensity"`

		// VerticalGradient is BET's vertical gradient (-g)
		VerticalGradient float64 `yaml:"verticalGradient"`

		// ReduceBias enables BET's bias field reduction (-B)
		ReduceBias bool `yaml:"reduceBias"`
	} `yaml:"skullStrip"`

	// Segmentation parameters for tissue clustering
	Segmentation struct {
		// Classes is the number of intensity clusters
		Classes int `yaml:"classes"`

		// MaxIterations bounds the k-means refinement loop
		MaxIterations int `yaml:"maxIterations"`

		// InitScale scales the random initial cluster centers
		InitScale float64 `yaml:"initScale"`

		// Seed fixes the random center initialization for
		// reproducible labelings
		Seed int64 `yaml:"seed"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// Verbose controls the level of progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.MaxIterations = 100
	cfg.Registration.Mode = "rigid"
	cfg.Registration.TranslationBins = 64
	cfg.Registration.RotationBins = 32
	cfg.Registration.SimplexSize = 1.0

	// Set default skull-strip parameters (the standard BET invocation
	// for structural images)
	cfg.SkullStrip.Enabled = false
	cfg.SkullStrip.BetPath = "bet"
	cfg.SkullStrip.FractionalIntensity = 0.3
	cfg.SkullStrip.VerticalGradient = 0.05
	cfg.SkullStrip.ReduceBias = true

	// Set default segmentation parameters
	cfg.Segmentation.Classes = 4
	cfg.Segmentation.MaxIterations = 100
	cfg.Segmentation.InitScale = 50
	cfg.Segmentation.Seed = 1

	// Set default output parameters
	cfg.Output.Verbose = true

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
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
