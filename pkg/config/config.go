// Package config provides configuration loading and management for createqaplan.
// It reads the per-machine QA phantom settings file and the YAML application
// configuration, and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"createqaplan/pkg/technique"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Settings locates the per-machine QA phantom settings file
	Settings struct {
		// Path of the settings file; relative paths resolve against the
		// working directory
		Path string `yaml:"path"`
	} `yaml:"settings"`

	// Course controls naming of the QA course
	Course struct {
		// Suffix is appended to the "C<n>" prefix of the source course ID
		Suffix string `yaml:"suffix"`

		// Fallback is used when the source course ID carries no "C<n>" prefix
		Fallback string `yaml:"fallback"`
	} `yaml:"course"`

	// Classifier holds the leaf motion calculator vocabulary
	Classifier technique.Phrases `yaml:"classifier"`

	// Output parameters
	Output struct {
		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`

		// ArchiveDir is the badger directory for the run archive; empty disables it
		ArchiveDir string `yaml:"archiveDir"`

		// MetricsFile receives the run counters in Prometheus text format
		MetricsFile string `yaml:"metricsFile"`

		// BEVDir receives beam's-eye-view snapshots of each field; empty disables them
		BEVDir string `yaml:"bevDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Settings.Path = DefaultSettingsFile

	cfg.Course.Suffix = ": QA"
	cfg.Course.Fallback = "QA"

	cfg.Classifier = technique.DefaultPhrases()

	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
