// Package config loads the driver configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "5s" style values.
type Duration time.Duration

// UnmarshalYAML parses a duration string like "5s" or "1m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	LogLevel  string          `yaml:"log_level"`
}

// DeviceConfig identifies and bounds the BLE session.
type DeviceConfig struct {
	NamePrefix     string   `yaml:"name_prefix"`
	Address        string   `yaml:"address"` // optional; skips discovery
	ScanTimeout    Duration `yaml:"scan_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SmoothingConfig selects the flow-rate filter.
type SmoothingConfig struct {
	Filter string `yaml:"filter"` // "median" or "mean"
	Window int    `yaml:"window"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bookoo-scale")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePrefix:     "bookoo",
			ScanTimeout:    Duration(10 * time.Second),
			ConnectTimeout: Duration(10 * time.Second),
		},
		Smoothing: SmoothingConfig{
			Filter: "median",
			Window: 7,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" && c.Device.Address == "" {
		return fmt.Errorf("device.name_prefix or device.address must be set")
	}

	if c.Device.ScanTimeout <= 0 {
		return fmt.Errorf("device.scan_timeout must be > 0")
	}

	if c.Device.ConnectTimeout <= 0 {
		return fmt.Errorf("device.connect_timeout must be > 0")
	}

	switch c.Smoothing.Filter {
	case "median", "mean":
	default:
		return fmt.Errorf("smoothing.filter must be \"median\" or \"mean\", got %q", c.Smoothing.Filter)
	}

	if c.Smoothing.Window <= 0 {
		return fmt.Errorf("smoothing.window must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}
