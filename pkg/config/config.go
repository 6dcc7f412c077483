// Package config handles workspace configuration for browser-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/browser-runner/pkg/core"
	"github.com/devicelab-dev/browser-runner/pkg/logger"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	// Browser settings
	Browser       string   `yaml:"browser"`      // chrome, firefox, edge
	Backend       string   `yaml:"backend"`      // webdriver, playwright, cdp
	WebDriverURL  string   `yaml:"webdriverUrl"` // Remote end for the webdriver backend
	DriverBinary  string   `yaml:"driverBinary"` // Local chromedriver/geckodriver to start
	BaseURL       string   `yaml:"baseUrl"`      // Opened after launch; relative flow URLs resolve against it
	Headless      bool     `yaml:"headless"`
	ClickStrategy string   `yaml:"clickStrategy"` // native or script
	Timeouts      Timeouts `yaml:"timeouts"`

	// Flow selection
	Flows       []string `yaml:"flows"`       // Glob patterns for flows
	IncludeTags []string `yaml:"includeTags"` // Tags to include
	ExcludeTags []string `yaml:"excludeTags"` // Tags to exclude

	// Execution settings
	Env       map[string]string    `yaml:"env"` // Environment variables
	Artifacts *core.ArtifactConfig `yaml:"artifacts"`

	Log LogConfig `yaml:"log"`
}

// Timeouts are written as Go durations ("30s", "500ms").
type Timeouts struct {
	Long  time.Duration `yaml:"long"`  // Element waits and implicit wait
	Short time.Duration `yaml:"short"` // Absence checks
}

// LogConfig configures the rotated log file.
type LogConfig struct {
	File       string `yaml:"file"`  // Defaults to <home>/logs/browser-runner.log
	Level      string `yaml:"level"` // debug, info, warn, error
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Options converts the section to logger options. An empty file falls
// back to the default log path.
func (l LogConfig) Options(verbose bool) logger.Options {
	file := l.File
	if file == "" {
		file = DefaultLogFile()
	}
	return logger.Options{
		File:       file,
		Verbose:    verbose,
		Level:      l.Level,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// ArtifactConfig returns the configured artifact policy, or the defaults.
func (c *Config) ArtifactConfig() core.ArtifactConfig {
	if c.Artifacts == nil {
		return core.DefaultArtifactConfig()
	}
	return *c.Artifacts
}

// Validate checks values that cannot be fixed up later.
func (c *Config) Validate() error {
	if _, err := core.ParseClickStrategy(c.ClickStrategy); err != nil {
		return err
	}
	if c.Timeouts.Long < 0 || c.Timeouts.Short < 0 {
		return core.ErrInvalidConfig.WithMessage("timeouts must not be negative")
	}
	return nil
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found, return empty config
	return &Config{}, nil
}
