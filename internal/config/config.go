// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of macos-security-libs.
//
// macos-security-libs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRUSTSUITE_"

// Config represents the complete suite configuration
type Config struct {
	Runner  RunnerConfig  `yaml:"runner"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RunnerConfig controls which tests run and how results are written
type RunnerConfig struct {
	// Platform names a profile (macos, ios, watchos, ...). Empty means the
	// platform the binary was built for.
	Platform string `yaml:"platform"`

	// Filter holds glob patterns; when set only matching tests run.
	Filter []string `yaml:"filter"`

	IncludeDisabled bool          `yaml:"include_disabled"`
	Workers         int           `yaml:"workers"`
	Timeout         time.Duration `yaml:"timeout"` // per test, 0 = none
	Format          string        `yaml:"format"`  // tap, text, json, table
	Output          string        `yaml:"output"`  // file path, empty = stdout
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics endpoint served during a run
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Listen  string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Workers: 1,
			Timeout: 5 * time.Minute,
			Format:  "tap",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path:   "/metrics",
			Listen: "127.0.0.1:9090",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Runner
	if p := os.Getenv(EnvPrefix + "PLATFORM"); p != "" {
		cfg.Runner.Platform = p
	}
	if filter := os.Getenv(EnvPrefix + "FILTER"); filter != "" {
		cfg.Runner.Filter = splitList(filter)
	}
	if include := os.Getenv(EnvPrefix + "INCLUDE_DISABLED"); include != "" {
		b, err := strconv.ParseBool(include)
		if err != nil {
			log.Printf("Warning: invalid %sINCLUDE_DISABLED value %q, using %t: %v",
				EnvPrefix, include, cfg.Runner.IncludeDisabled, err)
		} else {
			cfg.Runner.IncludeDisabled = b
		}
	}
	if workers := os.Getenv(EnvPrefix + "WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n < 1 {
			log.Printf("Warning: invalid %sWORKERS value %q, using %d", EnvPrefix, workers, cfg.Runner.Workers)
		} else {
			cfg.Runner.Workers = n
		}
	}
	if timeout := os.Getenv(EnvPrefix + "TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			log.Printf("Warning: invalid %sTIMEOUT value %q, using %s: %v",
				EnvPrefix, timeout, cfg.Runner.Timeout, err)
		} else {
			cfg.Runner.Timeout = d
		}
	}
	if format := os.Getenv(EnvPrefix + "FORMAT"); format != "" {
		cfg.Runner.Format = format
	}
	if output := os.Getenv(EnvPrefix + "OUTPUT"); output != "" {
		cfg.Runner.Output = output
	}

	// Logging
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Metrics
	if enabled := os.Getenv(EnvPrefix + "METRICS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			log.Printf("Warning: invalid %sMETRICS_ENABLED value %q, using %t: %v",
				EnvPrefix, enabled, cfg.Metrics.Enabled, err)
		} else {
			cfg.Metrics.Enabled = b
		}
	}
	if listen := os.Getenv(EnvPrefix + "METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = listen
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Runner.Platform != "" {
		if _, err := platform.Lookup(c.Runner.Platform); err != nil {
			return err
		}
	}
	for _, p := range c.Runner.Filter {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid filter pattern %q: %w", p, err)
		}
	}
	if c.Runner.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Runner.Workers)
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %s", c.Runner.Timeout)
	}
	if !ValidFormat(c.Runner.Format) {
		return fmt.Errorf("invalid output format: %s (must be tap, text, json, or table)", c.Runner.Format)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return errors.New("metrics listen address is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
		}
	}
	return nil
}

// ValidFormat reports whether format is a supported report format.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case "tap", "text", "json", "table":
		return true
	}
	return false
}

// ResolvePlatform returns the configured platform profile, or the build
// platform when none is set.
func (c *Config) ResolvePlatform() (platform.Platform, error) {
	if c.Runner.Platform == "" {
		return platform.Current(), nil
	}
	return platform.Lookup(c.Runner.Platform)
}

// NewLogger builds the logger described by the logging section, writing to w.
func (c *Config) NewLogger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewSlogAdapter(&logging.SlogConfig{
		Level:  level,
		Format: strings.ToLower(c.Logging.Format),
		Writer: w,
	}), nil
}
