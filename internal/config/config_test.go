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
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return configPath
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	configPath := writeConfig(t, `
runner:
  platform: ios
  filter: ["si_2*", "padding_*"]
  include_disabled: true
  workers: 4
  timeout: 90s
  format: json
  output: /tmp/report.json

logging:
  level: debug
  format: json

metrics:
  enabled: true
  path: /metrics
  listen: "127.0.0.1:9191"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runner.Platform != "ios" {
		t.Errorf("Runner.Platform = %q, want ios", cfg.Runner.Platform)
	}
	if len(cfg.Runner.Filter) != 2 || cfg.Runner.Filter[1] != "padding_*" {
		t.Errorf("Runner.Filter = %v", cfg.Runner.Filter)
	}
	if !cfg.Runner.IncludeDisabled {
		t.Error("Runner.IncludeDisabled = false, want true")
	}
	if cfg.Runner.Workers != 4 {
		t.Errorf("Runner.Workers = %d, want 4", cfg.Runner.Workers)
	}
	if cfg.Runner.Timeout != 90*time.Second {
		t.Errorf("Runner.Timeout = %s, want 90s", cfg.Runner.Timeout)
	}
	if cfg.Runner.Format != "json" || cfg.Runner.Output != "/tmp/report.json" {
		t.Errorf("Runner output = %q %q", cfg.Runner.Format, cfg.Runner.Output)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9191" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}

	p, err := cfg.ResolvePlatform()
	if err != nil {
		t.Fatalf("ResolvePlatform() error = %v", err)
	}
	if p.Name() != "ios" {
		t.Errorf("ResolvePlatform() = %s, want ios", p.Name())
	}
}

// TestLoad_PartialFileKeepsDefaults tests that missing sections fall back to defaults
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	configPath := writeConfig(t, "runner:\n  workers: 2\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.Runner.Workers != 2 {
		t.Errorf("Runner.Workers = %d, want 2", cfg.Runner.Workers)
	}
	if cfg.Runner.Format != def.Runner.Format {
		t.Errorf("Runner.Format = %q, want %q", cfg.Runner.Format, def.Runner.Format)
	}
	if cfg.Runner.Timeout != def.Runner.Timeout {
		t.Errorf("Runner.Timeout = %s, want %s", cfg.Runner.Timeout, def.Runner.Timeout)
	}
	if cfg.Logging != def.Logging {
		t.Errorf("Logging = %+v, want %+v", cfg.Logging, def.Logging)
	}
}

// TestLoad_EmptyPath tests that an empty path yields the defaults
func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Runner.Workers != 1 || cfg.Runner.Format != "tap" {
		t.Errorf("unexpected defaults: %+v", cfg.Runner)
	}

	p, err := cfg.ResolvePlatform()
	if err != nil {
		t.Fatalf("ResolvePlatform() error = %v", err)
	}
	if p != platform.Current() {
		t.Errorf("ResolvePlatform() = %s, want build platform %s", p, platform.Current())
	}
}

// TestLoad_FileNotFound tests error handling when config file doesn't exist
func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %v, want read error", err)
	}
}

// TestLoad_InvalidYAML tests error handling for malformed YAML
func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "runner:\n  workers: [unclosed\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

// TestLoad_ValidationFailure tests that Load surfaces validation errors
func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "runner:\n  platform: tvos\n")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for unknown platform, got nil")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %v, want validation error", err)
	}
}

// TestApplyEnvOverrides tests environment variable overrides
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRUSTSUITE_PLATFORM", "watchos")
	t.Setenv("TRUSTSUITE_FILTER", "si_8*, ,*sectrust*")
	t.Setenv("TRUSTSUITE_INCLUDE_DISABLED", "true")
	t.Setenv("TRUSTSUITE_WORKERS", "8")
	t.Setenv("TRUSTSUITE_TIMEOUT", "30s")
	t.Setenv("TRUSTSUITE_FORMAT", "table")
	t.Setenv("TRUSTSUITE_OUTPUT", "out.txt")
	t.Setenv("TRUSTSUITE_LOG_LEVEL", "error")
	t.Setenv("TRUSTSUITE_LOG_FORMAT", "json")
	t.Setenv("TRUSTSUITE_METRICS_ENABLED", "1")
	t.Setenv("TRUSTSUITE_METRICS_LISTEN", ":9999")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Runner.Platform != "watchos" {
		t.Errorf("Runner.Platform = %q", cfg.Runner.Platform)
	}
	if len(cfg.Runner.Filter) != 2 || cfg.Runner.Filter[0] != "si_8*" || cfg.Runner.Filter[1] != "*sectrust*" {
		t.Errorf("Runner.Filter = %q", cfg.Runner.Filter)
	}
	if !cfg.Runner.IncludeDisabled {
		t.Error("Runner.IncludeDisabled not applied")
	}
	if cfg.Runner.Workers != 8 {
		t.Errorf("Runner.Workers = %d", cfg.Runner.Workers)
	}
	if cfg.Runner.Timeout != 30*time.Second {
		t.Errorf("Runner.Timeout = %s", cfg.Runner.Timeout)
	}
	if cfg.Runner.Format != "table" || cfg.Runner.Output != "out.txt" {
		t.Errorf("Runner output = %q %q", cfg.Runner.Format, cfg.Runner.Output)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9999" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestApplyEnvOverrides_InvalidValues tests that bad values keep the current setting
func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	t.Setenv("TRUSTSUITE_WORKERS", "many")
	t.Setenv("TRUSTSUITE_TIMEOUT", "soon")
	t.Setenv("TRUSTSUITE_INCLUDE_DISABLED", "maybe")
	t.Setenv("TRUSTSUITE_METRICS_ENABLED", "perhaps")

	cfg := Default()
	applyEnvOverrides(cfg)

	def := Default()
	if cfg.Runner.Workers != def.Runner.Workers {
		t.Errorf("Runner.Workers = %d, want %d", cfg.Runner.Workers, def.Runner.Workers)
	}
	if cfg.Runner.Timeout != def.Runner.Timeout {
		t.Errorf("Runner.Timeout = %s, want %s", cfg.Runner.Timeout, def.Runner.Timeout)
	}
	if cfg.Runner.IncludeDisabled || cfg.Metrics.Enabled {
		t.Error("invalid booleans must not change the configuration")
	}
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "every profile", modify: func(c *Config) { c.Runner.Platform = "watchos-simulator" }},
		{name: "unknown platform", modify: func(c *Config) { c.Runner.Platform = "tvos" }, wantErr: "unknown"},
		{name: "bad filter", modify: func(c *Config) { c.Runner.Filter = []string{"si_[2"} }, wantErr: "invalid filter pattern"},
		{name: "zero workers", modify: func(c *Config) { c.Runner.Workers = 0 }, wantErr: "workers"},
		{name: "negative timeout", modify: func(c *Config) { c.Runner.Timeout = -time.Second }, wantErr: "timeout"},
		{name: "zero timeout", modify: func(c *Config) { c.Runner.Timeout = 0 }},
		{name: "bad format", modify: func(c *Config) { c.Runner.Format = "xml" }, wantErr: "invalid output format"},
		{name: "uppercase format", modify: func(c *Config) { c.Runner.Format = "JSON" }},
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "invalid log level"},
		{name: "bad log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "metrics without listen", modify: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}, wantErr: "listen"},
		{name: "metrics bad path", modify: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, wantErr: "metrics path"},
		{name: "metrics disabled ignores path", modify: func(c *Config) { c.Metrics.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "json"
	logger, err := cfg.NewLogger(io.Discard)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}

	cfg.Logging.Level = "loud"
	if _, err := cfg.NewLogger(io.Discard); err == nil {
		t.Error("NewLogger() expected error for unknown level")
	}
}
