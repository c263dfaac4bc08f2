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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Excloudx6/macos-security-libs/internal/config"
)

// Options holds the persistent flags shared by every command
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// Format controls output formatting (tap, text, json, table)
	Format string

	// LogLevel overrides the configured log level
	LogLevel string

	// Verbose forces debug logging
	Verbose bool
}

// NewOptions creates Options with default values
func NewOptions() *Options {
	return &Options{
		Format: "text",
	}
}

// Load reads the configuration file and environment, then applies the flags
// the user actually set on cmd.
func (o *Options) Load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Runner.Format = o.Format
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// outputFormat returns the format a non-run command should print in. The
// configured runner format applies only when it is a printer format.
func (o *Options) outputFormat(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("format") {
		return o.Format
	}
	if cfg != nil && cfg.Runner.Format != "tap" {
		return cfg.Runner.Format
	}
	return o.Format
}
