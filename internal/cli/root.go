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
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ExitError carries a non-zero process exit status that is not itself an
// error worth printing, such as failed tests.
type ExitError struct {
	Code   int
	Failed int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%d test(s) failed", e.Failed)
}

// NewRootCommand builds the trustsuite command tree.
func NewRootCommand() *cobra.Command {
	opts := NewOptions()

	rootCmd := &cobra.Command{
		Use:   "trustsuite",
		Short: "Certificate trust and security library regression suite",
		Long: `trustsuite runs the trust evaluation regression tests registered for a
build platform and reports the results in TAP.

The set of tests depends on the platform: some tests exist only on
devices, some are registered everywhere but disabled on watchOS. Use
"trustsuite list" to see the table for a platform and "trustsuite run"
to execute it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "",
		"config file (defaults plus TRUSTSUITE_* environment when unset)")
	rootCmd.PersistentFlags().StringVarP(&opts.Format, "format", "f", opts.Format,
		"output format (tap, text, json, table)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newVersionCmd(opts))

	return rootCmd
}

// Execute runs the root command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	handleError(stderr, err)
	return 1
}

// Main is the entry point used by cmd/trustsuite.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// handleError prints an error to w
func handleError(w io.Writer, err error) {
	printer := NewPrinter("text", w)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
}
