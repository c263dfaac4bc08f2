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
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/Excloudx6/macos-security-libs/internal/config"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
	"github.com/Excloudx6/macos-security-libs/pkg/regressions"
)

func newRunCmd(opts *Options) *cobra.Command {
	var (
		platformName    string
		includeDisabled bool
		workers         int
		timeout         time.Duration
		outPath         string
		metricsListen   string
	)

	cmd := &cobra.Command{
		Use:   "run [pattern...]",
		Short: "Run the regression tests",
		Long: `Run the regression tests registered for a platform. Each pattern is a
glob matched against test names; when given, only matching tests run.

TAP is streamed as tests finish. The command exits 1 when any test fails.`,
		Example: `  trustsuite run
  trustsuite run --platform watchos 'si_2*'
  trustsuite run --workers 4 --format json --out report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("platform") {
				cfg.Runner.Platform = platformName
			}
			if flags.Changed("include-disabled") {
				cfg.Runner.IncludeDisabled = includeDisabled
			}
			if flags.Changed("workers") {
				cfg.Runner.Workers = workers
			}
			if flags.Changed("timeout") {
				cfg.Runner.Timeout = timeout
			}
			if flags.Changed("out") {
				cfg.Runner.Output = outPath
			}
			if flags.Changed("metrics-listen") {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Listen = metricsListen
			}
			if len(args) > 0 {
				cfg.Runner.Filter = args
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			return runSuite(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "",
		"platform profile to resolve the test table for (default: build platform)")
	cmd.Flags().BoolVar(&includeDisabled, "include-disabled", false,
		"execute tests that are disabled on the platform")
	cmd.Flags().IntVarP(&workers, "workers", "j", 1,
		"number of tests to run concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0,
		"per-test timeout (0 disables)")
	cmd.Flags().StringVar(&outPath, "out", "",
		"write the report to a file instead of stdout")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "",
		"serve Prometheus metrics on this address while running")

	return cmd
}

// runSuite resolves the table for the configured platform, executes it and
// writes the report. Failed tests yield an *ExitError.
func runSuite(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}

	p, err := cfg.ResolvePlatform()
	if err != nil {
		return err
	}
	table, err := manifest.For(p)
	if err != nil {
		return fmt.Errorf("failed to resolve test table: %w", err)
	}

	out := stdout
	if cfg.Runner.Output != "" {
		// #nosec G304 - Report path is provided by the user
		f, err := os.Create(cfg.Runner.Output)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("failed to close report file", logging.Error(cerr))
			}
		}()
		out = f
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
		addr, stop, err := serveMetrics(cfg.Metrics, logger)
		if err != nil {
			return err
		}
		defer stop()
		logger.Info("serving metrics", logging.String("addr", addr), logging.String("path", cfg.Metrics.Path))
	} else {
		metrics.Disable()
	}

	format := strings.ToLower(cfg.Runner.Format)
	runnerOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithFilter(cfg.Runner.Filter...),
		harness.WithIncludeDisabled(cfg.Runner.IncludeDisabled),
		harness.WithWorkers(cfg.Runner.Workers),
		harness.WithTimeout(cfg.Runner.Timeout),
	}
	if format == string(OutputFormatTAP) {
		runnerOpts = append(runnerOpts, harness.WithOutput(out))
	}

	runner, err := harness.NewRunner(table, regressions.Suite(), runnerOpts...)
	if err != nil {
		return err
	}

	logger.Debug("starting run",
		logging.String("platform", p.Name()),
		logging.Int("tests", table.Len()),
		logging.Strings("filter", cfg.Runner.Filter),
		logging.Int("workers", cfg.Runner.Workers))

	report, runErr := runner.Run(ctx)
	if format != string(OutputFormatTAP) {
		if err := NewPrinter(format, out).PrintReport(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	if code := report.ExitCode(); code != 0 {
		return &ExitError{Code: code, Failed: report.Failed}
	}
	return nil
}

// serveMetrics starts the metrics endpoint and returns the bound address and
// a function that shuts it down.
func serveMetrics(cfg config.MetricsConfig, logger logging.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen for metrics: %w", err)
	}
	stop := serveMetricsOn(ln, cfg.Path, logger)
	return ln.Addr().String(), stop, nil
}

func serveMetricsOn(ln net.Listener, path string, logger logging.Logger) func() {
	r := chi.NewRouter()
	r.Handle(path, metrics.Handler())

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed",
				logging.String("addr", ln.Addr().String()),
				logging.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
