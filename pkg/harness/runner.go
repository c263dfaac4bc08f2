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

// Package harness runs a resolved test table. Each registered name is
// dispatched to its procedure; assertions are reported as TAP version 14,
// one subtest per registered test, in table order.
package harness

import (
	"context"
	"fmt"
	"io"
	"path"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Excloudx6/macos-security-libs/pkg/correlation"
	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
)

// Option configures a Runner.
type Option func(*Runner)

// WithOutput streams TAP to w while the run progresses.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFilter restricts the run to names matching at least one glob pattern.
func WithFilter(patterns ...string) Option {
	return func(r *Runner) { r.filters = append(r.filters, patterns...) }
}

// WithIncludeDisabled executes disabled entries instead of reporting them.
func WithIncludeDisabled(include bool) Option {
	return func(r *Runner) { r.includeDisabled = include }
}

// WithWorkers sets how many tests may run at once. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithTimeout bounds each test. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// Runner executes a test table.
type Runner struct {
	table *manifest.Table
	suite Suite

	out             io.Writer
	logger          logging.Logger
	filters         []string
	includeDisabled bool
	workers         int
	timeout         time.Duration
}

// NewRunner checks that every name in table has a procedure in suite.
func NewRunner(table *manifest.Table, suite Suite, opts ...Option) (*Runner, error) {
	if table == nil {
		return nil, ErrNilTable
	}
	r := &Runner{
		table:   table,
		suite:   suite,
		out:     io.Discard,
		logger:  logging.Nop{},
		workers: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	for _, name := range table.Names() {
		if suite[name] == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTest, name)
		}
	}
	for _, p := range r.filters {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, p)
		}
	}
	return r, nil
}

// Run executes the table. The returned error is non-nil only when ctx was
// cancelled; test failures are reported in the Report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	ctx, runID := correlation.EnsureRunID(ctx)
	logger := r.logger.With(logging.String("run_id", runID))

	entries := r.table.Entries()
	report := &Report{
		RunID:    runID,
		Platform: r.table.Platform().Name(),
		Started:  time.Now(),
		Results:  make([]Result, len(entries)),
	}

	done := make([]chan struct{}, len(entries))
	for i := range done {
		done[i] = make(chan struct{})
	}

	var g errgroup.Group
	g.SetLimit(r.workers)
	go func() {
		for i, e := range entries {
			g.Go(func() error {
				defer close(done[i])
				report.Results[i] = r.process(ctx, logger, e)
				return nil
			})
		}
	}()

	tw := newTAPWriter(r.out)
	tw.header(len(entries))
	for i := range entries {
		<-done[i]
		tw.result(i+1, report.Results[i])
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	report.tally()
	tw.summary(report)

	logger.Info("run finished",
		logging.String("platform", report.Platform),
		logging.Int("passed", report.Passed),
		logging.Int("failed", report.Failed),
		logging.Int("disabled", report.Disabled),
		logging.Duration("duration", report.Duration))

	return report, ctx.Err()
}

func (r *Runner) process(ctx context.Context, logger logging.Logger, e manifest.Entry) Result {
	var res Result
	switch {
	case !r.selected(e.Name):
		res = Result{Name: e.Name, Status: StatusSkipped}
	case !e.Enabled && !r.includeDisabled:
		res = Result{Name: e.Name, Status: StatusDisabled}
	default:
		res = r.execute(ctx, e.Name, r.suite[e.Name])
	}
	res.Enabled = e.Enabled

	ran := res.Status == StatusPassed || res.Status == StatusFailed
	metrics.RecordTest(e.Name, string(res.Status), res.Duration.Seconds(), ran)
	if ran {
		logger.Info("test finished",
			logging.String("test", e.Name),
			logging.String("status", string(res.Status)),
			logging.Duration("duration", res.Duration))
	} else {
		logger.Debug("test not run",
			logging.String("test", e.Name),
			logging.String("status", string(res.Status)))
	}
	return res
}

func (r *Runner) selected(name string) bool {
	if len(r.filters) == 0 {
		return true
	}
	for _, p := range r.filters {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (r *Runner) execute(ctx context.Context, name string, fn Func) Result {
	ctx = correlation.WithTestName(ctx, name)
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	t := newT(ctx, name)
	start := time.Now()
	if err := ctx.Err(); err != nil {
		t.fail("not started: %v", err)
	} else {
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			defer func() {
				if rec := recover(); rec != nil {
					if _, ok := rec.(failNow); ok {
						return
					}
					t.fail("panic: %v", rec)
					t.Diag("%s", debug.Stack())
				}
			}()
			fn(t)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			t.fail("abandoned: %v", ctx.Err())
		}
	}

	res := t.finish()
	res.Duration = time.Since(start)
	res.Status = StatusPassed
	if res.Failed > 0 {
		res.Status = StatusFailed
	}
	return res
}
