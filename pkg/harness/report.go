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

package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Status is the outcome of one registered test.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
	// StatusSkipped marks entries excluded by the name filter.
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one registered test.
type Result struct {
	Name     string        `json:"name"`
	Enabled  bool          `json:"enabled"`
	Status   Status        `json:"status"`
	Planned  int           `json:"planned,omitempty"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration_ns"`
	Output   string        `json:"output,omitempty"`
}

// Report summarises a run.
type Report struct {
	RunID    string        `json:"run_id"`
	Platform string        `json:"platform"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Disabled int           `json:"disabled"`
	Skipped  int           `json:"skipped"`
	Results  []Result      `json:"results"`
}

func (r *Report) tally() {
	r.Passed, r.Failed, r.Disabled, r.Skipped = 0, 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case StatusPassed:
			r.Passed++
		case StatusFailed:
			r.Failed++
		case StatusDisabled:
			r.Disabled++
		case StatusSkipped:
			r.Skipped++
		}
	}
}

// Result returns the result for name.
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

// ExitCode is 1 when any test failed and 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed > 0 {
		return 1
	}
	return 0
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteTAP writes the whole report as TAP.
func (r *Report) WriteTAP(w io.Writer) {
	tw := newTAPWriter(w)
	tw.header(len(r.Results))
	for i, res := range r.Results {
		tw.result(i+1, res)
	}
	tw.summary(r)
}

type tapWriter struct {
	w io.Writer
}

func newTAPWriter(w io.Writer) *tapWriter {
	return &tapWriter{w: w}
}

func (tw *tapWriter) header(n int) {
	fmt.Fprintln(tw.w, "TAP version 14")
	fmt.Fprintf(tw.w, "1..%d\n", n)
}

func (tw *tapWriter) result(n int, res Result) {
	switch res.Status {
	case StatusDisabled:
		fmt.Fprintf(tw.w, "ok %d - %s # SKIP disabled on this platform\n", n, res.Name)
		return
	case StatusSkipped:
		fmt.Fprintf(tw.w, "ok %d - %s # SKIP filtered\n", n, res.Name)
		return
	}
	fmt.Fprintf(tw.w, "# Subtest: %s\n", res.Name)
	for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(tw.w, "    %s\n", line)
		}
	}
	status := "ok"
	if res.Status == StatusFailed {
		status = "not ok"
	}
	fmt.Fprintf(tw.w, "%s %d - %s\n", status, n, res.Name)
}

func (tw *tapWriter) summary(r *Report) {
	fmt.Fprintf(tw.w, "# run %s on %s: %d passed, %d failed, %d disabled, %d skipped in %s\n",
		r.RunID, r.Platform, r.Passed, r.Failed, r.Disabled, r.Skipped, r.Duration.Round(time.Millisecond))
}
