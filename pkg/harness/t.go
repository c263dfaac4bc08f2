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
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Func is a registered test procedure.
type Func func(t *T)

// Suite binds test names to procedures.
type Suite map[string]Func

// failNow unwinds a test after FailNow. The runner recovers it.
type failNow struct{}

// T is the assertion context handed to a test procedure. Every assertion
// appends one TAP line to the test's output. T is safe for use from the
// goroutines a procedure starts.
type T struct {
	ctx  context.Context
	name string

	mu      sync.Mutex
	out     bytes.Buffer
	count   int
	planned int
	passed  int
	failed  int
	skipped int
	done    bool
}

func newT(ctx context.Context, name string) *T {
	return &T{ctx: ctx, name: name}
}

// Context is cancelled when the test times out or the run is cancelled.
func (t *T) Context() context.Context {
	return t.ctx
}

// Name returns the registered test name.
func (t *T) Name() string {
	return t.name
}

// Plan declares how many assertions the test will make. A mismatch fails the
// test.
func (t *T) Plan(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.planned = n
	t.line("1..%d", n)
}

// Ok records a passing assertion when cond is true and a failing one otherwise.
func (t *T) Ok(cond bool, format string, args ...any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(cond, fmt.Sprintf(format, args...))
	return cond
}

// Is asserts that got deeply equals want.
func (t *T) Is(got, want any, format string, args ...any) bool {
	ok := equal(got, want)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(ok, fmt.Sprintf(format, args...))
	if !ok {
		t.line("#          got: %#v", got)
		t.line("#     expected: %#v", want)
	}
	return ok
}

// NoError asserts that err is nil.
func (t *T) NoError(err error, format string, args ...any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(err == nil, fmt.Sprintf(format, args...))
	if err != nil {
		t.line("#     error: %v", err)
	}
	return err == nil
}

// Error asserts that err is not nil.
func (t *T) Error(err error, format string, args ...any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(err != nil, fmt.Sprintf(format, args...))
	if err == nil {
		t.line("#     expected an error")
	}
	return err != nil
}

// ErrorIs asserts that errors.Is(err, target).
func (t *T) ErrorIs(err, target error, format string, args ...any) bool {
	ok := errors.Is(err, target)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(ok, fmt.Sprintf(format, args...))
	if !ok {
		t.line("#          got: %v", err)
		t.line("#     expected: %v", target)
	}
	return ok
}

// Skip records an assertion that was deliberately not run.
func (t *T) Skip(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.count++
	t.skipped++
	t.line("ok %d # SKIP %s", t.count, fmt.Sprintf(format, args...))
}

// Diag writes a diagnostic comment.
func (t *T) Diag(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		t.line("# %s", l)
	}
}

// FailNow stops the test. Only call it from the test's own goroutine.
func (t *T) FailNow() {
	panic(failNow{})
}

// Require is Ok followed by FailNow when cond is false.
func (t *T) Require(cond bool, format string, args ...any) {
	if !t.Ok(cond, format, args...) {
		t.FailNow()
	}
}

// Must is NoError followed by FailNow when err is not nil. Procedures use it
// for fixture setup that later assertions depend on.
func (t *T) Must(err error, format string, args ...any) {
	if !t.NoError(err, format, args...) {
		t.FailNow()
	}
}

// Failed reports whether any assertion has failed.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed > 0
}

func (t *T) record(ok bool, desc string) {
	if t.done {
		return
	}
	t.count++
	status := "ok"
	if ok {
		t.passed++
	} else {
		t.failed++
		status = "not ok"
	}
	if desc == "" {
		t.line("%s %d", status, t.count)
		return
	}
	t.line("%s %d - %s", status, t.count, desc)
}

func (t *T) line(format string, args ...any) {
	if t.done {
		return
	}
	fmt.Fprintf(&t.out, format, args...)
	t.out.WriteByte('\n')
}

// fail records a failure that did not come from an assertion, such as a panic
// or a timeout.
func (t *T) fail(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(false, fmt.Sprintf(format, args...))
}

// finish closes the T and returns a snapshot of its counters and output.
// Writes after finish are dropped.
func (t *T) finish() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.planned > 0 && t.planned != t.count {
		t.failed++
		t.line("# planned %d assertions but ran %d", t.planned, t.count)
	} else if t.planned == 0 {
		t.line("1..%d", t.count)
	}
	t.done = true
	return Result{
		Name:    t.name,
		Planned: t.planned,
		Passed:  t.passed,
		Failed:  t.failed,
		Skipped: t.skipped,
		Output:  t.out.String(),
	}
}

func equal(got, want any) bool {
	gb, gok := got.([]byte)
	wb, wok := want.([]byte)
	if gok && wok {
		return bytes.Equal(gb, wb)
	}
	return reflect.DeepEqual(got, want)
}
