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

// Package correlation carries the suite run ID and the current test name
// through a context so that log lines from concurrent tests can be told apart.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	runIDKey    contextKey = "run-id"
	testNameKey contextKey = "test-name"
)

// NewRunID generates a UUID v4 run ID.
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID returns a child context carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunID returns the run ID stored in ctx, or "" if there is none.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// EnsureRunID returns ctx unchanged when it already carries a run ID,
// otherwise a child context with a freshly generated one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id := RunID(ctx); id != "" {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// WithTestName returns a child context naming the test being executed.
func WithTestName(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, testNameKey, name)
}

// TestName returns the test name stored in ctx.
func TestName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(testNameKey).(string)
	return name
}
