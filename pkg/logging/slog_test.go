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

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/correlation"
)

func newJSON(level Level) (*SlogAdapter, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewSlogAdapter(&SlogConfig{Level: level, Format: "json", Writer: &buf}), &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldsAreEncoded(t *testing.T) {
	l, buf := newJSON(LevelDebug)
	l.Info("finished",
		String("test", "si_60_cms"),
		Int("failed", 0),
		Bool("enabled", true),
		Duration("duration", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	record := decode(t, buf)
	assert.Equal(t, "finished", record["msg"])
	assert.Equal(t, "si_60_cms", record["test"])
	assert.Equal(t, float64(0), record["failed"])
	assert.Equal(t, true, record["enabled"])
	assert.Equal(t, "boom", record["error"])
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newJSON(LevelWarn)
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWith(t *testing.T) {
	l, buf := newJSON(LevelInfo)
	child := l.With(String("component", "runner")).WithError(errors.New("bad"))
	child.Info("hello")

	record := decode(t, buf)
	assert.Equal(t, "runner", record["component"])
	assert.Equal(t, "bad", record["error"])
}

func TestContextFields(t *testing.T) {
	l, buf := newJSON(LevelInfo)
	ctx := correlation.WithTestName(correlation.WithRunID(context.Background(), "run-7"), "padding_00_mmcs")
	l.InfoContext(ctx, "start")

	record := decode(t, buf)
	assert.Equal(t, "run-7", record["run_id"])
	assert.Equal(t, "padding_00_mmcs", record["test"])
}

func TestTextFormatDefault(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(&SlogConfig{Writer: &buf})
	l.Info("plain", String("k", "v"))
	assert.Contains(t, buf.String(), "msg=plain")
	assert.Contains(t, buf.String(), "k=v")
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	l.Info("ignored")
	assert.Equal(t, Nop{}, l.With(String("a", "b")))
	assert.Equal(t, Nop{}, l.WithError(errors.New("x")))
}
