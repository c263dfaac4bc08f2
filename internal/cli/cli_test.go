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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/internal/config"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := execute(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "trustsuite version "+Version)
	assert.Contains(t, out, platform.Current().Name())

	code, out, _ = execute(t, "version", "--format", "json")
	require.Equal(t, 0, code)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, platform.Current().Name(), info["platform"])
}

func TestListCommand_Platform(t *testing.T) {
	watch, err := platform.Lookup("watchos")
	require.NoError(t, err)
	table, err := manifest.For(watch)
	require.NoError(t, err)

	code, out, stderr := execute(t, "list", "--platform", "watchos", "-f", "json")
	require.Equal(t, 0, code, stderr)

	var listing struct {
		Platform string `json:"platform"`
		Enabled  int    `json:"enabled"`
		Disabled int    `json:"disabled"`
		Tests    []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"tests"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Equal(t, "watchos", listing.Platform)
	assert.Equal(t, len(table.Enabled()), listing.Enabled)
	assert.Equal(t, len(table.Disabled()), listing.Disabled)
	require.Len(t, listing.Tests, table.Len())
	for i, e := range table.Entries() {
		assert.Equal(t, e.Name, listing.Tests[i].Name)
		assert.Equal(t, e.Enabled, listing.Tests[i].Enabled)
	}

	code, out, _ = execute(t, "list", "--platform", "watchos")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Tests for watchos")
	for _, e := range table.Disabled() {
		assert.Contains(t, out, e.Name+" (disabled)")
	}
}

func TestListCommand_TAP(t *testing.T) {
	code, out, _ := execute(t, "list", "--platform", "macos", "-f", "tap")
	require.Equal(t, 0, code)

	table, err := manifest.For(platform.Platform{})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, table.Len()+1)
	assert.Equal(t, "1..", lines[0][:3])
}

func TestListCommand_AllPlatforms(t *testing.T) {
	code, out, _ := execute(t, "list", "--all", "-f", "json")
	require.Equal(t, 0, code)

	var matrix struct {
		Platforms []string                     `json:"platforms"`
		Tests     map[string]map[string]string `json:"tests"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &matrix))
	assert.Equal(t, platform.Profiles(), matrix.Platforms)
	assert.Len(t, matrix.Tests, len(manifest.Declarations()))

	for name, p := range platform.All() {
		table, err := manifest.For(p)
		require.NoError(t, err)
		for test, row := range matrix.Tests {
			e, ok := table.Lookup(test)
			switch {
			case !ok:
				assert.Equal(t, cellAbsent, row[name], "%s on %s", test, name)
			case e.Enabled:
				assert.Equal(t, cellEnabled, row[name], "%s on %s", test, name)
			default:
				assert.Equal(t, cellDisabled, row[name], "%s on %s", test, name)
			}
		}
	}

	code, out, _ = execute(t, "list", "--all", "-f", "table")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "WATCHOS-SIMULATOR")
	assert.Contains(t, out, manifest.PaddingMMCS)
}

func TestListCommand_UnknownPlatform(t *testing.T) {
	code, _, stderr := execute(t, "list", "--platform", "tvos")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown profile")
}

func TestRunCommand_JSON(t *testing.T) {
	code, out, stderr := execute(t, "run", "--platform", "macos", "-f", "json", manifest.PaddingMMCS)
	require.Equal(t, 0, code, stderr)

	var report harness.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "macos", report.Platform)
	assert.Equal(t, 1, report.Passed)
	assert.Zero(t, report.Failed)

	res, ok := report.Result(manifest.PaddingMMCS)
	require.True(t, ok)
	assert.Equal(t, harness.StatusPassed, res.Status)
	assert.Positive(t, res.Passed)

	other, ok := report.Result(manifest.SecTrustASR)
	require.True(t, ok)
	assert.Equal(t, harness.StatusSkipped, other.Status)
}

func TestRunCommand_TAPToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.tap")
	code, out, stderr := execute(t, "run", "--out", path, "--workers", "2", "--timeout", "1m",
		manifest.PaddingMMCS, manifest.RecoveryKey)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tap := string(data)
	assert.True(t, strings.HasPrefix(tap, "TAP version 14\n"))
	assert.Contains(t, tap, "ok ")
	assert.Contains(t, tap, "- "+manifest.PaddingMMCS+"\n")
	assert.Contains(t, tap, "- "+manifest.RecoveryKey+"\n")
	assert.Contains(t, tap, "# SKIP filtered")
	assert.NotContains(t, tap, "not ok")
}

func TestRunCommand_Metrics(t *testing.T) {
	code, out, stderr := execute(t, "run", "-f", "text", "--metrics-listen", "127.0.0.1:0", manifest.PaddingMMCS)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "PASS "+manifest.PaddingMMCS)
}

type recordingLogger struct {
	mu      sync.Mutex
	records []string
}

func (l *recordingLogger) record(level, msg string, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := level + " " + msg
	for _, f := range fields {
		line += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	l.records = append(l.records, line)
}

func (l *recordingLogger) Debug(msg string, fields ...logging.Field) { l.record("DEBUG", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...logging.Field)  { l.record("INFO", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...logging.Field)  { l.record("WARN", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...logging.Field) { l.record("ERROR", msg, fields) }
func (l *recordingLogger) With(...logging.Field) logging.Logger    { return l }
func (l *recordingLogger) WithError(error) logging.Logger          { return l }

func (l *recordingLogger) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.records...)
}

// brokenListener fails every Accept, which makes http.Server.Serve return.
type brokenListener struct{}

func (brokenListener) Accept() (net.Conn, error) { return nil, errors.New("accept failed") }
func (brokenListener) Close() error              { return nil }
func (brokenListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9} }

func TestServeMetrics(t *testing.T) {
	logger := &recordingLogger{}
	addr, stop, err := serveMetrics(config.MetricsConfig{Listen: "127.0.0.1:0", Path: "/metrics"}, logger)
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stop()
	assert.Empty(t, logger.lines())
}

func TestServeMetrics_ListenConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, _, err = serveMetrics(config.MetricsConfig{Listen: ln.Addr().String(), Path: "/metrics"}, logging.Nop{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen for metrics")
}

func TestServeMetrics_ServeFailureIsLogged(t *testing.T) {
	logger := &recordingLogger{}
	stop := serveMetricsOn(brokenListener{}, "/metrics", logger)
	defer stop()

	require.Eventually(t, func() bool { return len(logger.lines()) > 0 }, 5*time.Second, 10*time.Millisecond)
	lines := logger.lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ERROR metrics server failed")
	assert.Contains(t, lines[0], "accept failed")
	assert.Contains(t, lines[0], "addr=127.0.0.1:9")
}

func TestRunCommand_InvalidInput(t *testing.T) {
	code, _, stderr := execute(t, "run", "si_[2")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid filter pattern")

	code, _, stderr = execute(t, "run", "--workers", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "workers")

	code, _, stderr = execute(t, "run", "-f", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid output format")
}

func TestRunCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustsuite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runner:
  platform: ios
  filter: ["padding_*"]
  format: table
logging:
  level: error
`), 0600))

	code, out, stderr := execute(t, "run", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "TEST")
	assert.Contains(t, out, manifest.PaddingMMCS)
	assert.Contains(t, out, "Platform ios: 1 passed, 0 failed")
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 1, Failed: 3}
	assert.Equal(t, "3 test(s) failed", err.Error())

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
}

func sampleReport() *harness.Report {
	r := &harness.Report{
		RunID:    "run-1",
		Platform: "ios",
		Started:  time.Now(),
		Duration: 1500 * time.Millisecond,
		Passed:   1,
		Failed:   1,
		Disabled: 1,
		Results: []harness.Result{
			{Name: "alpha", Enabled: true, Status: harness.StatusPassed, Passed: 4, Duration: time.Second},
			{Name: "beta", Enabled: true, Status: harness.StatusFailed, Passed: 2, Failed: 1,
				Output: "ok 1 - first\nnot ok 2 - second\n# expected 1 got 2\nok 3 - third\n"},
			{Name: "gamma", Status: harness.StatusDisabled},
		},
	}
	return r
}

func TestPrinter_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("text", &buf).PrintReport(sampleReport()))
	text := buf.String()
	assert.Contains(t, text, "PASS alpha (4 checks")
	assert.Contains(t, text, "FAIL beta (1 of 3 checks failed)")
	assert.Contains(t, text, "     not ok 2 - second")
	assert.Contains(t, text, "     # expected 1 got 2")
	assert.NotContains(t, text, "ok 3 - third")
	assert.Contains(t, text, "SKIP gamma (disabled)")
	assert.Contains(t, text, "Platform ios: 1 passed, 1 failed, 1 disabled, 0 skipped in 1.5s")

	buf.Reset()
	require.NoError(t, NewPrinter("TABLE", &buf).PrintReport(sampleReport()))
	assert.Contains(t, buf.String(), "STATUS")
	assert.Contains(t, buf.String(), "failed")

	buf.Reset()
	require.NoError(t, NewPrinter("tap", &buf).PrintReport(sampleReport()))
	assert.Contains(t, buf.String(), "1..3")
	assert.Contains(t, buf.String(), "not ok 2 - beta")

	buf.Reset()
	require.NoError(t, NewPrinter("json", &buf).PrintReport(sampleReport()))
	var decoded harness.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Results, 3)

	assert.Error(t, NewPrinter("xml", &buf).PrintReport(sampleReport()))
}

func TestPrinter_PrintError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("text", &buf).PrintError(errors.New("boom")))
	assert.Equal(t, "Error: boom\n", buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter("json", &buf).PrintError(errors.New("boom")))
	assert.JSONEq(t, `{"status":"error","error":"boom"}`, buf.String())
}
