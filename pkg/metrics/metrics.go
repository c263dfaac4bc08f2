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

// Package metrics exposes Prometheus instrumentation for suite runs, trust
// evaluations and the HTTP services (OCSP responder, key proxy) that the
// regression procedures start.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "trustsuite"

	LabelStatus     = "status"
	LabelTest       = "test"
	LabelResult     = "result"
	LabelService    = "service"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"
)

var (
	// TestsTotal counts finished tests by status (passed, failed, disabled, skipped).
	TestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_total",
			Help:      "Total number of registered tests processed by status",
		},
		[]string{LabelStatus},
	)

	// TestDuration observes the wall time of executed tests.
	TestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of executed tests in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelTest},
	)

	// TrustEvaluationsTotal counts trust evaluations by result.
	TrustEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "trust",
			Name:      "evaluations_total",
			Help:      "Total number of trust evaluations by result",
		},
		[]string{LabelResult},
	)

	// OCSPRequestsTotal counts OCSP client lookups by outcome
	// (good, revoked, unknown, cached, error).
	OCSPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ocsp",
			Name:      "requests_total",
			Help:      "Total number of OCSP lookups by outcome",
		},
		[]string{LabelStatus},
	)

	// HTTPRequestsTotal counts requests served by the suite's HTTP services.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by service, method and status code",
		},
		[]string{LabelService, LabelMethod, LabelStatusCode},
	)
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// RecordTest records a processed test. Duration is observed only for tests
// that actually ran.
func RecordTest(name, status string, seconds float64, ran bool) {
	if !enabled.Load() {
		return
	}
	TestsTotal.WithLabelValues(status).Inc()
	if ran {
		TestDuration.WithLabelValues(name).Observe(seconds)
	}
}

// RecordTrustEvaluation records the result of a trust evaluation.
func RecordTrustEvaluation(result string) {
	if !enabled.Load() {
		return
	}
	TrustEvaluationsTotal.WithLabelValues(result).Inc()
}

// RecordOCSPRequest records an OCSP lookup outcome.
func RecordOCSPRequest(status string) {
	if !enabled.Load() {
		return
	}
	OCSPRequestsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records a request served by service.
func RecordHTTPRequest(service, method, statusCode string) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(service, method, statusCode).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Enable turns recording on.
func Enable() {
	enabled.Store(true)
}

// Disable turns recording off. Collectors keep their values.
func Disable() {
	enabled.Store(false)
}

func IsEnabled() bool {
	return enabled.Load()
}
