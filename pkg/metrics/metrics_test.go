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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableDisable(t *testing.T) {
	assert.True(t, IsEnabled())
	Disable()
	assert.False(t, IsEnabled())
	Enable()
	assert.True(t, IsEnabled())
}

func TestRecordTest(t *testing.T) {
	Enable()
	TestsTotal.Reset()
	TestDuration.Reset()

	RecordTest("si_60_cms", "passed", 0.2, true)
	RecordTest("si_23_sectrust_ocsp", "disabled", 0, false)

	assert.Equal(t, 2, testutil.CollectAndCount(TestsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(TestDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(TestsTotal.WithLabelValues("disabled")))
}

func TestRecordWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	TrustEvaluationsTotal.Reset()
	OCSPRequestsTotal.Reset()

	RecordTrustEvaluation("proceed")
	RecordOCSPRequest("good")

	assert.Equal(t, 0, testutil.CollectAndCount(TrustEvaluationsTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(OCSPRequestsTotal))
}

func TestRecordTrustEvaluation(t *testing.T) {
	Enable()
	TrustEvaluationsTotal.Reset()

	RecordTrustEvaluation("proceed")
	RecordTrustEvaluation("proceed")
	RecordTrustEvaluation("fatal_trust_failure")

	assert.Equal(t, float64(2), testutil.ToFloat64(TrustEvaluationsTotal.WithLabelValues("proceed")))
}

func TestHTTPMiddleware(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	h := HTTPMiddleware("ocsp")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("ocsp", "POST", "429")))
}

func TestHandler(t *testing.T) {
	Enable()
	RecordOCSPRequest("revoked")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "trustsuite_ocsp_requests_total")
}
