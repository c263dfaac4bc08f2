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

// Package ocsp provides an in-process OCSP responder and a caching OCSP
// client that plugs into the trust evaluator as a revocation checker.
package ocsp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	xocsp "golang.org/x/crypto/ocsp"
	"golang.org/x/time/rate"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
)

const (
	contentTypeRequest  = "application/ocsp-request"
	contentTypeResponse = "application/ocsp-response"

	maxRequestSize  = 16 << 10
	defaultValidity = time.Hour
)

type certStatus struct {
	status    int
	revokedAt time.Time
	reason    int
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithValidity sets how far ahead NextUpdate is placed.
func WithValidity(d time.Duration) ResponderOption {
	return func(r *Responder) { r.validity = d }
}

// WithRateLimit limits requests per second with the given burst. Requests
// over the limit get 429.
func WithRateLimit(limit rate.Limit, burst int) ResponderOption {
	return func(r *Responder) { r.limiter = rate.NewLimiter(limit, burst) }
}

func WithResponderLogger(l logging.Logger) ResponderOption {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Responder answers OCSP requests for certificates issued by one CA. The CA
// key signs the responses directly. Serials default to unknown.
type Responder struct {
	issuer *x509.Certificate
	key    crypto.Signer

	mu       sync.RWMutex
	statuses map[string]certStatus

	validity time.Duration
	limiter  *rate.Limiter
	logger   logging.Logger
	requests atomic.Int64
	router   chi.Router
}

// NewResponder returns a responder for issuer.
func NewResponder(issuer *x509.Certificate, key crypto.Signer, opts ...ResponderOption) *Responder {
	r := &Responder{
		issuer:   issuer,
		key:      key,
		statuses: make(map[string]certStatus),
		validity: defaultValidity,
		logger:   logging.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(metrics.HTTPMiddleware("ocsp"))
	router.Use(r.rateLimit)
	router.Post("/", r.handlePost)
	router.Get("/*", r.handleGet)
	r.router = router
	return r
}

// ServeHTTP implements http.Handler.
func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// MarkGood reports serial as good.
func (r *Responder) MarkGood(serial *big.Int) {
	r.set(serial, certStatus{status: xocsp.Good})
}

// Revoke reports serial as revoked at the given time for reason (RFC 5280
// CRLReason).
func (r *Responder) Revoke(serial *big.Int, at time.Time, reason int) {
	r.set(serial, certStatus{status: xocsp.Revoked, revokedAt: at, reason: reason})
}

// Forget returns serial to the unknown state.
func (r *Responder) Forget(serial *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, serial.Text(16))
}

// Requests returns the number of requests that reached the handler.
func (r *Responder) Requests() int64 {
	return r.requests.Load()
}

func (r *Responder) set(serial *big.Int, st certStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[serial.Text(16)] = st
}

func (r *Responder) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limiter != nil && !r.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Responder) handlePost(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
	if err != nil {
		r.write(w, xocsp.MalformedRequestErrorResponse)
		return
	}
	r.respond(w, body)
}

func (r *Responder) handleGet(w http.ResponseWriter, req *http.Request) {
	encoded, err := url.PathUnescape(chi.URLParam(req, "*"))
	if err != nil {
		r.write(w, xocsp.MalformedRequestErrorResponse)
		return
	}
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		r.write(w, xocsp.MalformedRequestErrorResponse)
		return
	}
	r.respond(w, der)
}

func (r *Responder) respond(w http.ResponseWriter, der []byte) {
	r.requests.Add(1)

	ocspReq, err := xocsp.ParseRequest(der)
	if err != nil {
		r.logger.Debug("malformed OCSP request", logging.Error(err))
		r.write(w, xocsp.MalformedRequestErrorResponse)
		return
	}
	if !r.issuedByUs(ocspReq) {
		r.logger.Debug("OCSP request for foreign issuer", logging.String("serial", ocspReq.SerialNumber.Text(16)))
		r.write(w, xocsp.UnauthorizedErrorResponse)
		return
	}

	r.mu.RLock()
	st, ok := r.statuses[ocspReq.SerialNumber.Text(16)]
	r.mu.RUnlock()
	if !ok {
		st = certStatus{status: xocsp.Unknown}
	}

	now := time.Now().Truncate(time.Second)
	tmpl := xocsp.Response{
		Status:       st.status,
		SerialNumber: ocspReq.SerialNumber,
		ThisUpdate:   now.Add(-time.Minute),
		NextUpdate:   now.Add(r.validity),
		IssuerHash:   ocspReq.HashAlgorithm,
	}
	if st.status == xocsp.Revoked {
		tmpl.RevokedAt = st.revokedAt
		tmpl.RevocationReason = st.reason
	}
	resp, err := xocsp.CreateResponse(r.issuer, r.issuer, tmpl, r.key)
	if err != nil {
		r.logger.Error("failed to sign OCSP response", logging.Error(err))
		r.write(w, xocsp.InternalErrorErrorResponse)
		return
	}
	r.write(w, resp)
}

func (r *Responder) issuedByUs(req *xocsp.Request) bool {
	if !req.HashAlgorithm.Available() {
		return false
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(r.issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return false
	}
	h := req.HashAlgorithm.New()
	h.Write(spki.PublicKey.RightAlign())
	keyHash := h.Sum(nil)

	h.Reset()
	h.Write(r.issuer.RawSubject)
	nameHash := h.Sum(nil)

	return bytes.Equal(keyHash, req.IssuerKeyHash) && bytes.Equal(nameHash, req.IssuerNameHash)
}

func (r *Responder) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", contentTypeResponse)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
