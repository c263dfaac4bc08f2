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

package ocsp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	xocsp "golang.org/x/crypto/ocsp"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

const (
	maxResponseSize = 1 << 20
	defaultTimeout  = 10 * time.Second
	sourceOCSP      = "ocsp"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used to reach responders.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock overrides the clock used for freshness checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithoutCache disables response caching.
func WithoutCache() ClientOption {
	return func(c *Client) { c.cache = nil }
}

// Client queries the OCSP responder named in a certificate's AIA extension.
// Good and revoked answers are cached until their NextUpdate.
type Client struct {
	http   *http.Client
	now    func() time.Time
	logger logging.Logger
	cache  *xsync.Map[string, *xocsp.Response]
}

// NewClient returns a caching OCSP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:   &http.Client{Timeout: defaultTimeout},
		now:    time.Now,
		logger: logging.Nop{},
		cache:  xsync.NewMap[string, *xocsp.Response](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckRevocation implements trust.RevocationChecker.
func (c *Client) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (trust.RevocationResult, error) {
	if len(cert.OCSPServer) == 0 || issuer == nil {
		return trust.RevocationResult{}, trust.ErrNoRevocationInfo
	}

	key := cacheKey(cert, issuer)
	if c.cache != nil {
		if resp, ok := c.cache.Load(key); ok {
			if c.fresh(resp) {
				metrics.RecordOCSPRequest("cached")
				return toResult(resp), nil
			}
			c.cache.Delete(key)
		}
	}

	resp, err := c.Query(ctx, cert.OCSPServer[0], cert, issuer)
	if err != nil {
		metrics.RecordOCSPRequest("error")
		return trust.RevocationResult{}, err
	}
	metrics.RecordOCSPRequest(statusName(resp.Status))
	if c.cache != nil && resp.Status != xocsp.Unknown && !resp.NextUpdate.IsZero() {
		c.cache.Store(key, resp)
	}
	return toResult(resp), nil
}

// Query sends a fresh request to server and validates the signed answer.
func (c *Client) Query(ctx context.Context, server string, cert, issuer *x509.Certificate) (*xocsp.Response, error) {
	der, err := xocsp.CreateRequest(cert, issuer, &xocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return nil, fmt.Errorf("ocsp: failed to create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(der))
	if err != nil {
		return nil, fmt.Errorf("ocsp: failed to build HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeRequest)
	req.Header.Set("Accept", contentTypeResponse)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocsp: request to %s failed: %w", server, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrResponderStatus, httpResp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("ocsp: failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, ErrResponseTooLarge
	}

	resp, err := xocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("ocsp: invalid response from %s: %w", server, err)
	}
	if !c.fresh(resp) {
		return nil, fmt.Errorf("%w: next update %s", ErrStaleResponse, resp.NextUpdate.UTC().Format(time.RFC3339))
	}
	c.logger.Debug("OCSP response",
		logging.String("server", server),
		logging.String("serial", cert.SerialNumber.Text(16)),
		logging.String("status", statusName(resp.Status)))
	return resp, nil
}

// Flush drops every cached response.
func (c *Client) Flush() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Cached returns the number of cached responses.
func (c *Client) Cached() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Size()
}

func (c *Client) fresh(resp *xocsp.Response) bool {
	return resp.NextUpdate.IsZero() || c.now().Before(resp.NextUpdate)
}

func cacheKey(cert, issuer *x509.Certificate) string {
	sum := sha256.Sum256(issuer.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:]) + ":" + cert.SerialNumber.Text(16)
}

func toResult(resp *xocsp.Response) trust.RevocationResult {
	res := trust.RevocationResult{Source: sourceOCSP}
	switch resp.Status {
	case xocsp.Good:
		res.Status = trust.RevocationGood
	case xocsp.Revoked:
		res.Status = trust.RevocationRevoked
		res.RevokedAt = resp.RevokedAt
	default:
		res.Status = trust.RevocationUnknown
	}
	return res
}

func statusName(status int) string {
	switch status {
	case xocsp.Good:
		return "good"
	case xocsp.Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

var _ trust.RevocationChecker = (*Client)(nil)
