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

package keys

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
)

const (
	maxProxyBody    = 64 << 10
	proxyKeyPath    = "/v1/key"
	proxySignPath   = "/v1/sign"
	contentTypeJSON = "application/json"
)

var proxyHashes = map[string]crypto.Hash{
	crypto.SHA256.String(): crypto.SHA256,
	crypto.SHA384.String(): crypto.SHA384,
	crypto.SHA512.String(): crypto.SHA512,
}

type signRequest struct {
	Digest     []byte `json:"digest"`
	Hash       string `json:"hash"`
	PSS        bool   `json:"pss,omitempty"`
	SaltLength int    `json:"salt_length,omitempty"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Proxy exposes a crypto.Signer over HTTP. The private key never leaves the
// process; clients fetch the public key as a JWK and post digests to sign.
type Proxy struct {
	signer crypto.Signer
	logger logging.Logger
	router chi.Router
}

// NewProxy returns a handler serving signer.
func NewProxy(signer crypto.Signer, logger logging.Logger) *Proxy {
	if logger == nil {
		logger = logging.Nop{}
	}
	p := &Proxy{signer: signer, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware("keyproxy"))
	r.Get(proxyKeyPath, p.handleKey)
	r.Post(proxySignPath, p.handleSign)
	p.router = r
	return p
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *Proxy) handleKey(w http.ResponseWriter, _ *http.Request) {
	data, err := MarshalPublicJWK(p.signer.Public())
	if err != nil {
		p.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = w.Write(data)
}

func (p *Proxy) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxProxyBody)).Decode(&req); err != nil {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	h, ok := proxyHashes[req.Hash]
	if !ok {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported hash %q", req.Hash))
		return
	}
	if len(req.Digest) != h.Size() {
		p.writeError(w, http.StatusBadRequest, fmt.Errorf("digest length %d does not match %s", len(req.Digest), h))
		return
	}

	var opts crypto.SignerOpts = h
	if req.PSS {
		if _, ok := p.signer.Public().(*rsa.PublicKey); !ok {
			p.writeError(w, http.StatusBadRequest, fmt.Errorf("PSS requires an RSA key"))
			return
		}
		opts = &rsa.PSSOptions{SaltLength: req.SaltLength, Hash: h}
	}

	sig, err := p.signer.Sign(rand.Reader, req.Digest, opts)
	if err != nil {
		p.writeError(w, http.StatusInternalServerError, err)
		return
	}
	p.logger.Debug("proxy signed digest", logging.String("hash", h.String()), logging.Bool("pss", req.PSS))
	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(signResponse{Signature: sig})
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, err error) {
	p.logger.Warn("proxy request failed", logging.Int("status", status), logging.Error(err))
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// RemoteSigner is a crypto.Signer backed by a Proxy.
type RemoteSigner struct {
	baseURL string
	client  *http.Client
	public  crypto.PublicKey
	timeout time.Duration
}

// NewRemoteSigner fetches the proxy's public key. client may be nil.
func NewRemoteSigner(ctx context.Context, baseURL string, client *http.Client) (*RemoteSigner, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	s := &RemoteSigner{baseURL: strings.TrimRight(baseURL, "/"), client: client, timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+proxyKeyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to build key request: %w", err)
	}
	body, err := s.do(req)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicJWK(body)
	if err != nil {
		return nil, err
	}
	s.public = pub
	return s, nil
}

// Public implements crypto.Signer.
func (s *RemoteSigner) Public() crypto.PublicKey {
	return s.public
}

// Sign implements crypto.Signer. rand is ignored; the proxy uses its own.
func (s *RemoteSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	sr := signRequest{Digest: digest, Hash: opts.HashFunc().String()}
	if pss, ok := opts.(*rsa.PSSOptions); ok {
		sr.PSS = true
		sr.SaltLength = pss.SaltLength
	}
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+proxySignPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("keys: failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	body, err := s.do(req)
	if err != nil {
		return nil, err
	}
	var resp signResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("keys: invalid sign response: %w", err)
	}
	return resp.Signature, nil
}

func (s *RemoteSigner) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keys: proxy request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyBody))
	if err != nil {
		return nil, fmt.Errorf("keys: failed to read proxy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, e.Error)
		}
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Status)
	}
	return body, nil
}

var _ crypto.Signer = (*RemoteSigner)(nil)
