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

package trust

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/pki"
)

type fakeChecker struct {
	results map[string]RevocationResult
	err     error
}

func (f fakeChecker) CheckRevocation(_ context.Context, cert, _ *x509.Certificate) (RevocationResult, error) {
	if res, ok := f.results[cert.Subject.CommonName]; ok {
		return res, nil
	}
	if f.err != nil {
		return RevocationResult{}, f.err
	}
	return RevocationResult{}, ErrNoRevocationInfo
}

type fakeCRLs struct {
	issuer  *x509.Certificate
	revoked map[string]bool
}

func (f fakeCRLs) HasCRL(issuer *x509.Certificate) bool {
	return issuer.Equal(f.issuer)
}

func (f fakeCRLs) IsRevoked(cert *x509.Certificate) (bool, time.Time, error) {
	return f.revoked[cert.SerialNumber.String()], time.Unix(1700000000, 0), nil
}

func TestRevocationRevokedIsFatal(t *testing.T) {
	h := newHierarchy(t)
	checker := fakeChecker{results: map[string]RevocationResult{
		"www.example.com": {Status: RevocationRevoked, Source: "ocsp", RevokedAt: time.Now()},
	}}
	ev := h.evaluate(t, WithRevocation(checker, false))
	assert.Equal(t, FatalTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonRevoked))
	require.Len(t, ev.Revocation, 1)
	assert.Equal(t, 0, ev.Revocation[0].Index)
}

func TestRevocationUnknownAndRequire(t *testing.T) {
	h := newHierarchy(t)
	checker := fakeChecker{results: map[string]RevocationResult{
		"www.example.com": {Status: RevocationUnknown, Source: "ocsp"},
	}}

	ev := h.evaluate(t, WithRevocation(checker, false))
	assert.True(t, ev.Trusted())

	ev = h.evaluate(t, WithRevocation(checker, true))
	assert.Equal(t, RecoverableTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonRevocationUnavailable))
}

func TestRevocationErrors(t *testing.T) {
	h := newHierarchy(t)
	checker := fakeChecker{err: errors.New("responder down")}

	ev := h.evaluate(t, WithRevocation(checker, false))
	assert.True(t, ev.Trusted())
	require.Len(t, ev.Revocation, 2)
	assert.Error(t, ev.Revocation[0].Err)

	ev = h.evaluate(t, WithRevocation(checker, true))
	assert.True(t, ev.Has(ReasonRevocationUnavailable))
}

func TestRevocationNoInfoIsIgnored(t *testing.T) {
	h := newHierarchy(t)
	ev := h.evaluate(t, WithRevocation(fakeChecker{}, true))
	assert.True(t, ev.Trusted())
	assert.Empty(t, ev.Revocation)
}

func TestCRLChecker(t *testing.T) {
	h := newHierarchy(t)
	src := fakeCRLs{issuer: h.inter.Certificate, revoked: map[string]bool{
		h.leaf.Certificate.SerialNumber.String(): true,
	}}
	checker := CRLChecker{Source: src}

	res, err := checker.CheckRevocation(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, RevocationRevoked, res.Status)
	assert.Equal(t, "crl", res.Source)

	_, err = checker.CheckRevocation(context.Background(), h.inter.Certificate, h.root.Certificate)
	assert.ErrorIs(t, err, ErrNoRevocationInfo)

	ev := h.evaluate(t, WithRevocation(Checkers{fakeChecker{}, checker}, false))
	assert.Equal(t, FatalTrustFailure, ev.Result)
}

func TestRevocationHonoursContext(t *testing.T) {
	h := newHierarchy(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEvaluator(WithAnchors(h.root.Certificate), WithRevocation(fakeChecker{}, false))
	ev, err := e.Evaluate(ctx, h.leaf.Certificate, h.inter.Certificate)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OtherError, ev.Result)
}

func TestProperties(t *testing.T) {
	h := newHierarchy(t)
	blocked := NewBlocklist()
	blocked.BlockKey(h.leaf.Certificate, "test")
	ev := h.evaluate(t, WithBlocklist(blocked))

	props := ev.Properties()
	require.Len(t, props, 3)
	assert.Contains(t, props[0].Subject, "www.example.com")
	assert.Equal(t, "SHA-256", props[0].SignatureHash)
	assert.Equal(t, "blocklisted", props[0].Error)
	assert.True(t, props[1].IsCA)
	assert.Empty(t, props[1].Error)

	labels := props[0].Labelled()
	assert.Equal(t, "Subject", labels[0].Label)
	assert.Equal(t, "Error", labels[len(labels)-1].Label)
}

func TestSignatureHash(t *testing.T) {
	root, err := pki.NewRoot(pki.RSAKey(2048))
	require.NoError(t, err)

	tests := []struct {
		alg  x509.SignatureAlgorithm
		want crypto.Hash
	}{
		{x509.SHA256WithRSA, crypto.SHA256},
		{x509.SHA384WithRSA, crypto.SHA384},
		{x509.SHA512WithRSAPSS, crypto.SHA512},
	}
	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			leaf, err := root.Issue(pki.SignatureAlgorithm(tt.alg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, SignatureHash(leaf.Certificate))
		})
	}

	assert.Equal(t, crypto.SHA1, SignatureHash(&x509.Certificate{SignatureAlgorithm: x509.ECDSAWithSHA1}))
	assert.Equal(t, crypto.Hash(0), SignatureHash(&x509.Certificate{SignatureAlgorithm: x509.PureEd25519}))
}
