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

package certstore

import (
	"context"
	"crypto"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/file"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

var _ trust.CRLSource = (*Store)(nil)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(memory.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

// ========================================================================
// Certificates
// ========================================================================

func TestAddGetRemove(t *testing.T) {
	s := newStore(t)
	root, err := pki.NewRoot()
	require.NoError(t, err)

	require.NoError(t, s.Add(root.Certificate))
	require.NoError(t, s.Add(root.Certificate))

	got, err := s.Get(fingerprint(root.Certificate))
	require.NoError(t, err)
	assert.True(t, got.Equal(root.Certificate))

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Remove(root.Certificate))
	_, err = s.Get(fingerprint(root.Certificate))
	assert.ErrorIs(t, err, ErrCertNotFound)
	assert.ErrorIs(t, s.Remove(root.Certificate), ErrCertNotFound)

	assert.ErrorIs(t, s.Add(nil), ErrCertInvalid)
}

func TestIdentities(t *testing.T) {
	s := newStore(t)
	root, err := pki.NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)

	require.NoError(t, s.AddIdentity(leaf.Certificate, leaf.PrivateKey))
	assert.ErrorIs(t, s.AddIdentity(leaf.Certificate, root.PrivateKey), ErrKeyMismatch)

	ids, err := s.Identities()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, ids[0].Certificate.Equal(leaf.Certificate))
	assert.True(t, leaf.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(ids[0].PrivateKey.Public()))
}

func TestFindIdentitiesByIssuer(t *testing.T) {
	s := newStore(t)
	rootA, err := pki.NewRoot(pki.Subject("Root A"))
	require.NoError(t, err)
	interA, err := rootA.IssueCA(pki.Subject("Inter A"))
	require.NoError(t, err)
	leafA, err := interA.Issue(pki.Subject("leaf A"))
	require.NoError(t, err)

	rootB, err := pki.NewRoot(pki.Subject("Root B"))
	require.NoError(t, err)
	leafB, err := rootB.Issue(pki.Subject("leaf B"))
	require.NoError(t, err)

	require.NoError(t, s.Add(rootA.Certificate))
	require.NoError(t, s.Add(interA.Certificate))
	require.NoError(t, s.Add(rootB.Certificate))
	require.NoError(t, s.AddIdentity(leafA.Certificate, leafA.PrivateKey))
	require.NoError(t, s.AddIdentity(leafB.Certificate, leafB.PrivateKey))

	// Direct issuer.
	ids, err := s.FindIdentitiesByIssuer(interA.Certificate.RawSubject)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "leaf A", ids[0].Certificate.Subject.CommonName)

	// Issuer further up the chain.
	ids, err = s.FindIdentitiesByIssuer(rootA.Certificate.RawSubject)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "leaf A", ids[0].Certificate.Subject.CommonName)

	ids, err = s.FindIdentitiesByIssuer(rootA.Certificate.RawSubject, rootB.Certificate.RawSubject)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	other, err := pki.NewRoot(pki.Subject("Unrelated"))
	require.NoError(t, err)
	ids, err = s.FindIdentitiesByIssuer(other.Certificate.RawSubject)
	require.NoError(t, err)
	assert.Empty(t, ids)

	certs, err := s.FindByIssuer(rootA.Certificate.RawSubject)
	require.NoError(t, err)
	// Root A is self-issued, so it matches along with Inter A.
	assert.Len(t, certs, 2)

	chain, err := s.Chain(leafA.Certificate)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

// ========================================================================
// CRLs
// ========================================================================

func TestCRLRevocation(t *testing.T) {
	s := newStore(t)
	root, err := pki.NewRoot()
	require.NoError(t, err)
	good, err := root.Issue(pki.Subject("good"))
	require.NoError(t, err)
	bad, err := root.Issue(pki.Subject("bad"))
	require.NoError(t, err)

	revokedAt := time.Now().Add(-time.Minute).Truncate(time.Second)
	der, err := root.CRL(1, []x509.RevocationListEntry{{SerialNumber: bad.Certificate.SerialNumber, RevocationTime: revokedAt}}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.ErrorIs(t, s.AddCRL(der), ErrCRLIssuerUnknown)
	assert.ErrorIs(t, s.AddCRL([]byte("junk")), ErrCRLInvalid)

	require.NoError(t, s.Add(root.Certificate))
	require.NoError(t, s.AddCRL(der))
	assert.True(t, s.HasCRL(root.Certificate))
	assert.False(t, s.HasCRL(good.Certificate))

	revoked, at, err := s.IsRevoked(bad.Certificate)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, revokedAt.Equal(at))

	revoked, _, err = s.IsRevoked(good.Certificate)
	require.NoError(t, err)
	assert.False(t, revoked)

	e := trust.NewEvaluator(trust.WithAnchors(root.Certificate), trust.WithRevocation(trust.CRLChecker{Source: s}, false))
	ev, err := e.Evaluate(context.Background(), bad.Certificate)
	require.NoError(t, err)
	assert.Equal(t, trust.FatalTrustFailure, ev.Result)
	ev, err = e.Evaluate(context.Background(), good.Certificate)
	require.NoError(t, err)
	assert.True(t, ev.Trusted())
}

func TestCRLExpired(t *testing.T) {
	s := newStore(t)
	root, err := pki.NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)
	require.NoError(t, s.Add(root.Certificate))

	der, err := root.CRL(1, nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.AddCRL(der))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = s.IsRevoked(leaf.Certificate)
	assert.ErrorIs(t, err, ErrCRLExpired)
}

func TestCRLNewerWins(t *testing.T) {
	s := newStore(t)
	root, err := pki.NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)
	require.NoError(t, s.Add(root.Certificate))

	revoking, err := root.CRL(2, []x509.RevocationListEntry{{SerialNumber: leaf.Certificate.SerialNumber, RevocationTime: time.Now()}}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	stale, err := root.CRL(1, nil, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.AddCRL(revoking))
	require.NoError(t, s.AddCRL(stale))

	revoked, _, err := s.IsRevoked(leaf.Certificate)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestCRLsPersist(t *testing.T) {
	dir := t.TempDir()
	backend, err := file.New(dir)
	require.NoError(t, err)
	s, err := New(backend)
	require.NoError(t, err)

	root, err := pki.NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)
	require.NoError(t, s.Add(root.Certificate))
	der, err := root.CRL(1, []x509.RevocationListEntry{{SerialNumber: leaf.Certificate.SerialNumber, RevocationTime: time.Now()}}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.AddCRL(der))
	require.NoError(t, s.Close())

	backend, err = file.New(dir)
	require.NoError(t, err)
	reopened, err := New(backend)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	revoked, _, err := reopened.IsRevoked(leaf.Certificate)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestClosed(t *testing.T) {
	s, err := New(memory.New())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	root, err := pki.NewRoot()
	require.NoError(t, err)
	assert.ErrorIs(t, s.Add(root.Certificate), ErrStorageClosed)
	_, err = s.List()
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, _, err = s.IsRevoked(root.Certificate)
	assert.ErrorIs(t, err, ErrStorageClosed)
}
