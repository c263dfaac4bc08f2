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

// Package certstore keeps certificates, identities (certificate plus private
// key) and CRLs on top of a storage.Backend.
//
// Layout:
//
//	certs/<sha256>   DER certificate
//	keys/<sha256>    PKCS#8 private key for the certificate with that fingerprint
//	crls/<sha256>    DER CRL, keyed by the SHA-256 of the issuer name
package certstore

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

const (
	certPrefix = "certs/"
	keyPrefix  = "keys/"
	crlPrefix  = "crls/"
)

// Identity is a certificate with its private key.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// Store is a certificate and CRL store.
type Store struct {
	mu      sync.RWMutex
	backend storage.Backend
	crls    map[string]*x509.RevocationList // issuer name hash -> CRL
	now     func() time.Time
	closed  bool
}

// New opens a store on backend and loads any persisted CRLs.
func New(backend storage.Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("certstore: storage backend is required")
	}
	s := &Store{
		backend: backend,
		crls:    make(map[string]*x509.RevocationList),
		now:     time.Now,
	}
	keys, err := backend.List(crlPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list CRLs: %w", err)
	}
	for _, key := range keys {
		der, err := backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		crl, err := x509.ParseRevocationList(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCRLInvalid, key, err)
		}
		s.crls[nameHash(crl.RawIssuer)] = crl
	}
	return s, nil
}

// ========================================================================
// Certificates and identities
// ========================================================================

// Add stores cert. Adding the same certificate twice is a no-op.
func (s *Store) Add(cert *x509.Certificate) error {
	if cert == nil || len(cert.Raw) == 0 {
		return ErrCertInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	return s.putCert(cert)
}

// AddIdentity stores cert and key together.
func (s *Store) AddIdentity(cert *x509.Certificate, key crypto.Signer) error {
	if cert == nil || len(cert.Raw) == 0 {
		return ErrCertInvalid
	}
	if !publicKeysEqual(cert.PublicKey, key.Public()) {
		return ErrKeyMismatch
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	if err := s.putCert(cert); err != nil {
		return err
	}
	if err := s.backend.Put(keyPrefix+fingerprint(cert), der); err != nil {
		return fmt.Errorf("failed to store private key: %w", err)
	}
	return nil
}

func (s *Store) putCert(cert *x509.Certificate) error {
	if err := s.backend.Put(certPrefix+fingerprint(cert), cert.Raw); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	return nil
}

// Get returns the certificate with the given SHA-256 fingerprint (hex).
func (s *Store) Get(fp string) (*x509.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	return s.getCert(certPrefix + fp)
}

func (s *Store) getCert(key string) (*x509.Certificate, error) {
	der, err := s.backend.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertInvalid, err)
	}
	return cert, nil
}

// Remove deletes cert and its private key, if any.
func (s *Store) Remove(cert *x509.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	fp := fingerprint(cert)
	if err := s.backend.Delete(certPrefix + fp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCertNotFound
		}
		return fmt.Errorf("failed to delete certificate: %w", err)
	}
	if err := s.backend.Delete(keyPrefix + fp); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete private key: %w", err)
	}
	return nil
}

// List returns every stored certificate ordered by fingerprint.
func (s *Store) List() ([]*x509.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	return s.listLocked()
}

func (s *Store) listLocked() ([]*x509.Certificate, error) {
	keys, err := s.backend.List(certPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	out := make([]*x509.Certificate, 0, len(keys))
	for _, key := range keys {
		cert, err := s.getCert(key)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, nil
}

// Identities returns every certificate that has a stored private key.
func (s *Store) Identities() ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	return s.identitiesLocked()
}

func (s *Store) identitiesLocked() ([]Identity, error) {
	keys, err := s.backend.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list private keys: %w", err)
	}
	out := make([]Identity, 0, len(keys))
	for _, key := range keys {
		fp := key[len(keyPrefix):]
		cert, err := s.getCert(certPrefix + fp)
		if err != nil {
			return nil, err
		}
		der, err := s.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		k, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("certstore: unsupported key type %T", k)
		}
		out = append(out, Identity{Certificate: cert, PrivateKey: signer})
	}
	return out, nil
}

// ========================================================================
// Issuer matching
// ========================================================================

// FindByIssuer returns the stored certificates whose issuer name equals
// rawIssuer (DER).
func (s *Store) FindByIssuer(rawIssuer []byte) ([]*x509.Certificate, error) {
	certs, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*x509.Certificate
	for _, c := range certs {
		if bytes.Equal(c.RawIssuer, rawIssuer) {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindIdentitiesByIssuer returns the identities whose chain, built from the
// stored certificates, contains a certificate issued by one of issuers (DER
// names). Identities are ordered by fingerprint.
func (s *Store) FindIdentitiesByIssuer(issuers ...[]byte) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	ids, err := s.identitiesLocked()
	if err != nil {
		return nil, err
	}
	pool, err := s.listLocked()
	if err != nil {
		return nil, err
	}

	var out []Identity
	for _, id := range ids {
		for _, c := range buildChain(id.Certificate, pool) {
			if matchesAny(c.RawIssuer, issuers) {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

// Chain links cert to its issuers using the stored certificates.
func (s *Store) Chain(cert *x509.Certificate) ([]*x509.Certificate, error) {
	pool, err := s.List()
	if err != nil {
		return nil, err
	}
	return buildChain(cert, pool), nil
}

func buildChain(cert *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{cert}
	cur := cert
	for len(chain) <= len(pool) && !bytes.Equal(cur.RawIssuer, cur.RawSubject) {
		var next *x509.Certificate
		for _, c := range pool {
			if bytes.Equal(c.RawSubject, cur.RawIssuer) && cur.CheckSignatureFrom(c) == nil {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

func matchesAny(name []byte, names [][]byte) bool {
	for _, n := range names {
		if bytes.Equal(name, n) {
			return true
		}
	}
	return false
}

// ========================================================================
// Revocation lists
// ========================================================================

// AddCRL parses der, checks it was signed by a stored certificate and
// installs it, replacing an older CRL for the same issuer.
func (s *Store) AddCRL(der []byte) error {
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCRLInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	certs, err := s.listLocked()
	if err != nil {
		return err
	}
	var signed bool
	for _, c := range certs {
		if bytes.Equal(c.RawSubject, crl.RawIssuer) && crl.CheckSignatureFrom(c) == nil {
			signed = true
			break
		}
	}
	if !signed {
		return ErrCRLIssuerUnknown
	}

	key := nameHash(crl.RawIssuer)
	if old, ok := s.crls[key]; ok && old.Number != nil && crl.Number != nil && old.Number.Cmp(crl.Number) > 0 {
		return nil
	}
	if err := s.backend.Put(crlPrefix+key, der); err != nil {
		return fmt.Errorf("failed to store CRL: %w", err)
	}
	s.crls[key] = crl
	return nil
}

// HasCRL reports whether a CRL from issuer is installed.
func (s *Store) HasCRL(issuer *x509.Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.crls[nameHash(issuer.RawSubject)]
	return ok
}

// IsRevoked looks cert up in its issuer's CRL. Without a CRL the answer is
// false. An expired CRL yields ErrCRLExpired.
func (s *Store) IsRevoked(cert *x509.Certificate) (bool, time.Time, error) {
	if cert == nil {
		return false, time.Time{}, ErrCertInvalid
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, time.Time{}, ErrStorageClosed
	}

	crl, ok := s.crls[nameHash(cert.RawIssuer)]
	if !ok {
		return false, time.Time{}, nil
	}
	if !crl.NextUpdate.IsZero() && !s.now().Before(crl.NextUpdate) {
		return false, time.Time{}, ErrCRLExpired
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return true, entry.RevocationTime, nil
		}
	}
	return false, time.Time{}, nil
}

// Close releases the store and the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.crls = nil
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

func fingerprint(c *x509.Certificate) string {
	sum := sha256.Sum256(c.Raw)
	return hex.EncodeToString(sum[:])
}

func nameHash(rawName []byte) string {
	sum := sha256.Sum256(rawName)
	return hex.EncodeToString(sum[:])
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	type equaler interface{ Equal(crypto.PublicKey) bool }
	ea, ok := a.(equaler)
	return ok && ea.Equal(b)
}
