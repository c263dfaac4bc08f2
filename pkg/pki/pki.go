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

// Package pki builds throwaway certificate hierarchies for the regression
// procedures and the package tests: roots, intermediates and leaves with the
// extensions the trust policies look for.
package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 - RFC 5280 key identifier method 1
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

const (
	defaultLeafValidity = 90 * 24 * time.Hour
	defaultRootValidity = 10 * 365 * 24 * time.Hour
)

// Identity is a certificate together with its private key and issuer.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	Issuer      *Identity
}

// NewRoot creates a self-signed CA. The default key is ECDSA P-256.
func NewRoot(opts ...Option) (*Identity, error) {
	opts = append([]Option{Subject("Test Root CA"), CA(), ValidFor(defaultRootValidity)}, opts...)
	return create(nil, opts)
}

// Issue creates a certificate signed by id.
func (id *Identity) Issue(opts ...Option) (*Identity, error) {
	if id == nil || id.PrivateKey == nil {
		return nil, fmt.Errorf("pki: issuer has no private key")
	}
	opts = append([]Option{Subject("Test Leaf"), ValidFor(defaultLeafValidity)}, opts...)
	return create(id, opts)
}

// IssueCA creates an intermediate CA signed by id.
func (id *Identity) IssueCA(opts ...Option) (*Identity, error) {
	return id.Issue(append([]Option{Subject("Test Intermediate CA"), CA(), ValidFor(defaultRootValidity / 2)}, opts...)...)
}

func create(issuer *Identity, opts []Option) (*Identity, error) {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}

	key := c.key
	if key == nil {
		fn := c.keyFn
		if fn == nil {
			fn = func() (crypto.Signer, error) { return generateEC(elliptic.P256()) }
		}
		k, err := fn()
		if err != nil {
			return nil, fmt.Errorf("pki: failed to generate key: %w", err)
		}
		key = k
	}

	serial := c.serial
	if serial == nil {
		s, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
		if err != nil {
			return nil, fmt.Errorf("pki: failed to generate serial number: %w", err)
		}
		serial = s
	}

	skid, err := SubjectKeyID(key.Public())
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               c.subject,
		NotBefore:             c.notBefore,
		NotAfter:              c.notAfter,
		KeyUsage:              c.keyUsage,
		ExtKeyUsage:           c.extKeyUsage,
		DNSNames:              c.dnsNames,
		EmailAddresses:        c.emails,
		OCSPServer:            c.ocsp,
		CRLDistributionPoints: c.crl,
		ExtraExtensions:       c.extensions,
		SignatureAlgorithm:    c.sigAlg,
		BasicConstraintsValid: true,
		IsCA:                  c.isCA,
	}
	if !c.noSKID {
		template.SubjectKeyId = skid
	}
	if c.isCA {
		if template.KeyUsage == 0 {
			template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
		}
		if c.maxPathLen >= 0 {
			template.MaxPathLen = c.maxPathLen
			template.MaxPathLenZero = c.maxPathLen == 0
		}
	} else if template.KeyUsage == 0 {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		if _, ok := key.(*rsa.PrivateKey); ok {
			template.KeyUsage |= x509.KeyUsageKeyEncipherment
		}
	}

	parent, signer := template, key
	if issuer != nil {
		parent, signer = issuer.Certificate, issuer.PrivateKey
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to parse certificate: %w", err)
	}
	return &Identity{Certificate: cert, PrivateKey: key, Issuer: issuer}, nil
}

// Chain returns the certificates from id up to its root.
func (id *Identity) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for cur := id; cur != nil; cur = cur.Issuer {
		chain = append(chain, cur.Certificate)
	}
	return chain
}

// Intermediates returns the issuers between id and its root.
func (id *Identity) Intermediates() []*x509.Certificate {
	chain := id.Chain()
	if len(chain) <= 2 {
		return nil
	}
	return chain[1 : len(chain)-1]
}

// Root returns the top of the hierarchy.
func (id *Identity) Root() *Identity {
	cur := id
	for cur.Issuer != nil {
		cur = cur.Issuer
	}
	return cur
}

// RootPool returns a pool holding only the root certificate.
func (id *Identity) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.Root().Certificate)
	return pool
}

// CertPEM returns the certificate in PEM form.
func (id *Identity) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Raw})
}

// KeyPEM returns the private key as an unencrypted PKCS#8 PEM block.
func (id *Identity) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// CRL issues a certificate revocation list signed by id.
func (id *Identity) CRL(number int64, revoked []x509.RevocationListEntry, nextUpdate time.Time) ([]byte, error) {
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                time.Now().Add(-time.Minute),
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: revoked,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, id.Certificate, id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to create CRL: %w", err)
	}
	return der, nil
}

// SubjectKeyID computes the RFC 5280 method 1 key identifier: the SHA-1 of
// the subjectPublicKey bit string.
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to marshal public key: %w", err)
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("pki: failed to parse public key: %w", err)
	}
	sum := sha1.Sum(spki.PublicKey.Bytes) // #nosec G401
	return sum[:], nil
}

func generateRSA(bits int) (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, bits)
}

func generateEC(curve elliptic.Curve) (crypto.Signer, error) {
	return ecdsa.GenerateKey(curve, rand.Reader)
}
