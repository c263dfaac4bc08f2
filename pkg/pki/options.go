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

package pki

import (
	"crypto"
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

// asn1Null is the DER encoding of an ASN.1 NULL, the value carried by marker
// extensions.
var asn1Null = []byte{0x05, 0x00}

type config struct {
	subject     pkix.Name
	isCA        bool
	maxPathLen  int
	keyFn       func() (crypto.Signer, error)
	key         crypto.Signer
	notBefore   time.Time
	notAfter    time.Time
	keyUsage    x509.KeyUsage
	extKeyUsage []x509.ExtKeyUsage
	dnsNames    []string
	emails      []string
	ocsp        []string
	crl         []string
	extensions  []pkix.Extension
	serial      *big.Int
	sigAlg      x509.SignatureAlgorithm
	noSKID      bool
}

// Option adjusts a certificate template.
type Option func(*config)

// Subject sets the common name.
func Subject(cn string) Option {
	return func(c *config) { c.subject.CommonName = cn }
}

func Organization(o string) Option {
	return func(c *config) { c.subject.Organization = []string{o} }
}

// OrgUnit sets the organizational unit. Pass signing identities carry the
// team identifier here.
func OrgUnit(ou string) Option {
	return func(c *config) { c.subject.OrganizationalUnit = []string{ou} }
}

// Name replaces the whole subject.
func Name(n pkix.Name) Option {
	return func(c *config) { c.subject = n }
}

// CA marks the certificate as a certificate authority.
func CA() Option {
	return func(c *config) {
		c.isCA = true
		c.maxPathLen = -1
	}
}

// MaxPathLen sets the CA path length constraint. Zero means no further CAs.
func MaxPathLen(n int) Option {
	return func(c *config) { c.maxPathLen = n }
}

// RSAKey generates an RSA key of the given size.
func RSAKey(bits int) Option {
	return func(c *config) { c.keyFn = func() (crypto.Signer, error) { return generateRSA(bits) } }
}

// ECKey generates an ECDSA key on curve.
func ECKey(curve elliptic.Curve) Option {
	return func(c *config) { c.keyFn = func() (crypto.Signer, error) { return generateEC(curve) } }
}

// Key uses an existing key instead of generating one.
func Key(k crypto.Signer) Option {
	return func(c *config) { c.key = k }
}

// Validity sets the exact validity window.
func Validity(notBefore, notAfter time.Time) Option {
	return func(c *config) {
		c.notBefore = notBefore
		c.notAfter = notAfter
	}
}

// ValidFor sets the window to start an hour ago and last d.
func ValidFor(d time.Duration) Option {
	return func(c *config) {
		c.notBefore = time.Now().Add(-time.Hour).Truncate(time.Second)
		c.notAfter = c.notBefore.Add(d)
	}
}

func KeyUsage(ku x509.KeyUsage) Option {
	return func(c *config) { c.keyUsage = ku }
}

func ExtKeyUsage(eku ...x509.ExtKeyUsage) Option {
	return func(c *config) { c.extKeyUsage = append(c.extKeyUsage, eku...) }
}

func DNSNames(names ...string) Option {
	return func(c *config) { c.dnsNames = append(c.dnsNames, names...) }
}

func Emails(addrs ...string) Option {
	return func(c *config) { c.emails = append(c.emails, addrs...) }
}

// OCSPServer adds an AIA OCSP responder URL.
func OCSPServer(url string) Option {
	return func(c *config) { c.ocsp = append(c.ocsp, url) }
}

// CRLDistributionPoint adds a CRL distribution point URL.
func CRLDistributionPoint(url string) Option {
	return func(c *config) { c.crl = append(c.crl, url) }
}

// Marker adds a non-critical extension with a NULL value. Vendor policies
// recognise certificates by the presence of such extensions.
func Marker(oid asn1.ObjectIdentifier) Option {
	return Extension(pkix.Extension{Id: oid, Value: asn1Null})
}

// Extension adds an arbitrary extension.
func Extension(ext pkix.Extension) Option {
	return func(c *config) { c.extensions = append(c.extensions, ext) }
}

func Serial(n *big.Int) Option {
	return func(c *config) { c.serial = n }
}

func SignatureAlgorithm(alg x509.SignatureAlgorithm) Option {
	return func(c *config) { c.sigAlg = alg }
}

// NoSubjectKeyID leaves the subject key identifier out of a leaf.
func NoSubjectKeyID() Option {
	return func(c *config) { c.noSKID = true }
}
