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

// Package csr creates, parses and signs PKCS#10 certificate signing requests.
package csr

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

const pemType = "CERTIFICATE REQUEST"

var (
	ErrInvalidRequest = errors.New("csr: invalid request")

	// ErrBadSignature is returned when a request is not signed by its own key.
	ErrBadSignature = errors.New("csr: signature does not verify")

	ErrNotPEM = errors.New("csr: no CERTIFICATE REQUEST block")
)

// Request describes the subject of a signing request.
type Request struct {
	Subject     pkix.Name
	DNSNames    []string
	Emails      []string
	IPAddresses []net.IP
	Extensions  []pkix.Extension

	// SignatureAlgorithm is chosen from the key when zero.
	SignatureAlgorithm x509.SignatureAlgorithm
}

// Create returns a DER encoded request signed by key.
func Create(key crypto.Signer, req Request) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidRequest)
	}
	if req.Subject.CommonName == "" && len(req.DNSNames) == 0 && len(req.Emails) == 0 {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidRequest)
	}
	tmpl := &x509.CertificateRequest{
		Subject:            req.Subject,
		DNSNames:           req.DNSNames,
		EmailAddresses:     req.Emails,
		IPAddresses:        req.IPAddresses,
		ExtraExtensions:    req.Extensions,
		SignatureAlgorithm: req.SignatureAlgorithm,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, fmt.Errorf("csr: failed to create request: %w", err)
	}
	return der, nil
}

// Parse decodes a DER request and checks its self-signature.
func Parse(der []byte) (*x509.CertificateRequest, error) {
	cr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := cr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return cr, nil
}

// EncodePEM wraps der in a CERTIFICATE REQUEST block.
func EncodePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der})
}

// DecodePEM returns the first CERTIFICATE REQUEST block of data, parsed.
func DecodePEM(data []byte) (*x509.CertificateRequest, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNotPEM
		}
		if block.Type == pemType || block.Type == "NEW CERTIFICATE REQUEST" {
			return Parse(block.Bytes)
		}
	}
}

// IssueOptions controls Issue.
type IssueOptions struct {
	NotBefore   time.Time
	Validity    time.Duration
	Serial      *big.Int
	IsCA        bool
	KeyUsage    x509.KeyUsage
	ExtKeyUsage []x509.ExtKeyUsage
}

const defaultValidity = 365 * 24 * time.Hour

// Issue signs cr with the CA key. The request's subject, names and
// extensions are copied; its signature is checked first.
func Issue(cr *x509.CertificateRequest, ca *x509.Certificate, caKey crypto.Signer, opts IssueOptions) (*x509.Certificate, error) {
	if ca == nil || caKey == nil {
		return nil, fmt.Errorf("csr: issuing requires a CA certificate and key")
	}
	if err := cr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	tmpl, err := template(cr, opts)
	if err != nil {
		return nil, err
	}
	return create(tmpl, ca, cr.PublicKey, caKey)
}

// SelfSign issues a self-signed certificate for cr with key, which must be
// the request's own key.
func SelfSign(cr *x509.CertificateRequest, key crypto.Signer, opts IssueOptions) (*x509.Certificate, error) {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cr.PublicKey) {
		return nil, fmt.Errorf("%w: key does not match request", ErrInvalidRequest)
	}
	if err := cr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	tmpl, err := template(cr, opts)
	if err != nil {
		return nil, err
	}
	return create(tmpl, tmpl, cr.PublicKey, key)
}

func template(cr *x509.CertificateRequest, opts IssueOptions) (*x509.Certificate, error) {
	serial := opts.Serial
	if serial == nil {
		var err error
		serial, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
		if err != nil {
			return nil, fmt.Errorf("csr: failed to generate serial: %w", err)
		}
	}
	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Minute)
	}
	validity := opts.Validity
	if validity == 0 {
		validity = defaultValidity
	}
	keyUsage := opts.KeyUsage
	if keyUsage == 0 {
		keyUsage = x509.KeyUsageDigitalSignature
		if opts.IsCA {
			keyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		}
	}
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               cr.Subject,
		DNSNames:              cr.DNSNames,
		EmailAddresses:        cr.EmailAddresses,
		IPAddresses:           cr.IPAddresses,
		URIs:                  cr.URIs,
		ExtraExtensions:       requestedExtensions(cr),
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              keyUsage,
		ExtKeyUsage:           opts.ExtKeyUsage,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}, nil
}

func create(tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, fmt.Errorf("csr: failed to issue certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// Extensions the issuer derives itself are not copied from the request.
var managedExtensions = []asn1.ObjectIdentifier{
	{2, 5, 29, 14}, // subject key identifier
	{2, 5, 29, 15}, // key usage
	{2, 5, 29, 17}, // subject alternative name
	{2, 5, 29, 19}, // basic constraints
	{2, 5, 29, 35}, // authority key identifier
	{2, 5, 29, 37}, // extended key usage
}

func requestedExtensions(cr *x509.CertificateRequest) []pkix.Extension {
	var out []pkix.Extension
next:
	for _, ext := range cr.Extensions {
		for _, oid := range managedExtensions {
			if ext.Id.Equal(oid) {
				continue next
			}
		}
		out = append(out, ext)
	}
	return out
}
