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

// Package pkcs12 imports and exports identities and trust stores as PKCS#12
// (PFX) files.
package pkcs12

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrIncorrectPassword is returned when the MAC or the bags do not
	// decrypt under the supplied password.
	ErrIncorrectPassword = errors.New("pkcs12: incorrect password")

	ErrKeyMismatch = errors.New("pkcs12: private key does not match certificate")

	ErrUnsupportedKey = errors.New("pkcs12: unsupported private key")

	ErrEmptyTrustStore = errors.New("pkcs12: no certificates")
)

// Encoding selects the PBE algorithms of an exported file.
type Encoding int

const (
	// Modern uses PBES2 with AES-256-CBC and an HMAC-SHA-256 MAC.
	Modern Encoding = iota
	// LegacyDES uses 3DES for keys and certificates, for old importers.
	LegacyDES
	// LegacyRC2 uses RC2-40 for certificates and 3DES for keys.
	LegacyRC2
)

func (e Encoding) String() string {
	switch e {
	case LegacyDES:
		return "legacy-des"
	case LegacyRC2:
		return "legacy-rc2"
	default:
		return "modern"
	}
}

func (e Encoding) encoder() *gopkcs12.Encoder {
	switch e {
	case LegacyDES:
		return gopkcs12.LegacyDES
	case LegacyRC2:
		return gopkcs12.LegacyRC2
	default:
		return gopkcs12.Modern
	}
}

// Identity is a certificate, its private key and the CA certificates that
// travel with it.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	CACerts     []*x509.Certificate
}

// Export encodes id under password.
func Export(id *Identity, password string, enc Encoding) ([]byte, error) {
	if id == nil || id.Certificate == nil || id.PrivateKey == nil {
		return nil, fmt.Errorf("pkcs12: identity requires a certificate and a private key")
	}
	if err := checkKeyPair(id.Certificate, id.PrivateKey); err != nil {
		return nil, err
	}
	data, err := enc.encoder().Encode(id.PrivateKey, id.Certificate, id.CACerts, password)
	if err != nil {
		return nil, fmt.Errorf("pkcs12: failed to encode identity: %w", err)
	}
	return data, nil
}

// Import decodes an identity file.
func Import(data []byte, password string) (*Identity, error) {
	key, cert, cas, err := gopkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, mapError(err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if err := checkKeyPair(cert, signer); err != nil {
		return nil, err
	}
	return &Identity{Certificate: cert, PrivateKey: signer, CACerts: cas}, nil
}

// ExportTrustStore encodes certs as a Java-style trust store.
func ExportTrustStore(certs []*x509.Certificate, password string) ([]byte, error) {
	if len(certs) == 0 {
		return nil, ErrEmptyTrustStore
	}
	data, err := gopkcs12.Modern.EncodeTrustStore(certs, password)
	if err != nil {
		return nil, fmt.Errorf("pkcs12: failed to encode trust store: %w", err)
	}
	return data, nil
}

// ImportTrustStore decodes a trust store file.
func ImportTrustStore(data []byte, password string) ([]*x509.Certificate, error) {
	certs, err := gopkcs12.DecodeTrustStore(data, password)
	if err != nil {
		return nil, mapError(err)
	}
	return certs, nil
}

func mapError(err error) error {
	if errors.Is(err, gopkcs12.ErrIncorrectPassword) {
		return ErrIncorrectPassword
	}
	return fmt.Errorf("pkcs12: failed to decode: %w", err)
}

func checkKeyPair(cert *x509.Certificate, key crypto.Signer) error {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}
