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

// Package cms signs, verifies, encrypts and decrypts Cryptographic Message
// Syntax messages on top of go.mozilla.org/pkcs7, adding certificate
// inclusion modes, subject key identifier signer lookup, the expiration-time
// signed attribute and trust evaluation of the signer.
package cms

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"sync"
	"time"

	"go.mozilla.org/pkcs7"
)

// pkcs7 keeps package state (the content cipher and the BER conversion
// buffer). Every call into it holds pkcs7Mu.
var pkcs7Mu sync.Mutex

func parse(der []byte) (*pkcs7.PKCS7, error) {
	pkcs7Mu.Lock()
	defer pkcs7Mu.Unlock()
	return pkcs7.Parse(der)
}

// OIDAttributeExpirationTime is the signed attribute carrying the time after
// which a message must be rejected.
var OIDAttributeExpirationTime = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 3}

// ChainMode selects which certificates are embedded in a signed message.
type ChainMode int

const (
	// ChainDefault embeds the signer and its intermediates.
	ChainDefault ChainMode = iota
	ChainNone
	ChainSignerOnly
	ChainWithRoot
)

func (m ChainMode) String() string {
	switch m {
	case ChainNone:
		return "none"
	case ChainSignerOnly:
		return "signer_only"
	case ChainWithRoot:
		return "chain_with_root"
	default:
		return "chain"
	}
}

// SignerIdentifier selects how SignerInfo names its certificate.
type SignerIdentifier int

const (
	IssuerAndSerial SignerIdentifier = iota
	SubjectKeyIdentifier
)

// Signer is a certificate with its private key and the rest of its chain,
// ordered from the issuer towards the root.
type Signer struct {
	Certificate *x509.Certificate
	Key         crypto.Signer
	Chain       []*x509.Certificate
}

// SignOptions controls Sign.
type SignOptions struct {
	// Detached omits the content from the message.
	Detached bool

	// Digest defaults to SHA-256.
	Digest crypto.Hash

	ChainMode  ChainMode
	Identifier SignerIdentifier

	// ExpirationTime adds the expiration-time attribute when non-zero.
	ExpirationTime time.Time
}

// Sign produces a DER encoded SignedData message.
func Sign(content []byte, signer Signer, opts SignOptions) ([]byte, error) {
	if signer.Certificate == nil || signer.Key == nil {
		return nil, fmt.Errorf("cms: signer requires a certificate and a key")
	}
	digest, err := digestOID(opts.Digest)
	if err != nil {
		return nil, err
	}

	der, err := signedData(content, signer, digest, opts)
	if err != nil {
		return nil, err
	}
	if opts.ChainMode == ChainNone {
		if der, err = stripCertificates(der); err != nil {
			return nil, err
		}
	}
	if opts.Identifier == SubjectKeyIdentifier {
		if len(signer.Certificate.SubjectKeyId) == 0 {
			return nil, fmt.Errorf("cms: signer certificate has no subject key identifier")
		}
		if der, err = useSubjectKeyID(der, signer.Certificate.SubjectKeyId); err != nil {
			return nil, err
		}
	}
	return der, nil
}

func signedData(content []byte, signer Signer, digest asn1.ObjectIdentifier, opts SignOptions) ([]byte, error) {
	pkcs7Mu.Lock()
	defer pkcs7Mu.Unlock()

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to initialize signed data: %w", err)
	}
	sd.SetDigestAlgorithm(digest)

	var cfg pkcs7.SignerInfoConfig
	if !opts.ExpirationTime.IsZero() {
		cfg.ExtraSignedAttributes = append(cfg.ExtraSignedAttributes, pkcs7.Attribute{
			Type:  OIDAttributeExpirationTime,
			Value: opts.ExpirationTime.UTC(),
		})
	}

	switch opts.ChainMode {
	case ChainNone, ChainSignerOnly:
		err = sd.AddSigner(signer.Certificate, signer.Key, cfg)
	case ChainWithRoot:
		err = sd.AddSignerChain(signer.Certificate, signer.Key, signer.Chain, cfg)
	default:
		err = sd.AddSignerChain(signer.Certificate, signer.Key, withoutRoots(signer.Chain), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cms: failed to add signer: %w", err)
	}
	if opts.Detached {
		sd.Detach()
	}

	der, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("cms: failed to encode signed data: %w", err)
	}
	return der, nil
}

func withoutRoots(chain []*x509.Certificate) []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(chain))
	for _, c := range chain {
		if isSelfSigned(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isSelfSigned(c *x509.Certificate) bool {
	return c.CheckSignatureFrom(c) == nil
}

func digestOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case 0, crypto.SHA256:
		return pkcs7.OIDDigestAlgorithmSHA256, nil
	case crypto.SHA384:
		return pkcs7.OIDDigestAlgorithmSHA384, nil
	case crypto.SHA512:
		return pkcs7.OIDDigestAlgorithmSHA512, nil
	case crypto.SHA1:
		return pkcs7.OIDDigestAlgorithmSHA1, nil
	default:
		return nil, fmt.Errorf("cms: unsupported digest %v", h)
	}
}

func digestHash(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA256):
		return crypto.SHA256
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA384):
		return crypto.SHA384
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA512):
		return crypto.SHA512
	case oid.Equal(pkcs7.OIDDigestAlgorithmSHA1):
		return crypto.SHA1
	default:
		return 0
	}
}
