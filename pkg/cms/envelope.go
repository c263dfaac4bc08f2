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

package cms

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// Encrypt produces an EnvelopedData message for recipients using
// AES-256-CBC content encryption and RSA key transport.
func Encrypt(content []byte, recipients ...*x509.Certificate) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	for _, r := range recipients {
		if _, ok := r.PublicKey.(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedRecipient, r.PublicKey)
		}
	}

	pkcs7Mu.Lock()
	defer pkcs7Mu.Unlock()
	prev := pkcs7.ContentEncryptionAlgorithm
	pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256CBC
	defer func() { pkcs7.ContentEncryptionAlgorithm = prev }()

	der, err := pkcs7.Encrypt(content, recipients)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to encrypt: %w", err)
	}
	return der, nil
}

// Decrypt opens an EnvelopedData message addressed to cert.
func Decrypt(message []byte, cert *x509.Certificate, key crypto.PrivateKey) ([]byte, error) {
	p7, err := parse(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	content, err := p7.Decrypt(cert, key)
	if err != nil {
		return nil, fmt.Errorf("cms: failed to decrypt: %w", err)
	}
	return content, nil
}
