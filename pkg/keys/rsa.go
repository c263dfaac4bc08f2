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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// EncryptOAEP encrypts msg for pub with RSA-OAEP and SHA-256.
func EncryptOAEP(pub *rsa.PublicKey, msg, label []byte) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil RSA key", ErrUnsupportedKeyType)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, label)
	if err != nil {
		return nil, fmt.Errorf("keys: OAEP encryption failed: %w", err)
	}
	return ct, nil
}

// DecryptOAEP reverses EncryptOAEP.
func DecryptOAEP(priv *rsa.PrivateKey, ct, label []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil RSA key", ErrUnsupportedKeyType)
	}
	msg, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return msg, nil
}

// MaxOAEPMessage returns the largest plaintext EncryptOAEP accepts for pub.
func MaxOAEPMessage(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}
