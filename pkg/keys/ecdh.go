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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SharedSecret performs ECDH between priv and pub. Both keys must be on the
// same NIST curve.
func SharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("%w: nil EC key", ErrUnsupportedKeyType)
	}
	if priv.Curve != pub.Curve {
		return nil, fmt.Errorf("%w: %s and %s", ErrCurveMismatch,
			priv.Curve.Params().Name, pub.Curve.Params().Name)
	}
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keys: failed to convert private key: %w", err)
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keys: failed to convert public key: %w", err)
	}
	return agree(ecdhPriv, ecdhPub)
}

func agree(priv *ecdh.PrivateKey, pub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("keys: ECDH failed: %w", err)
	}
	return secret, nil
}

// DeriveKey expands secret into length bytes with HKDF-SHA256.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("keys: empty shared secret")
	}
	if length <= 0 {
		return nil, fmt.Errorf("keys: key length must be positive, got %d", length)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("keys: HKDF failed: %w", err)
	}
	return out, nil
}
