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
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
)

// ECIES messages are laid out as
//
//	ephemeral public key (uncompressed point) || nonce || ciphertext || tag
//
// The AES-256-GCM key is HKDF-SHA256 of the ECDH secret, with the ephemeral
// point as salt.

const (
	iesKeySize = 32
	iesInfo    = "ecies-aes256gcm"
)

// EncryptIES encrypts plaintext for pub. aad is authenticated but not
// encrypted and must be repeated on decryption.
func EncryptIES(pub *ecdsa.PublicKey, plaintext, aad []byte) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil EC key", ErrUnsupportedKeyType)
	}
	recipient, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keys: failed to convert recipient key: %w", err)
	}
	ephemeral, err := recipient.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to generate ephemeral key: %w", err)
	}
	secret, err := agree(ephemeral, recipient)
	if err != nil {
		return nil, err
	}
	point := ephemeral.PublicKey().Bytes()

	gcm, err := iesCipher(secret, point)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(point)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, point...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

// DecryptIES reverses EncryptIES.
func DecryptIES(priv *ecdsa.PrivateKey, ciphertext, aad []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil EC key", ErrUnsupportedKeyType)
	}
	recipient, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keys: failed to convert private key: %w", err)
	}
	pointSize := len(recipient.PublicKey().Bytes())
	if len(ciphertext) < pointSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	point := ciphertext[:pointSize]
	ephemeral, err := recipient.Curve().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ephemeral key: %v", ErrDecryption, err)
	}
	secret, err := agree(recipient, ephemeral)
	if err != nil {
		return nil, err
	}

	gcm, err := iesCipher(secret, point)
	if err != nil {
		return nil, err
	}
	rest := ciphertext[pointSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

func iesCipher(secret, point []byte) (cipher.AEAD, error) {
	key, err := DeriveKey(secret, point, []byte(iesInfo), iesKeySize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
