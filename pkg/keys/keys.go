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

// Package keys generates RSA and EC key pairs and implements the operations
// the key regression procedures exercise: signing, RSA-OAEP, ECDH, ECIES, a
// passphrase protected keychain and a remote signing proxy.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// Type is a key algorithm family.
type Type string

const (
	RSA Type = "RSA"
	EC  Type = "EC"
)

const defaultRSABits = 2048

// Params describes a key to generate. Bits applies to RSA and defaults to
// 2048; Curve applies to EC and defaults to P-256.
type Params struct {
	Type  Type
	Bits  int
	Curve elliptic.Curve
}

// KeyPair is a generated or loaded private key.
type KeyPair struct {
	Type    Type
	Private crypto.Signer
}

// Generate creates a new key pair.
func Generate(p Params) (*KeyPair, error) {
	switch p.Type {
	case RSA:
		bits := p.Bits
		if bits == 0 {
			bits = defaultRSABits
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to generate RSA-%d key: %w", bits, err)
		}
		return &KeyPair{Type: RSA, Private: key}, nil
	case EC:
		curve := p.Curve
		if curve == nil {
			curve = elliptic.P256()
		}
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to generate %s key: %w", curve.Params().Name, err)
		}
		return &KeyPair{Type: EC, Private: key}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, p.Type)
	}
}

// FromSigner wraps an existing private key.
func FromSigner(s crypto.Signer) (*KeyPair, error) {
	switch s.(type) {
	case *rsa.PrivateKey:
		return &KeyPair{Type: RSA, Private: s}, nil
	case *ecdsa.PrivateKey:
		return &KeyPair{Type: EC, Private: s}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, s)
	}
}

// Public returns the public half.
func (kp *KeyPair) Public() crypto.PublicKey {
	return kp.Private.Public()
}

// Size returns the key size in bits.
func (kp *KeyPair) Size() int {
	switch k := kp.Private.(type) {
	case *rsa.PrivateKey:
		return k.N.BitLen()
	case *ecdsa.PrivateKey:
		return k.Curve.Params().BitSize
	}
	return 0
}

// KeyID returns the RFC 7638 SHA-256 thumbprint of the public key,
// base64url encoded.
func (kp *KeyPair) KeyID() (string, error) {
	return KeyID(kp.Public())
}

// KeyID returns the RFC 7638 SHA-256 thumbprint of pub.
func KeyID(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("keys: failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// MarshalPublicJWK encodes pub as a JWK carrying its key ID.
func MarshalPublicJWK(pub crypto.PublicKey) ([]byte, error) {
	kid, err := KeyID(pub)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jose.JSONWebKey{Key: pub, KeyID: kid, Use: "sig"})
}

// ParsePublicJWK decodes a public JWK and checks its key ID.
func ParsePublicJWK(data []byte) (crypto.PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("keys: invalid JWK: %w", err)
	}
	if !jwk.Valid() || !jwk.IsPublic() {
		return nil, fmt.Errorf("keys: JWK is not a valid public key")
	}
	if jwk.KeyID != "" {
		kid, err := KeyID(jwk.Key)
		if err != nil {
			return nil, err
		}
		if kid != jwk.KeyID {
			return nil, fmt.Errorf("keys: JWK key ID mismatch")
		}
	}
	return jwk.Key, nil
}
