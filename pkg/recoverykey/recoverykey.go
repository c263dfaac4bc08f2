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

// Package recoverykey derives peer keys from a user recovery key and answers
// whether joining the trust circle with that key would succeed, and with which
// policy and views.
package recoverykey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// Alphabet is the symbol set of a recovery key. It omits 0, 1, I and O.
	Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	// Groups and GroupSize describe the printed layout.
	Groups    = 7
	GroupSize = 4

	// Separator joins groups.
	Separator = "-"

	// Length is the printed length including separators.
	Length = Groups*GroupSize + Groups - 1

	infoSigning    = "Recovery Key Signing Key"
	infoEncryption = "Recovery Key Encryption Key"
	peerIDPrefix   = "SHA256:"
)

// Generate returns a new random recovery key read from r. A nil reader uses
// crypto/rand.
func Generate(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, Groups*GroupSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("recoverykey: failed to read randomness: %w", err)
	}
	var sb strings.Builder
	sb.Grow(Length)
	for i, b := range buf {
		if i > 0 && i%GroupSize == 0 {
			sb.WriteString(Separator)
		}
		// len(Alphabet) divides 256, so the mapping is uniform.
		sb.WriteByte(Alphabet[int(b)%len(Alphabet)])
	}
	return sb.String(), nil
}

// Normalize upper-cases and trims s, then validates it.
func Normalize(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if err := Validate(s); err != nil {
		return "", err
	}
	return s, nil
}

// Validate reports whether s is a well formed recovery key.
func Validate(s string) error {
	if len(s) != Length {
		return fmt.Errorf("%w: length %d", ErrInvalidRecoveryKey, len(s))
	}
	groups := strings.Split(s, Separator)
	if len(groups) != Groups {
		return fmt.Errorf("%w: %d groups", ErrInvalidRecoveryKey, len(groups))
	}
	for i, g := range groups {
		if len(g) != GroupSize {
			return fmt.Errorf("%w: group %d has %d symbols", ErrInvalidRecoveryKey, i+1, len(g))
		}
		for _, c := range g {
			if !strings.ContainsRune(Alphabet, c) {
				return fmt.Errorf("%w: symbol %q", ErrInvalidRecoveryKey, c)
			}
		}
	}
	return nil
}

// PeerKeys are the key pairs a recovery key stands for.
type PeerKeys struct {
	Signing    *ecdsa.PrivateKey
	Encryption *ecdsa.PrivateKey

	// PeerID identifies the recovery peer by its signing key.
	PeerID string
}

// KeyPair returns the public halves as enrolled in the model.
func (k *PeerKeys) KeyPair() (KeyPair, error) {
	signing, err := x509.MarshalPKIXPublicKey(&k.Signing.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("recoverykey: failed to encode signing key: %w", err)
	}
	encryption, err := x509.MarshalPKIXPublicKey(&k.Encryption.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("recoverykey: failed to encode encryption key: %w", err)
	}
	return KeyPair{SigningSPKI: signing, EncryptionSPKI: encryption}, nil
}

// Derive deterministically derives the P-384 signing and encryption keys for
// recoveryKey and salt. The recovery key is normalized first.
func Derive(recoveryKey, salt string) (*PeerKeys, error) {
	rk, err := Normalize(recoveryKey)
	if err != nil {
		return nil, err
	}
	signing, err := deriveKey(rk, salt, infoSigning)
	if err != nil {
		return nil, err
	}
	encryption, err := deriveKey(rk, salt, infoEncryption)
	if err != nil {
		return nil, err
	}
	keys := &PeerKeys{Signing: signing, Encryption: encryption}
	keys.PeerID, err = PeerID(&signing.PublicKey)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// PeerID names a peer by the SHA-256 of its signing SPKI.
func PeerID(pub *ecdsa.PublicKey) (string, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("recoverykey: failed to encode public key: %w", err)
	}
	sum := sha256.Sum256(spki)
	return peerIDPrefix + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// deriveKey expands 64 bytes of HKDF-SHA384 output and reduces them into
// [1, N-1] for P-384.
func deriveKey(rk, salt, info string) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P384()
	n := curve.Params().N

	okm := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha512.New384, []byte(rk), []byte(salt), []byte(info)), okm); err != nil {
		return nil, fmt.Errorf("recoverykey: hkdf: %w", err)
	}
	d := new(big.Int).SetBytes(okm)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	scalar := make([]byte, (n.BitLen()+7)/8)
	d.FillBytes(scalar)
	priv, err := ecdsa.ParseRawPrivateKey(curve, scalar)
	if err != nil {
		return nil, fmt.Errorf("recoverykey: failed to build %q key: %w", info, err)
	}
	return priv, nil
}
