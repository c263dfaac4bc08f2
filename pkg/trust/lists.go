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

package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"math/big"
	"sync"
)

// SPKIHash returns the SHA-256 of the certificate's SubjectPublicKeyInfo.
func SPKIHash(c *x509.Certificate) [32]byte {
	return sha256.Sum256(c.RawSubjectPublicKeyInfo)
}

// Fingerprint returns the SHA-256 of the certificate's DER encoding.
func Fingerprint(c *x509.Certificate) [32]byte {
	return sha256.Sum256(c.Raw)
}

// FingerprintHex returns Fingerprint as lowercase hex.
func FingerprintHex(c *x509.Certificate) string {
	sum := Fingerprint(c)
	return hex.EncodeToString(sum[:])
}

type issuerSerial struct {
	issuer string
	serial string
}

func issuerSerialOf(rawIssuer []byte, serial *big.Int) issuerSerial {
	return issuerSerial{issuer: string(rawIssuer), serial: serial.Text(16)}
}

// Blocklist holds distrusted keys and certificates. Any chain member that
// matches makes the evaluation fail fatally.
type Blocklist struct {
	mu      sync.RWMutex
	spki    map[[32]byte]string
	serials map[issuerSerial]string
}

func NewBlocklist() *Blocklist {
	return &Blocklist{
		spki:    make(map[[32]byte]string),
		serials: make(map[issuerSerial]string),
	}
}

// BlockKey distrusts every certificate carrying c's public key.
func (b *Blocklist) BlockKey(c *x509.Certificate, note string) {
	b.BlockSPKIHash(SPKIHash(c), note)
}

// BlockSPKIHash distrusts a key by its SPKI SHA-256.
func (b *Blocklist) BlockSPKIHash(sum [32]byte, note string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spki[sum] = note
}

// BlockSerial distrusts the certificate issued by issuer with serial.
func (b *Blocklist) BlockSerial(issuer *x509.Certificate, serial *big.Int, note string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serials[issuerSerialOf(issuer.RawSubject, serial)] = note
}

// Blocked returns the note for c when it is blocklisted.
func (b *Blocklist) Blocked(c *x509.Certificate) (string, bool) {
	_, note, ok := b.lookup(c)
	return note, ok
}

// lookup reports which entry blocks c: "key" or "serial".
func (b *Blocklist) lookup(c *x509.Certificate) (string, string, bool) {
	if b == nil {
		return "", "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if note, ok := b.spki[SPKIHash(c)]; ok {
		return "key", note, true
	}
	if note, ok := b.serials[issuerSerialOf(c.RawIssuer, c.SerialNumber)]; ok {
		return "serial", note, true
	}
	return "", "", false
}

// Allowlist constrains selected CAs to an explicit set of leaves.
type Allowlist struct {
	mu          sync.RWMutex
	constrained map[[32]byte]string
	allowed     map[[32]byte]bool
}

func NewAllowlist() *Allowlist {
	return &Allowlist{
		constrained: make(map[[32]byte]string),
		allowed:     make(map[[32]byte]bool),
	}
}

// Constrain limits the CA whose key is ca's to allowlisted leaves.
func (a *Allowlist) Constrain(ca *x509.Certificate, note string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constrained[SPKIHash(ca)] = note
}

// Allow adds a leaf certificate.
func (a *Allowlist) Allow(leaf *x509.Certificate) {
	a.AllowFingerprint(Fingerprint(leaf))
}

// AllowFingerprint adds a leaf by its certificate SHA-256.
func (a *Allowlist) AllowFingerprint(sum [32]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[sum] = true
}

// Check returns the index of the constraining CA when chain is issued under a
// constrained CA and the leaf is not allowlisted.
func (a *Allowlist) Check(chain []*x509.Certificate) (int, string, bool) {
	if a == nil || len(chain) < 2 {
		return -1, "", true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := 1; i < len(chain); i++ {
		note, ok := a.constrained[SPKIHash(chain[i])]
		if !ok {
			continue
		}
		if a.allowed[Fingerprint(chain[0])] {
			return -1, "", true
		}
		return i, note, false
	}
	return -1, "", true
}
