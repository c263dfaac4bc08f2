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
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// PinRule pins a host to a set of SPKI SHA-256 hashes. A chain matches when
// any of its certificates has a pinned key.
type PinRule struct {
	Host              string
	SPKIHashes        [][32]byte
	IncludeSubdomains bool
}

// ParsePin decodes a base64 SPKI SHA-256 ("pin-sha256" form).
func ParsePin(s string) ([32]byte, error) {
	var sum [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != len(sum) {
		return sum, fmt.Errorf("%w: %q", ErrInvalidPin, s)
	}
	copy(sum[:], raw)
	return sum, nil
}

// EncodePin returns the base64 SPKI SHA-256 of c.
func EncodePin(c *x509.Certificate) string {
	sum := SPKIHash(c)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// PinStore holds pin rules.
type PinStore struct {
	mu       sync.RWMutex
	rules    map[string]PinRule
	required bool
}

// NewPinStore returns an empty store. When required is set every SSL
// evaluation whose host has no rule fails.
func NewPinStore(required bool) *PinStore {
	return &PinStore{rules: make(map[string]PinRule), required: required}
}

// Add installs rule, replacing any rule for the same host.
func (s *PinStore) Add(rule PinRule) error {
	host := strings.ToLower(strings.TrimSuffix(rule.Host, "."))
	if host == "" || len(rule.SPKIHashes) == 0 {
		return fmt.Errorf("%w: rule for %q needs a host and at least one hash", ErrInvalidPin, rule.Host)
	}
	rule.Host = host
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[host] = rule
	return nil
}

// Required reports whether unmatched hosts fail.
func (s *PinStore) Required() bool {
	return s != nil && s.required
}

// Lookup finds the rule for host, walking up parent domains for rules that
// include subdomains.
func (s *PinStore) Lookup(host string) (PinRule, bool) {
	if s == nil {
		return PinRule{}, false
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rule, ok := s.rules[host]; ok {
		return rule, true
	}
	for i := strings.IndexByte(host, '.'); i >= 0; i = strings.IndexByte(host, '.') {
		host = host[i+1:]
		if rule, ok := s.rules[host]; ok && rule.IncludeSubdomains {
			return rule, true
		}
	}
	return PinRule{}, false
}

// Matches reports whether any certificate in chain is pinned by rule.
func (r PinRule) Matches(chain []*x509.Certificate) bool {
	for _, c := range chain {
		sum := SPKIHash(c)
		for _, pin := range r.SPKIHashes {
			if pin == sum {
				return true
			}
		}
	}
	return false
}
