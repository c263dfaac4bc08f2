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

// Package storage defines the key-value persistence layer shared by the trust
// settings store, the keychain and the certificate store. Items are addressed
// by slash separated keys such as "trust-settings/<sha256>" or "keys/<label>".
package storage

import (
	"errors"
	"strings"
)

// Backend is a thread-safe key-value store.
type Backend interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key or returns ErrNotFound.
	Delete(key string) error

	// List returns the keys that start with prefix, sorted.
	List(prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// Close releases the backend. Later calls return ErrClosed.
	Close() error
}

// Join builds a storage key from path segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// ValidateKey rejects keys that are empty, absolute, or that try to escape the
// namespace with "..".
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsRune(key, 0) || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
