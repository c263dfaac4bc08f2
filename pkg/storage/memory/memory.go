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

// Package memory provides a map backed storage.Backend. Values are copied on
// the way in and on the way out.
package memory

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

// Backend is an in-memory storage.Backend.
type Backend struct {
	mu     sync.RWMutex
	items  map[string][]byte
	closed bool
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{items: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (b *Backend) Get(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	value, ok := b.items[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(value), nil
}

// Put stores a copy of value under key.
func (b *Backend) Put(key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	b.items[key] = bytes.Clone(value)
	return nil
}

// Delete removes key.
func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	if _, ok := b.items[key]; !ok {
		return storage.ErrNotFound
	}
	delete(b.items, key)
	return nil
}

// List returns the sorted keys starting with prefix.
func (b *Backend) List(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	keys := make([]string, 0, len(b.items))
	for key := range b.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (b *Backend) Exists(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, storage.ErrClosed
	}
	_, ok := b.items[key]
	return ok, nil
}

// Close drops all items. Closing twice is allowed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.items = nil
	return nil
}

var _ storage.Backend = (*Backend)(nil)
