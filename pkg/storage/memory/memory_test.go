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

package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

func TestPutGet(t *testing.T) {
	store := New()
	defer func() { _ = store.Close() }()

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"simple", "item", []byte("value")},
		{"empty value", "empty", []byte{}},
		{"binary", "binary", []byte{0x00, 0x01, 0xFF}},
		{"nested", "keys/rsa/signer", []byte("nested")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Put(tt.key, tt.value))
			got, err := store.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	value := []byte("original")
	require.NoError(t, store.Put("k", value))

	value[0] = 'X'
	got, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func TestNotFound(t *testing.T) {
	store := New()

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete("missing"), storage.ErrNotFound)

	ok, err := store.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidKey(t *testing.T) {
	store := New()
	assert.ErrorIs(t, store.Put("", []byte("x")), storage.ErrInvalidKey)
	assert.ErrorIs(t, store.Put("../escape", []byte("x")), storage.ErrInvalidKey)
}

func TestListPrefix(t *testing.T) {
	store := New()
	for _, key := range []string{"trust/b", "trust/a", "keys/x", "trustee"} {
		require.NoError(t, store.Put(key, []byte(key)))
	}

	keys, err := store.List("trust/")
	require.NoError(t, err)
	assert.Equal(t, []string{"trust/a", "trust/b"}, keys)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/x", "trust/a", "trust/b", "trustee"}, all)
}

func TestDelete(t *testing.T) {
	store := New()
	require.NoError(t, store.Put("k", []byte("v")))
	require.NoError(t, store.Delete("k"))

	ok, err := store.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClosed(t *testing.T) {
	store := New()
	require.NoError(t, store.Put("k", []byte("v")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Get("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, store.Put("k", nil), storage.ErrClosed)
	assert.ErrorIs(t, store.Delete("k"), storage.ErrClosed)
	_, err = store.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = store.Exists("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("items/%02d", i)
			assert.NoError(t, store.Put(key, []byte(key)))
			_, err := store.Get(key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := store.List("items/")
	require.NoError(t, err)
	assert.Len(t, keys, 32)
}
