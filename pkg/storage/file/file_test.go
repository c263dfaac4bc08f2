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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestPutGetPersists(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, b.Put("keys/ec/signer", []byte("secret")))
	require.NoError(t, b.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	got, err := reopened.Get("keys/ec/signer")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	info, err := os.Stat(filepath.Join(dir, "keys", "ec", "signer"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerms), info.Mode().Perm())
}

func TestOverwrite(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.Put("item", []byte("one")))
	require.NoError(t, b.Put("item", []byte("two")))

	got, err := b.Get("item")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestNotFoundAndDelete(t *testing.T) {
	b := newBackend(t)

	_, err := b.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, b.Delete("missing"), storage.ErrNotFound)

	require.NoError(t, b.Put("present", []byte("x")))
	ok, err := b.Exists("present")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete("present"))
	ok, err = b.Exists("present")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectsTraversal(t *testing.T) {
	b := newBackend(t)
	assert.ErrorIs(t, b.Put("../outside", []byte("x")), storage.ErrInvalidKey)
	_, err := b.Get("/etc/passwd")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestList(t *testing.T) {
	b := newBackend(t)
	for _, key := range []string{"certs/b", "certs/a", "crls/x"} {
		require.NoError(t, b.Put(key, []byte(key)))
	}

	keys, err := b.List("certs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"certs/a", "certs/b"}, keys)

	all, err := b.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClosed(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.Close())

	_, err := b.Get("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Put("k", nil), storage.ErrClosed)
	_, err = b.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}
