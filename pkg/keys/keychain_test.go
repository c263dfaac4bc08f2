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
	"crypto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/storage"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/file"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
)

var passphrase = []byte("correct horse battery staple")

func backends(t *testing.T) map[string]func() storage.Backend {
	return map[string]func() storage.Backend{
		"memory": func() storage.Backend { return memory.New() },
		"file": func() storage.Backend {
			b, err := file.New(t.TempDir())
			require.NoError(t, err)
			return b
		},
	}
}

func TestKeychainRoundTrip(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			kc := NewKeychain(newBackend(), nil)
			for _, p := range []Params{{Type: EC}, {Type: RSA}} {
				kp := generate(t, p)
				label := "item-" + string(p.Type)

				info, err := kc.Add(label, kp, passphrase)
				require.NoError(t, err)
				kid, err := kp.KeyID()
				require.NoError(t, err)
				assert.Equal(t, kid, info.KeyID)
				assert.Equal(t, p.Type, info.Type)

				got, err := kc.Get(label, passphrase)
				require.NoError(t, err)
				assert.Equal(t, p.Type, got.Type)
				gotID, err := got.KeyID()
				require.NoError(t, err)
				assert.Equal(t, kid, gotID)

				sig, err := Sign(got.Private, defaultAlgorithm(p.Type), message)
				require.NoError(t, err)
				assert.NoError(t, Verify(kp.Public(), defaultAlgorithm(p.Type), message, sig))
			}

			items, err := kc.List()
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, "item-EC", items[0].Label)
			assert.Equal(t, "item-RSA", items[1].Label)
		})
	}
}

func defaultAlgorithm(typ Type) Algorithm {
	if typ == EC {
		return ECDSASHA256
	}
	return RSAPSSSHA256
}

func TestKeychainAccessControl(t *testing.T) {
	kc := NewKeychain(memory.New(), nil)
	kp := generate(t, Params{Type: EC})

	_, err := kc.Add("aks", kp, nil)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	_, err = kc.Add("aks", kp, passphrase)
	require.NoError(t, err)

	_, err = kc.Add("aks", kp, passphrase)
	assert.ErrorIs(t, err, ErrDuplicateItem)

	_, err = kc.Get("aks", []byte("wrong"))
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = kc.Get("aks", nil)
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	info, err := kc.Info("aks")
	require.NoError(t, err)
	assert.True(t, kp.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(info.PublicKey))
}

func TestKeychainChangePassphrase(t *testing.T) {
	kc := NewKeychain(memory.New(), nil)
	kp := generate(t, Params{Type: EC})
	_, err := kc.Add("rotate", kp, passphrase)
	require.NoError(t, err)

	newPass := []byte("new passphrase")
	assert.ErrorIs(t, kc.ChangePassphrase("rotate", []byte("wrong"), newPass), ErrAuthFailed)
	require.NoError(t, kc.ChangePassphrase("rotate", passphrase, newPass))

	_, err = kc.Get("rotate", passphrase)
	assert.ErrorIs(t, err, ErrAuthFailed)
	_, err = kc.Get("rotate", newPass)
	assert.NoError(t, err)
}

func TestKeychainDelete(t *testing.T) {
	kc := NewKeychain(memory.New(), nil)
	_, err := kc.Add("gone", generate(t, Params{Type: EC}), passphrase)
	require.NoError(t, err)

	require.NoError(t, kc.Delete("gone"))
	assert.ErrorIs(t, kc.Delete("gone"), ErrItemNotFound)
	_, err = kc.Get("gone", passphrase)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestKeychainLabels(t *testing.T) {
	kc := NewKeychain(memory.New(), nil)
	kp := generate(t, Params{Type: EC})
	for _, label := range []string{"", "a/b", ".."} {
		_, err := kc.Add(label, kp, passphrase)
		assert.ErrorIs(t, err, ErrInvalidLabel, label)
	}
}

func TestKeychainFilePersistence(t *testing.T) {
	dir := t.TempDir()
	b1, err := file.New(dir)
	require.NoError(t, err)
	kp := generate(t, Params{Type: EC})
	_, err = NewKeychain(b1, nil).Add("persisted", kp, passphrase)
	require.NoError(t, err)
	require.NoError(t, b1.Close())

	b2, err := file.New(dir)
	require.NoError(t, err)
	got, err := NewKeychain(b2, nil).Get("persisted", passphrase)
	require.NoError(t, err)
	want, _ := kp.KeyID()
	have, _ := got.KeyID()
	assert.Equal(t, want, have)
}
