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

package pkcs12

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/pki"
)

const password = "p12-password"

func identity(t *testing.T, opts ...pki.Option) (*pki.Identity, *Identity) {
	t.Helper()
	root, err := pki.NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue(opts...)
	require.NoError(t, err)
	return leaf, &Identity{
		Certificate: leaf.Certificate,
		PrivateKey:  leaf.PrivateKey,
		CACerts:     []*x509.Certificate{root.Certificate},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{Modern, LegacyDES, LegacyRC2} {
		for name, opts := range map[string][]pki.Option{"ec": nil, "rsa": {pki.RSAKey(2048)}} {
			t.Run(enc.String()+"/"+name, func(t *testing.T) {
				leaf, id := identity(t, opts...)
				data, err := Export(id, password, enc)
				require.NoError(t, err)

				got, err := Import(data, password)
				require.NoError(t, err)
				assert.True(t, got.Certificate.Equal(leaf.Certificate))
				require.Len(t, got.CACerts, 1)
				assert.True(t, got.CACerts[0].Equal(leaf.Issuer.Certificate))
				assert.NoError(t, checkKeyPair(got.Certificate, got.PrivateKey))
			})
		}
	}
}

func TestIncorrectPassword(t *testing.T) {
	_, id := identity(t)
	data, err := Export(id, password, Modern)
	require.NoError(t, err)

	_, err = Import(data, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestKeyMismatch(t *testing.T) {
	_, id := identity(t)
	other, _ := identity(t)
	id.PrivateKey = other.PrivateKey

	_, err := Export(id, password, Modern)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestGarbage(t *testing.T) {
	_, err := Import([]byte("not a pfx"), password)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncorrectPassword)
}

func TestTrustStore(t *testing.T) {
	a, err := pki.NewRoot(pki.Subject("Store Root A"))
	require.NoError(t, err)
	b, err := pki.NewRoot(pki.Subject("Store Root B"))
	require.NoError(t, err)

	data, err := ExportTrustStore([]*x509.Certificate{a.Certificate, b.Certificate}, password)
	require.NoError(t, err)

	certs, err := ImportTrustStore(data, password)
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[0].Equal(a.Certificate))
	assert.True(t, certs[1].Equal(b.Certificate))

	_, err = ImportTrustStore(data, "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	_, err = ExportTrustStore(nil, password)
	assert.ErrorIs(t, err, ErrEmptyTrustStore)
}
