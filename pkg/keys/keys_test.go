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
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var message = []byte("keys regression message")

func generate(t *testing.T, p Params) *KeyPair {
	t.Helper()
	kp, err := Generate(p)
	require.NoError(t, err)
	return kp
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		typ    Type
		size   int
	}{
		{"rsa default", Params{Type: RSA}, RSA, 2048},
		{"ec default", Params{Type: EC}, EC, 256},
		{"ec p384", Params{Type: EC, Curve: elliptic.P384()}, EC, 384},
		{"ec p521", Params{Type: EC, Curve: elliptic.P521()}, EC, 521},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp := generate(t, tt.params)
			assert.Equal(t, tt.typ, kp.Type)
			assert.Equal(t, tt.size, kp.Size())
		})
	}

	_, err := Generate(Params{Type: "DSA"})
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestKeyID(t *testing.T) {
	a := generate(t, Params{Type: EC})
	b := generate(t, Params{Type: EC})

	ida, err := a.KeyID()
	require.NoError(t, err)
	again, err := KeyID(a.Public())
	require.NoError(t, err)
	idb, err := b.KeyID()
	require.NoError(t, err)

	assert.Len(t, ida, 43)
	assert.Equal(t, ida, again)
	assert.NotEqual(t, ida, idb)
}

func TestPublicJWK(t *testing.T) {
	for _, p := range []Params{{Type: EC}, {Type: RSA}} {
		kp := generate(t, p)
		data, err := MarshalPublicJWK(kp.Public())
		require.NoError(t, err)
		assert.NotContains(t, string(data), "\"d\"")

		pub, err := ParsePublicJWK(data)
		require.NoError(t, err)
		assert.True(t, kp.Public().(interface{ Equal(crypto.PublicKey) bool }).Equal(pub))
	}

	_, err := ParsePublicJWK([]byte("{}"))
	assert.Error(t, err)
}

func TestFromSigner(t *testing.T) {
	ec := generate(t, Params{Type: EC})
	kp, err := FromSigner(ec.Private)
	require.NoError(t, err)
	assert.Equal(t, EC, kp.Type)

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = FromSigner(edKey)
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestSignVerify(t *testing.T) {
	rsaKey := generate(t, Params{Type: RSA})
	ecKey := generate(t, Params{Type: EC, Curve: elliptic.P384()})

	for alg := RSAPKCS1v15SHA256; alg <= ECDSASHA512; alg++ {
		t.Run(alg.String(), func(t *testing.T) {
			kp := rsaKey
			other := ecKey
			if alg.Type() == EC {
				kp, other = ecKey, rsaKey
			}
			sig, err := Sign(kp.Private, alg, message)
			require.NoError(t, err)
			require.NoError(t, Verify(kp.Public(), alg, message, sig))

			assert.ErrorIs(t, Verify(kp.Public(), alg, []byte("other message"), sig), ErrVerification)

			_, err = Sign(other.Private, alg, message)
			assert.ErrorIs(t, err, ErrAlgorithmMismatch)
		})
	}

	_, err := Sign(rsaKey.Private, Algorithm(99), message)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestOAEP(t *testing.T) {
	kp := generate(t, Params{Type: RSA})
	priv := kp.Private.(*rsa.PrivateKey)
	label := []byte("label")

	ct, err := EncryptOAEP(&priv.PublicKey, message, label)
	require.NoError(t, err)
	pt, err := DecryptOAEP(priv, ct, label)
	require.NoError(t, err)
	assert.Equal(t, message, pt)

	_, err = DecryptOAEP(priv, ct, []byte("wrong"))
	assert.ErrorIs(t, err, ErrDecryption)

	assert.Equal(t, 190, MaxOAEPMessage(&priv.PublicKey))
	_, err = EncryptOAEP(&priv.PublicKey, make([]byte, 191), nil)
	assert.Error(t, err)
}

func TestSharedSecret(t *testing.T) {
	alice := generate(t, Params{Type: EC}).Private.(*ecdsa.PrivateKey)
	bob := generate(t, Params{Type: EC}).Private.(*ecdsa.PrivateKey)

	ab, err := SharedSecret(alice, &bob.PublicKey)
	require.NoError(t, err)
	ba, err := SharedSecret(bob, &alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	k1, err := DeriveKey(ab, nil, []byte("enc"), 32)
	require.NoError(t, err)
	k2, err := DeriveKey(ab, nil, []byte("mac"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	other := generate(t, Params{Type: EC, Curve: elliptic.P384()}).Private.(*ecdsa.PrivateKey)
	_, err = SharedSecret(alice, &other.PublicKey)
	assert.ErrorIs(t, err, ErrCurveMismatch)
}

func TestIES(t *testing.T) {
	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		t.Run(curve.Params().Name, func(t *testing.T) {
			priv := generate(t, Params{Type: EC, Curve: curve}).Private.(*ecdsa.PrivateKey)
			aad := []byte("context")

			ct, err := EncryptIES(&priv.PublicKey, message, aad)
			require.NoError(t, err)
			pt, err := DecryptIES(priv, ct, aad)
			require.NoError(t, err)
			assert.Equal(t, message, pt)

			_, err = DecryptIES(priv, ct, []byte("other"))
			assert.ErrorIs(t, err, ErrDecryption)

			tampered := append([]byte(nil), ct...)
			tampered[len(tampered)-1] ^= 1
			_, err = DecryptIES(priv, tampered, aad)
			assert.ErrorIs(t, err, ErrDecryption)

			_, err = DecryptIES(priv, ct[:10], aad)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}

	a := generate(t, Params{Type: EC}).Private.(*ecdsa.PrivateKey)
	b := generate(t, Params{Type: EC}).Private.(*ecdsa.PrivateKey)
	ct, err := EncryptIES(&a.PublicKey, message, nil)
	require.NoError(t, err)
	_, err = DecryptIES(b, ct, nil)
	assert.ErrorIs(t, err, ErrDecryption)
}
