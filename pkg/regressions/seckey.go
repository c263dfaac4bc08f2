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

package regressions

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/keys"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/file"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

type publicKey interface {
	Equal(crypto.PublicKey) bool
}

func sameKey(a, b crypto.PublicKey) bool {
	pk, ok := a.(publicKey)
	return ok && pk.Equal(b)
}

func generate(t *harness.T, p keys.Params) *keys.KeyPair {
	kp, err := keys.Generate(p)
	t.Must(err, "generate %s key", p.Type)
	return kp
}

// seckeyGen covers key generation, key identifiers and JWK export.
func seckeyGen(t *harness.T) {
	for _, tc := range []struct {
		params keys.Params
		size   int
	}{
		{keys.Params{Type: keys.RSA}, 2048},
		{keys.Params{Type: keys.RSA, Bits: 3072}, 3072},
		{keys.Params{Type: keys.EC}, 256},
		{keys.Params{Type: keys.EC, Curve: elliptic.P384()}, 384},
		{keys.Params{Type: keys.EC, Curve: elliptic.P521()}, 521},
	} {
		kp := generate(t, tc.params)
		t.Is(kp.Type, tc.params.Type, "%s-%d: type", tc.params.Type, tc.size)
		t.Is(kp.Size(), tc.size, "%s-%d: size", tc.params.Type, tc.size)

		kid, err := kp.KeyID()
		t.Must(err, "%s-%d: key ID", tc.params.Type, tc.size)
		again, err := keys.KeyID(kp.Public())
		t.NoError(err, "%s-%d: key ID from public key", tc.params.Type, tc.size)
		t.Is(again, kid, "%s-%d: key ID is stable", tc.params.Type, tc.size)

		jwk, err := keys.MarshalPublicJWK(kp.Public())
		t.Must(err, "%s-%d: export JWK", tc.params.Type, tc.size)
		t.Ok(bytes.Contains(jwk, []byte(kid)), "%s-%d: JWK carries key ID", tc.params.Type, tc.size)
		t.Ok(!bytes.Contains(jwk, []byte(`"d"`)), "%s-%d: JWK has no private part", tc.params.Type, tc.size)
		pub, err := keys.ParsePublicJWK(jwk)
		t.Must(err, "%s-%d: import JWK", tc.params.Type, tc.size)
		t.Ok(sameKey(pub, kp.Public()), "%s-%d: JWK round trips", tc.params.Type, tc.size)

		wrapped, err := keys.FromSigner(kp.Private)
		t.NoError(err, "%s-%d: wrap existing key", tc.params.Type, tc.size)
		if wrapped != nil {
			t.Is(wrapped.Type, kp.Type, "%s-%d: wrapped type", tc.params.Type, tc.size)
		}
	}

	a := generate(t, keys.Params{Type: keys.EC})
	b := generate(t, keys.Params{Type: keys.EC})
	kidA, _ := a.KeyID()
	kidB, _ := b.KeyID()
	t.Ok(kidA != kidB, "distinct keys have distinct key IDs")

	_, err := keys.Generate(keys.Params{Type: "DSA"})
	t.ErrorIs(err, keys.ErrUnsupportedKeyType, "unknown key type refused")

	_, err = keys.ParsePublicJWK([]byte(`{"kty":"EC","crv":"P-256"}`))
	t.Error(err, "incomplete JWK refused")
}

// seckeyRSA covers RSA signatures and OAEP encryption.
func seckeyRSA(t *harness.T) {
	kp := generate(t, keys.Params{Type: keys.RSA})
	pub := kp.Public().(*rsa.PublicKey)
	priv := kp.Private.(*rsa.PrivateKey)

	for _, alg := range []keys.Algorithm{
		keys.RSAPKCS1v15SHA256, keys.RSAPKCS1v15SHA384, keys.RSAPKCS1v15SHA512,
		keys.RSAPSSSHA256, keys.RSAPSSSHA384, keys.RSAPSSSHA512,
	} {
		sig, err := keys.Sign(kp.Private, alg, message)
		t.Must(err, "%s: sign", alg)
		t.Is(len(sig), pub.Size(), "%s: signature is modulus sized", alg)
		t.NoError(keys.Verify(pub, alg, message, sig), "%s: verify", alg)
		t.ErrorIs(keys.Verify(pub, alg, []byte("altered"), sig), keys.ErrVerification, "%s: altered message", alg)
	}
	_, err := keys.Sign(kp.Private, keys.ECDSASHA256, message)
	t.ErrorIs(err, keys.ErrAlgorithmMismatch, "ECDSA algorithm with RSA key")
	_, err = keys.Sign(kp.Private, keys.Algorithm(0), message)
	t.ErrorIs(err, keys.ErrUnsupportedAlgorithm, "unknown algorithm")

	label := []byte("regression")
	capacity := keys.MaxOAEPMessage(pub)
	t.Is(capacity, pub.Size()-2*sha256.Size-2, "OAEP capacity")
	for _, n := range []int{0, 1, capacity} {
		msg := bytes.Repeat([]byte{0x5a}, n)
		ct, err := keys.EncryptOAEP(pub, msg, label)
		t.Must(err, "OAEP encrypt %d bytes", n)
		pt, err := keys.DecryptOAEP(priv, ct, label)
		t.NoError(err, "OAEP decrypt %d bytes", n)
		t.Ok(bytes.Equal(pt, msg), "OAEP round trip %d bytes", n)
	}
	_, err = keys.EncryptOAEP(pub, make([]byte, capacity+1), label)
	t.Error(err, "message over OAEP capacity")

	ct, err := keys.EncryptOAEP(pub, message[:32], label)
	t.Must(err, "OAEP encrypt")
	_, err = keys.DecryptOAEP(priv, ct, []byte("other label"))
	t.ErrorIs(err, keys.ErrDecryption, "wrong label")
	other := generate(t, keys.Params{Type: keys.RSA})
	_, err = keys.DecryptOAEP(other.Private.(*rsa.PrivateKey), ct, label)
	t.ErrorIs(err, keys.ErrDecryption, "wrong key")
}

// seckeyEC covers ECDSA signatures and ECDH key agreement.
func seckeyEC(t *harness.T) {
	for _, tc := range []struct {
		curve elliptic.Curve
		alg   keys.Algorithm
	}{
		{elliptic.P256(), keys.ECDSASHA256},
		{elliptic.P384(), keys.ECDSASHA384},
		{elliptic.P521(), keys.ECDSASHA512},
	} {
		name := tc.curve.Params().Name
		kp := generate(t, keys.Params{Type: keys.EC, Curve: tc.curve})
		sig, err := keys.Sign(kp.Private, tc.alg, message)
		t.Must(err, "%s: sign", name)
		t.NoError(keys.Verify(kp.Public(), tc.alg, message, sig), "%s: verify", name)
		t.ErrorIs(keys.Verify(kp.Public(), tc.alg, message[1:], sig), keys.ErrVerification, "%s: altered message", name)

		other := generate(t, keys.Params{Type: keys.EC, Curve: tc.curve})
		t.ErrorIs(keys.Verify(other.Public(), tc.alg, message, sig), keys.ErrVerification, "%s: other key", name)

		a, b := kp.Private.(*ecdsa.PrivateKey), other.Private.(*ecdsa.PrivateKey)
		ab, err := keys.SharedSecret(a, &b.PublicKey)
		t.Must(err, "%s: agree a to b", name)
		ba, err := keys.SharedSecret(b, &a.PublicKey)
		t.Must(err, "%s: agree b to a", name)
		t.Is(ab, ba, "%s: shared secrets match", name)
		t.Is(len(ab), (tc.curve.Params().BitSize+7)/8, "%s: secret size", name)

		k1, err := keys.DeriveKey(ab, []byte("salt"), []byte("info"), 32)
		t.Must(err, "%s: derive", name)
		k2, _ := keys.DeriveKey(ba, []byte("salt"), []byte("info"), 32)
		k3, _ := keys.DeriveKey(ab, []byte("salt"), []byte("other"), 32)
		t.Is(k1, k2, "%s: derived keys match", name)
		t.Ok(!bytes.Equal(k1, k3), "%s: info separates derived keys", name)
	}

	p256 := generate(t, keys.Params{Type: keys.EC})
	p384 := generate(t, keys.Params{Type: keys.EC, Curve: elliptic.P384()})
	_, err := keys.SharedSecret(p256.Private.(*ecdsa.PrivateKey), &p384.Private.(*ecdsa.PrivateKey).PublicKey)
	t.ErrorIs(err, keys.ErrCurveMismatch, "agreement across curves")
	_, err = keys.Sign(p256.Private, keys.RSAPSSSHA256, message)
	t.ErrorIs(err, keys.ErrAlgorithmMismatch, "RSA algorithm with EC key")
	_, err = keys.DeriveKey(nil, nil, nil, 32)
	t.Error(err, "empty secret refused")
}

// seckeyIES covers ECIES encryption.
func seckeyIES(t *harness.T) {
	aad := []byte("associated")
	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		name := curve.Params().Name
		kp := generate(t, keys.Params{Type: keys.EC, Curve: curve})
		priv := kp.Private.(*ecdsa.PrivateKey)

		ct, err := keys.EncryptIES(&priv.PublicKey, message, aad)
		t.Must(err, "%s: encrypt", name)
		again, err := keys.EncryptIES(&priv.PublicKey, message, aad)
		t.Must(err, "%s: encrypt again", name)
		t.Ok(!bytes.Equal(ct, again), "%s: ciphertexts are randomized", name)
		t.Ok(!bytes.Contains(ct, message), "%s: plaintext hidden", name)

		pt, err := keys.DecryptIES(priv, ct, aad)
		t.NoError(err, "%s: decrypt", name)
		t.Is(pt, message, "%s: round trip", name)

		_, err = keys.DecryptIES(priv, ct, []byte("different"))
		t.ErrorIs(err, keys.ErrDecryption, "%s: associated data mismatch", name)

		flipped := bytes.Clone(ct)
		flipped[len(flipped)-1] ^= 0xff
		_, err = keys.DecryptIES(priv, flipped, aad)
		t.ErrorIs(err, keys.ErrDecryption, "%s: modified tag", name)

		_, err = keys.DecryptIES(priv, ct[:20], aad)
		t.ErrorIs(err, keys.ErrDecryption, "%s: truncated", name)

		other := generate(t, keys.Params{Type: keys.EC, Curve: curve})
		_, err = keys.DecryptIES(other.Private.(*ecdsa.PrivateKey), ct, aad)
		t.ErrorIs(err, keys.ErrDecryption, "%s: wrong key", name)
	}

	empty, err := keys.EncryptIES(&generate(t, keys.Params{Type: keys.EC}).Private.(*ecdsa.PrivateKey).PublicKey, nil, nil)
	t.NoError(err, "empty plaintext")
	t.Ok(len(empty) > 0, "empty plaintext still yields point, nonce and tag")
	_, err = keys.EncryptIES(nil, message, nil)
	t.ErrorIs(err, keys.ErrUnsupportedKeyType, "nil recipient")
}

// exerciseKeychain runs the access-control checks shared by the memory and
// file keychains.
func exerciseKeychain(t *harness.T, kc *keys.Keychain, what string) {
	pass := []byte("correct horse battery staple")
	kp := generate(t, keys.Params{Type: keys.EC})

	_, err := kc.Add("signing", kp, nil)
	t.ErrorIs(err, keys.ErrPassphraseRequired, "%s: passphrase required to add", what)
	info, err := kc.Add("signing", kp, pass)
	t.Must(err, "%s: add item", what)
	kid, _ := kp.KeyID()
	t.Is(info.KeyID, kid, "%s: item key ID", what)

	_, err = kc.Add("signing", generate(t, keys.Params{Type: keys.EC}), pass)
	t.ErrorIs(err, keys.ErrDuplicateItem, "%s: label is unique", what)
	_, err = kc.Add("bad/label", kp, pass)
	t.ErrorIs(err, keys.ErrInvalidLabel, "%s: label cannot contain a slash", what)

	meta, err := kc.Info("signing")
	t.Must(err, "%s: read metadata without passphrase", what)
	t.Ok(sameKey(meta.PublicKey, kp.Public()), "%s: metadata public key", what)
	t.Is(meta.Type, keys.EC, "%s: metadata type", what)

	_, err = kc.Get("signing", nil)
	t.ErrorIs(err, keys.ErrPassphraseRequired, "%s: passphrase required to use", what)
	_, err = kc.Get("signing", []byte("wrong"))
	t.ErrorIs(err, keys.ErrAuthFailed, "%s: wrong passphrase", what)
	_, err = kc.Get("missing", pass)
	t.ErrorIs(err, keys.ErrItemNotFound, "%s: missing item", what)

	got, err := kc.Get("signing", pass)
	t.Must(err, "%s: unlock item", what)
	sig, err := keys.Sign(got.Private, keys.ECDSASHA256, message)
	t.Must(err, "%s: sign with unlocked key", what)
	t.NoError(keys.Verify(meta.PublicKey, keys.ECDSASHA256, message, sig), "%s: signature matches stored public key", what)

	newPass := []byte("tr0ub4dor&3")
	t.ErrorIs(kc.ChangePassphrase("signing", []byte("wrong"), newPass), keys.ErrAuthFailed, "%s: change needs old passphrase", what)
	t.NoError(kc.ChangePassphrase("signing", pass, newPass), "%s: change passphrase", what)
	_, err = kc.Get("signing", pass)
	t.ErrorIs(err, keys.ErrAuthFailed, "%s: old passphrase rejected", what)
	_, err = kc.Get("signing", newPass)
	t.NoError(err, "%s: new passphrase accepted", what)
	after, err := kc.Info("signing")
	t.Must(err, "%s: metadata after change", what)
	t.Ok(after.Created.Equal(meta.Created), "%s: creation time kept", what)

	_, err = kc.Add("encryption", generate(t, keys.Params{Type: keys.RSA}), pass)
	t.Must(err, "%s: add second item", what)
	items, err := kc.List()
	t.Must(err, "%s: list", what)
	if t.Is(len(items), 2, "%s: two items", what) {
		t.Is(items[0].Label, "encryption", "%s: sorted by label", what)
		t.Is(items[1].Label, "signing", "%s: sorted by label", what)
		t.Is(items[0].Type, keys.RSA, "%s: RSA item type", what)
	}

	t.NoError(kc.Delete("encryption"), "%s: delete", what)
	t.ErrorIs(kc.Delete("encryption"), keys.ErrItemNotFound, "%s: delete twice", what)
}

// seckeyAKS exercises passphrase access control on an in-memory keychain.
func seckeyAKS(t *harness.T) {
	backend := memory.New()
	defer func() { _ = backend.Close() }()
	exerciseKeychain(t, keys.NewKeychain(backend, nil), "memory")
}

// seckeyFV exercises a keychain stored on disk and reopened.
func seckeyFV(t *harness.T) {
	dir, cleanup := tempDir(t, "keychain-*")
	defer cleanup()

	backend, err := file.New(dir)
	t.Must(err, "open file storage")
	exerciseKeychain(t, keys.NewKeychain(backend, nil), "file")
	t.NoError(backend.Close(), "close file storage")

	var found bool
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path) // #nosec G304 - test scratch directory
		if err != nil {
			return err
		}
		found = true
		t.Ok(strings.Contains(string(data), "ENCRYPTED PRIVATE KEY"), "%s is encrypted", filepath.Base(path))
		t.Ok(!strings.Contains(string(data), "correct horse"), "%s does not store the passphrase", filepath.Base(path))
		return nil
	})
	t.NoError(err, "walk keychain directory")
	t.Ok(found, "keychain wrote files")

	reopened, err := file.New(dir)
	t.Must(err, "reopen file storage")
	defer func() { _ = reopened.Close() }()
	kc := keys.NewKeychain(reopened, nil)
	items, err := kc.List()
	t.Must(err, "list after reopen")
	if t.Is(len(items), 1, "one item survives") {
		t.Is(items[0].Label, "signing", "surviving item")
	}
	_, err = kc.Get("signing", []byte("tr0ub4dor&3"))
	t.NoError(err, "unlock after reopen")
	_, err = kc.Info("encryption")
	t.ErrorIs(err, keys.ErrItemNotFound, "deleted item stays deleted")
}

// seckeyProxy signs through a key held by another process.
func seckeyProxy(t *harness.T) {
	for _, kp := range []*keys.KeyPair{
		generate(t, keys.Params{Type: keys.EC}),
		generate(t, keys.Params{Type: keys.RSA}),
	} {
		srv := httptest.NewServer(keys.NewProxy(kp.Private, nil))
		remote, err := keys.NewRemoteSigner(t.Context(), srv.URL, srv.Client())
		if !t.NoError(err, "%s: connect to proxy", kp.Type) {
			srv.Close()
			continue
		}
		t.Ok(sameKey(remote.Public(), kp.Public()), "%s: proxy publishes the key", kp.Type)

		algs := []keys.Algorithm{keys.ECDSASHA256, keys.ECDSASHA384}
		if kp.Type == keys.RSA {
			algs = []keys.Algorithm{keys.RSAPKCS1v15SHA256, keys.RSAPSSSHA256, keys.RSAPSSSHA512}
		}
		for _, alg := range algs {
			sig, err := keys.Sign(remote, alg, message)
			t.Must(err, "%s: remote %s", kp.Type, alg)
			t.NoError(keys.Verify(kp.Public(), alg, message, sig), "%s: remote %s verifies", kp.Type, alg)
		}

		if kp.Type == keys.EC {
			digest := sha256.Sum256(message)
			_, err = remote.Sign(nil, digest[:], &rsa.PSSOptions{Hash: crypto.SHA256})
			t.ErrorIs(err, keys.ErrRemote, "proxy refuses PSS for EC key")
			_, err = remote.Sign(nil, digest[:16], crypto.SHA256)
			t.ErrorIs(err, keys.ErrRemote, "proxy refuses short digest")
			_, err = remote.Sign(nil, digest[:], crypto.SHA1)
			t.ErrorIs(err, keys.ErrRemote, "proxy refuses SHA-1")

			root := newRoot(t, "Proxy Root CA", pki.Key(remote))
			leaf := issue(t, root, pki.Subject("proxy issued"), pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))
			t.NoError(leaf.Certificate.CheckSignatureFrom(root.Certificate), "certificate signed through proxy")
			ev := evaluate(t, anchored(root, trust.WithPolicies(trust.CodeSigning())), leaf)
			t.Ok(ev.Trusted(), "chain under proxy held root is trusted")
		}

		srv.Close()
		_, err = keys.Sign(remote, algs[0], message)
		t.Error(err, "%s: signing fails once the proxy is gone", kp.Type)
	}
}
