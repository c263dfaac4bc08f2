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
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"strings"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/cms"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/smime"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

var message = []byte("Four score and seven years ago our fathers brought forth on this continent a new nation")

// smimeHierarchy builds an e-mail signing hierarchy for addr.
func smimeHierarchy(t *harness.T, prefix, addr string, leafOpts ...pki.Option) hierarchy {
	opts := append([]pki.Option{
		pki.Subject(addr),
		pki.Emails(addr),
		pki.ExtKeyUsage(x509.ExtKeyUsageEmailProtection),
	}, leafOpts...)
	return newHierarchy(t, prefix, nil, opts...)
}

func (h hierarchy) signer() cms.Signer {
	return cms.Signer{
		Certificate: h.leaf.Certificate,
		Key:         h.leaf.PrivateKey,
		Chain:       h.leaf.Chain()[1:],
	}
}

// cmsSKID checks signers identified by subject key identifier.
func cmsSKID(t *harness.T) {
	h := smimeHierarchy(t, "SKID", "skid@example.com")
	t.Require(len(h.leaf.Certificate.SubjectKeyId) > 0, "signer has a subject key identifier")

	der, err := cms.Sign(message, h.signer(), cms.SignOptions{ChainMode: cms.ChainNone, Identifier: cms.SubjectKeyIdentifier})
	t.Must(err, "sign with subject key identifier and no certificates")

	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{})
	t.ErrorIs(err, cms.ErrSignerNotFound, "signer cannot be found without certificates")

	decoy := smimeHierarchy(t, "Decoy", "decoy@example.com")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Certificates: []*x509.Certificate{decoy.leaf.Certificate}})
	t.ErrorIs(err, cms.ErrSignerNotFound, "unrelated certificate does not match")

	info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{
		Certificates: []*x509.Certificate{decoy.leaf.Certificate, h.leaf.Certificate, h.inter.Certificate},
		Evaluator:    anchored(h.root),
	})
	t.NoError(err, "signer found by key identifier in supplied certificates")
	if info != nil {
		t.Ok(info.Certificate.Equal(h.leaf.Certificate), "matched certificate is the signer")
		t.Ok(info.Evaluation != nil && info.Evaluation.Trusted(), "signer evaluated as trusted")
	}

	der, err = cms.Sign(message, h.signer(), cms.SignOptions{Identifier: cms.SubjectKeyIdentifier})
	t.Must(err, "sign with subject key identifier and embedded chain")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: anchored(h.root)})
	t.NoError(err, "signer found by key identifier in embedded certificates")

	noSKID := smimeHierarchy(t, "No SKID", "noskid@example.com", pki.NoSubjectKeyID())
	_, err = cms.Sign(message, noSKID.signer(), cms.SignOptions{Identifier: cms.SubjectKeyIdentifier})
	t.Error(err, "signing by key identifier needs the extension")
	_, err = cms.Sign(message, noSKID.signer(), cms.SignOptions{})
	t.NoError(err, "issuer and serial still works without the extension")
}

// cmsChainMode checks which certificates each chain mode embeds.
func cmsChainMode(t *harness.T) {
	h := smimeHierarchy(t, "Chain Mode", "chain@example.com")
	modes := []struct {
		mode  cms.ChainMode
		certs []*x509.Certificate
	}{
		{cms.ChainNone, nil},
		{cms.ChainSignerOnly, []*x509.Certificate{h.leaf.Certificate}},
		{cms.ChainDefault, []*x509.Certificate{h.leaf.Certificate, h.inter.Certificate}},
		{cms.ChainWithRoot, []*x509.Certificate{h.leaf.Certificate, h.inter.Certificate, h.root.Certificate}},
	}
	for _, m := range modes {
		der, err := cms.Sign(message, h.signer(), cms.SignOptions{ChainMode: m.mode})
		t.Must(err, "sign with chain mode %s", m.mode)

		embedded, err := cms.ParseCertsOnly(der)
		t.Must(err, "%s: read embedded certificates", m.mode)
		if t.Is(len(embedded), len(m.certs), "%s: embeds %d certificates", m.mode, len(m.certs)) {
			for i, c := range m.certs {
				t.Ok(embedded[i].Equal(c), "%s: certificate %d is %q", m.mode, i, c.Subject.CommonName)
			}
		}

		var supplied []*x509.Certificate
		if m.mode == cms.ChainNone {
			supplied = []*x509.Certificate{h.leaf.Certificate}
		}
		_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Certificates: supplied})
		t.NoError(err, "%s: signature verifies", m.mode)

		_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Certificates: supplied, Evaluator: anchored(h.root)})
		if len(m.certs) >= 2 {
			t.NoError(err, "%s: chain builds from the message", m.mode)
		} else {
			t.ErrorIs(err, cms.ErrUntrustedSigner, "%s: intermediate missing", m.mode)
		}
	}
}

// cmsTimestamp checks the signing-time attribute and evaluation as of the
// signing time.
func cmsTimestamp(t *harness.T) {
	root := newRoot(t, "Timestamp Root CA")
	now := time.Now()
	leaf := issue(t, root, pki.Subject("short lived signer"), pki.Validity(now.Add(-time.Hour), now.Add(time.Hour)))
	signer := cms.Signer{Certificate: leaf.Certificate, Key: leaf.PrivateKey}

	der, err := cms.Sign(message, signer, cms.SignOptions{Detached: true})
	t.Must(err, "sign detached")

	info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Content: message})
	t.Must(err, "verify detached")
	t.Ok(!info.SigningTime.IsZero(), "signing time present")
	t.Ok(info.SigningTime.Sub(now).Abs() < time.Minute, "signing time is now (%s)", info.SigningTime)

	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Content: []byte("forged content")})
	t.Error(err, "detached signature over other content fails")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{})
	t.ErrorIs(err, cms.ErrNoContent, "detached signature without content")

	later := now.Add(48 * time.Hour)
	e := anchored(root)
	info, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Content: message, Evaluator: e, At: later})
	t.ErrorIs(err, cms.ErrUntrustedSigner, "signer expired by now")
	if info != nil && info.Evaluation != nil {
		t.Ok(info.Evaluation.Has(trust.ReasonExpired), "evaluation reports expiry")
	}

	info, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Content: message, Evaluator: e, At: later, UseSigningTime: true})
	t.NoError(err, "signer valid at signing time")
	if info != nil && info.Evaluation != nil {
		t.Ok(info.Evaluation.VerifyTime.Equal(info.SigningTime), "evaluated at signing time")
	}
}

// cmsExpirationTime checks the expiration-time signed attribute.
func cmsExpirationTime(t *harness.T) {
	h := smimeHierarchy(t, "Expiration", "expiring@example.com")
	expires := time.Now().Add(time.Hour).Truncate(time.Second)

	der, err := cms.Sign(message, h.signer(), cms.SignOptions{ExpirationTime: expires})
	t.Must(err, "sign with expiration time")

	info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{})
	t.Must(err, "verify before expiration")
	t.Ok(info.ExpirationTime.Equal(expires), "expiration time %s recovered", info.ExpirationTime)

	info, err = cms.Verify(t.Context(), der, cms.VerifyOptions{At: expires.Add(time.Minute)})
	t.ErrorIs(err, cms.ErrMessageExpired, "message rejected after expiration")
	t.Ok(info != nil && bytes.Equal(info.Content, message), "expired message still exposes its content")

	der, err = cms.Sign(message, h.signer(), cms.SignOptions{})
	t.Must(err, "sign without expiration time")
	info, err = cms.Verify(t.Context(), der, cms.VerifyOptions{At: expires.AddDate(1, 0, 0)})
	t.Must(err, "message without expiration never expires")
	t.Ok(info.ExpirationTime.IsZero(), "no expiration time")
}

// cmsSignEnvelope covers signing with EC and RSA keys, tamper detection and
// enveloped data.
func cmsSignEnvelope(t *harness.T) {
	ec := smimeHierarchy(t, "CMS EC", "ec@example.com")
	rsa := smimeHierarchy(t, "CMS RSA", "rsa@example.com", pki.RSAKey(2048))

	for _, h := range []hierarchy{ec, rsa} {
		name := h.leaf.Certificate.Subject.CommonName
		der, err := cms.Sign(message, h.signer(), cms.SignOptions{})
		t.Must(err, "%s: sign", name)
		info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: anchored(h.root)})
		t.NoError(err, "%s: verify attached", name)
		if info != nil {
			t.Is(info.Content, message, "%s: content recovered", name)
		}

		tampered := bytes.Clone(der)
		if i := bytes.Index(tampered, message); t.Ok(i >= 0, "%s: content embedded", name) {
			tampered[i] ^= 0x01
			_, err = cms.Verify(t.Context(), tampered, cms.VerifyOptions{})
			t.Error(err, "%s: tampered content rejected", name)
		}

		detached, err := cms.Sign(message, h.signer(), cms.SignOptions{Detached: true})
		t.Must(err, "%s: sign detached", name)
		t.Ok(!bytes.Contains(detached, message), "%s: detached message omits content", name)
		_, err = cms.Verify(t.Context(), detached, cms.VerifyOptions{Content: message})
		t.NoError(err, "%s: verify detached", name)
	}

	other := smimeHierarchy(t, "CMS Other", "other@example.com", pki.RSAKey(2048))
	enveloped, err := cms.Encrypt(message, rsa.leaf.Certificate, other.leaf.Certificate)
	t.Must(err, "encrypt to two recipients")
	t.Ok(!bytes.Contains(enveloped, message), "ciphertext hides content")
	for _, h := range []hierarchy{rsa, other} {
		plain, err := cms.Decrypt(enveloped, h.leaf.Certificate, h.leaf.PrivateKey)
		t.NoError(err, "recipient %s decrypts", h.leaf.Certificate.Subject.CommonName)
		t.Is(plain, message, "recipient %s reads content", h.leaf.Certificate.Subject.CommonName)
	}
	outsider := smimeHierarchy(t, "CMS Outsider", "outsider@example.com", pki.RSAKey(2048))
	_, err = cms.Decrypt(enveloped, outsider.leaf.Certificate, outsider.leaf.PrivateKey)
	t.Error(err, "non-recipient cannot decrypt")

	_, err = cms.Encrypt(message, ec.leaf.Certificate)
	t.ErrorIs(err, cms.ErrUnsupportedRecipient, "EC recipients are not supported")
	_, err = cms.Encrypt(message)
	t.ErrorIs(err, cms.ErrNoRecipients, "at least one recipient")

	// Sign, then envelope the signed message.
	signed, err := cms.Sign(message, ec.signer(), cms.SignOptions{})
	t.Must(err, "sign before enveloping")
	wrapped, err := cms.Encrypt(signed, rsa.leaf.Certificate)
	t.Must(err, "envelope signed message")
	opened, err := cms.Decrypt(wrapped, rsa.leaf.Certificate, rsa.leaf.PrivateKey)
	t.Must(err, "open envelope")
	_, err = cms.Verify(t.Context(), opened, cms.VerifyOptions{Evaluator: anchored(ec.root)})
	t.NoError(err, "inner signature verifies")
}

// cmsCertsOnly checks degenerate certificate-only messages, including BER
// encodings produced by other toolkits.
func cmsCertsOnly(t *harness.T) {
	h := newHierarchy(t, "Certs Only", nil)
	der, err := cms.CertsOnly(h.leaf.Certificate, h.inter.Certificate, h.root.Certificate)
	t.Must(err, "encode certificates")

	certs, err := cms.ParseCertsOnly(der)
	t.Must(err, "decode certificates")
	if t.Is(len(certs), 3, "three certificates") {
		t.Ok(certs[0].Equal(h.leaf.Certificate) && certs[1].Equal(h.inter.Certificate) && certs[2].Equal(h.root.Certificate),
			"order preserved")
	}

	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{})
	t.ErrorIs(err, cms.ErrNotSigned, "certs-only message has no signers")

	var outer asn1.RawValue
	_, err = asn1.Unmarshal(der, &outer)
	t.Must(err, "split outer sequence")
	ber := append([]byte{0x30, 0x80}, outer.Bytes...)
	ber = append(ber, 0x00, 0x00)
	certs, err = cms.ParseCertsOnly(ber)
	t.NoError(err, "indefinite length encoding accepted")
	t.Is(len(certs), 3, "BER message carries the same certificates")

	_, err = cms.CertsOnly()
	t.Error(err, "empty certificate list rejected")
	_, err = cms.ParseCertsOnly([]byte("-----BEGIN PKCS7-----"))
	t.ErrorIs(err, cms.ErrMalformed, "garbage rejected")
}

// cmsCertPolicy checks signer evaluation under caller supplied policies.
func cmsCertPolicy(t *harness.T) {
	const addr = "policy@example.com"
	h := smimeHierarchy(t, "Cert Policy", addr, pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))
	der, err := cms.Sign(message, h.signer(), cms.SignOptions{})
	t.Must(err, "sign")
	e := anchored(h.root)

	verify := func(policies ...trust.Policy) error {
		_, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: e, Policies: policies})
		return err
	}
	t.NoError(verify(), "default policy")
	t.NoError(verify(trust.SMIME(addr)), "S/MIME policy for the signer address")
	t.NoError(verify(trust.SMIME(strings.ToUpper(addr))), "address comparison ignores case")
	t.NoError(verify(trust.CodeSigning()), "code signing policy")
	t.NoError(verify(trust.SMIME(addr), trust.CodeSigning()), "both policies together")
	t.ErrorIs(verify(trust.SMIME("someone.else@example.com")), cms.ErrUntrustedSigner, "S/MIME policy for another address")
	t.ErrorIs(verify(trust.SSL("www.example.com", true)), cms.ErrUntrustedSigner, "TLS policy")

	info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: e, Policies: []trust.Policy{trust.SSL("", true)}})
	t.ErrorIs(err, cms.ErrUntrustedSigner, "TLS policy without host")
	if info != nil && info.Evaluation != nil {
		t.Ok(info.Evaluation.Has(trust.ReasonExtendedKeyUsage), "rejected for its key usage")
	}

	stranger := newRoot(t, "Stranger Root CA")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: anchored(stranger), Policies: []trust.Policy{trust.SMIME(addr)}})
	t.ErrorIs(err, cms.ErrUntrustedSigner, "signer under unknown anchor")
}

// cmsHashAgility checks the supported message digests.
func cmsHashAgility(t *harness.T) {
	for _, keyOpt := range []pki.Option{pki.ECKey(elliptic.P256()), pki.RSAKey(2048)} {
		h := smimeHierarchy(t, "Hash Agility", "agile@example.com", keyOpt)
		for _, digest := range []crypto.Hash{crypto.SHA256, crypto.SHA384, crypto.SHA512} {
			der, err := cms.Sign(message, h.signer(), cms.SignOptions{Digest: digest})
			t.Must(err, "sign with %s", digest)
			info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: anchored(h.root)})
			t.NoError(err, "verify %s", digest)
			if info != nil {
				t.Is(info.Digest, digest, "digest algorithm is %s", digest)
			}
		}
	}
	h := smimeHierarchy(t, "Hash Agility", "agile@example.com")
	_, err := cms.Sign(message, h.signer(), cms.SignOptions{Digest: crypto.MD5})
	t.Error(err, "MD5 digest refused")
}

// smimeFraming wraps signed, enveloped and certs-only messages in
// application/pkcs7-mime entities and back.
func smimeFraming(t *harness.T) {
	h := smimeHierarchy(t, "S/MIME", "mime@example.com", pki.RSAKey(2048))

	signed, err := cms.Sign(message, h.signer(), cms.SignOptions{})
	t.Must(err, "sign")
	enveloped, err := cms.Encrypt(message, h.leaf.Certificate)
	t.Must(err, "encrypt")
	certsOnly, err := cms.CertsOnly(h.leaf.Certificate, h.inter.Certificate)
	t.Must(err, "certs-only")

	for _, tc := range []struct {
		kind smime.Kind
		der  []byte
	}{
		{smime.SignedData, signed},
		{smime.EnvelopedData, enveloped},
		{smime.CertsOnly, certsOnly},
	} {
		entity, err := smime.Marshal(tc.der, tc.kind, [2]string{"Subject", "regression"})
		t.Must(err, "%s: encode", tc.kind)
		t.Ok(bytes.Contains(entity, []byte("application/pkcs7-mime")), "%s: media type", tc.kind)

		msg, err := smime.Decode(bytes.NewReader(entity))
		t.Must(err, "%s: decode", tc.kind)
		t.Is(msg.Kind, tc.kind, "%s: kind preserved", tc.kind)
		t.Is(msg.Data, tc.der, "%s: payload preserved", tc.kind)
		t.Is(msg.Headers.Get("Subject"), "regression", "%s: extra header preserved", tc.kind)
	}

	legacy := "Content-Type: application/x-pkcs7-mime; name=smime.p7m\r\n" +
		"Content-Transfer-Encoding: base64\r\n\r\n" +
		base64.StdEncoding.EncodeToString(signed) + "\r\n"
	msg, err := smime.Decode(strings.NewReader(legacy))
	t.Must(err, "decode legacy media type")
	t.Is(msg.Kind, smime.SignedData, "kind inferred from file name")
	_, err = cms.Verify(t.Context(), msg.Data, cms.VerifyOptions{Evaluator: anchored(h.root)})
	t.NoError(err, "decoded signature verifies")

	msg, err = smime.Decode(bytes.NewReader(mustMarshal(t, enveloped, smime.EnvelopedData)))
	t.Must(err, "decode enveloped entity")
	plain, err := cms.Decrypt(msg.Data, h.leaf.Certificate, h.leaf.PrivateKey)
	t.NoError(err, "decrypt decoded envelope")
	t.Is(plain, message, "envelope content")

	_, err = smime.Marshal(signed, smime.Kind("compressed-data"))
	t.ErrorIs(err, smime.ErrUnknownKind, "unknown smime-type refused")
	_, err = smime.Decode(strings.NewReader("Content-Type: text/plain\r\n\r\nhello\r\n"))
	t.ErrorIs(err, smime.ErrNotPKCS7, "plain text entity refused")
}

func mustMarshal(t *harness.T, der []byte, kind smime.Kind) []byte {
	out, err := smime.Marshal(der, kind)
	t.Must(err, "encode %s", kind)
	return out
}
