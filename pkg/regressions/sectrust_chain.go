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
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// sectrustDigiNotar checks that a distrusted CA is fatal, including when its
// key is reached through a cross-signed certificate.
func sectrustDigiNotar(t *harness.T) {
	const host = "login.example.com"
	diginotar := newRoot(t, "DigiNotar Root CA")
	leaf := issue(t, diginotar, serverLeaf(host)...)
	policy := trust.WithPolicies(trust.SSL(host, true))

	expectResult(t, evaluate(t, anchored(diginotar, policy), leaf), trust.Unspecified, "before distrust")

	blocked := trust.NewBlocklist()
	blocked.BlockKey(diginotar.Certificate, "DigiNotar compromise")
	expectResult(t, evaluate(t, anchored(diginotar, policy, trust.WithBlocklist(blocked)), leaf),
		trust.FatalTrustFailure, "distrusted root", trust.ReasonBlocklisted)

	// Another root cross-signs the same name and key.
	entrust := newRoot(t, "Entrust Root CA")
	cross := issueCA(t, entrust, pki.Name(diginotar.Certificate.Subject), pki.Key(diginotar.PrivateKey))
	e := anchored(entrust, policy)

	ev, err := e.Evaluate(t.Context(), leaf.Certificate, cross.Certificate)
	t.Must(err, "evaluate through cross certificate")
	expectResult(t, ev, trust.Unspecified, "cross-signed path before distrust")
	t.Is(len(ev.Chain), 3, "path runs through the cross certificate")

	ev, err = e.With(trust.WithBlocklist(blocked)).Evaluate(t.Context(), leaf.Certificate, cross.Certificate)
	t.Must(err, "evaluate through cross certificate with blocklist")
	expectResult(t, ev, trust.FatalTrustFailure, "cross-signed distrusted key", trust.ReasonBlocklisted)
}

// sectrustDigicertMalaysia checks weak RSA keys under the TLS policy and a
// blocklisted intermediate.
func sectrustDigicertMalaysia(t *harness.T) {
	const host = "www.example.my"
	root := newRoot(t, "Entrust.net Certification Authority (2048)")
	inter := issueCA(t, root, pki.Subject("Digisign Server ID (Enrich)"), pki.RSAKey(1024))
	leaf := issue(t, inter, serverLeaf(host)...)

	expectResult(t, evaluate(t, anchored(root), leaf), trust.Unspecified, "weak intermediate under basic policy")

	e := anchored(root, trust.WithPolicies(trust.SSL(host, true)))
	ev := evaluate(t, e, leaf)
	expectResult(t, ev, trust.RecoverableTrustFailure, "weak intermediate under TLS policy", trust.ReasonWeakKey)
	for _, f := range ev.Failures {
		if f.Reason == trust.ReasonWeakKey {
			t.Is(f.Index, 1, "weak key reported on the intermediate")
		}
	}

	weakLeaf := issue(t, root, append(serverLeaf(host), pki.RSAKey(1024))...)
	expectResult(t, evaluate(t, e, weakLeaf), trust.RecoverableTrustFailure, "weak leaf key", trust.ReasonWeakKey)

	blocked := trust.NewBlocklist()
	blocked.BlockSerial(root.Certificate, inter.Certificate.SerialNumber, "Digicert Malaysia")
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(blocked)), leaf), trust.FatalTrustFailure,
		"blocklisted intermediate outranks weak key", trust.ReasonBlocklisted, trust.ReasonWeakKey)
}

// sectrustCopyProperties checks the per-certificate summary of an
// evaluation.
func sectrustCopyProperties(t *harness.T) {
	h := newHierarchy(t, "Properties", nil, serverLeaf("props.example.com")...)
	ev := evaluate(t, anchored(h.root), h.leaf)

	props := ev.Properties()
	t.Require(len(props) == 3, "one summary per chain member")
	t.Ok(props[0].Subject == "CN=props.example.com", "leaf subject %q", props[0].Subject)
	t.Ok(props[0].Issuer == "CN=Properties Intermediate CA", "leaf issuer %q", props[0].Issuer)
	t.Is(props[0].Serial, hex.EncodeToString(h.leaf.Certificate.SerialNumber.Bytes()), "serial number")
	spki := trust.SPKIHash(h.leaf.Certificate)
	t.Is(props[0].SPKISHA256, hex.EncodeToString(spki[:]), "public key hash")
	t.Is(props[0].SignatureHash, "SHA-256", "signature hash")
	t.Ok(!props[0].IsCA && props[1].IsCA && props[2].IsCA, "CA flags")
	t.Is(props[0].Error, "", "no error on a trusted leaf")

	labels := props[0].Labelled()
	t.Is(labels[0].Label, "Subject", "first label")
	t.Is(labels[len(labels)-1].Label, "Certificate Authority", "last label without error")

	now := time.Now()
	expired := issue(t, h.inter, pki.Subject("expired.example.com"), pki.Validity(now.Add(-48*time.Hour), now.Add(-24*time.Hour)))
	ev = evaluate(t, anchored(h.root), expired)
	props = ev.Properties()
	t.Require(len(props) == 3, "expired leaf still yields a full chain")
	t.Is(props[0].Error, "expired", "error property on expired leaf")
	labels = props[0].Labelled()
	t.Is(labels[len(labels)-1], trust.Property{Label: "Error", Value: "expired"}, "error label last")
}

// certificateSigHashAlg checks the reported signature hash for every
// supported algorithm and flags legacy hashes.
func certificateSigHashAlg(t *harness.T) {
	rsaRoot := newRoot(t, "RSA Hash Root", pki.RSAKey(2048))
	ecRoot := newRoot(t, "EC Hash Root")

	cases := []struct {
		issuer *pki.Identity
		alg    x509.SignatureAlgorithm
		want   crypto.Hash
	}{
		{rsaRoot, x509.SHA256WithRSA, crypto.SHA256},
		{rsaRoot, x509.SHA384WithRSA, crypto.SHA384},
		{rsaRoot, x509.SHA512WithRSA, crypto.SHA512},
		{rsaRoot, x509.SHA256WithRSAPSS, crypto.SHA256},
		{ecRoot, x509.ECDSAWithSHA256, crypto.SHA256},
		{ecRoot, x509.ECDSAWithSHA384, crypto.SHA384},
		{ecRoot, x509.ECDSAWithSHA512, crypto.SHA512},
	}
	for _, tc := range cases {
		leaf := issue(t, tc.issuer, pki.Subject(tc.alg.String()+" leaf"), pki.SignatureAlgorithm(tc.alg))
		t.Is(leaf.Certificate.SignatureAlgorithm, tc.alg, "%s: algorithm recorded", tc.alg)
		t.Is(trust.SignatureHash(leaf.Certificate), tc.want, "%s: hash is %s", tc.alg, tc.want)

		ev := evaluate(t, anchored(tc.issuer), leaf)
		expectResult(t, ev, trust.Unspecified, tc.alg.String()+" leaf")
		t.Is(ev.Properties()[0].SignatureHash, tc.want.String(), "%s: property", tc.alg)
	}

	// Legacy algorithms cannot be produced by the certificate builder, so the
	// checks run on certificates carrying only the algorithm field.
	legacy := []struct {
		alg  x509.SignatureAlgorithm
		want crypto.Hash
	}{
		{x509.SHA1WithRSA, crypto.SHA1},
		{x509.ECDSAWithSHA1, crypto.SHA1},
		{x509.MD5WithRSA, crypto.MD5},
	}
	for _, tc := range legacy {
		cert := &x509.Certificate{SignatureAlgorithm: tc.alg}
		t.Is(trust.SignatureHash(cert), tc.want, "%s: hash is %s", tc.alg, tc.want)
		failures := trust.BasicX509().Check([]*x509.Certificate{cert, rsaRoot.Certificate}, &trust.PolicyContext{})
		t.Ok(len(failures) == 1 && failures[0].Reason == trust.ReasonWeakHash, "%s: flagged as weak", tc.alg)
	}

	anchorOnly := &x509.Certificate{SignatureAlgorithm: x509.SHA1WithRSA}
	failures := trust.BasicX509().Check([]*x509.Certificate{rsaRoot.Certificate, anchorOnly}, &trust.PolicyContext{})
	t.Is(len(failures), 0, "anchor signature hash is not checked")
	t.Is(trust.SignatureHash(&x509.Certificate{SignatureAlgorithm: x509.PureEd25519}), crypto.Hash(0), "Ed25519 has no separate hash")
}

// sectrustValid checks validity windows, the verify date and the TLS
// lifetime cap.
func sectrustValid(t *harness.T) {
	const host = "valid.example.com"
	now := time.Now().Truncate(time.Second)
	root := newRoot(t, "Validity Root CA", pki.Validity(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), now.AddDate(10, 0, 0)))

	current := issue(t, root, serverLeaf(host)...)
	expired := issue(t, root, append(serverLeaf(host), pki.Validity(now.AddDate(0, 0, -30), now.AddDate(0, 0, -1)))...)
	future := issue(t, root, append(serverLeaf(host), pki.Validity(now.AddDate(0, 0, 1), now.AddDate(0, 0, 30)))...)

	e := anchored(root)
	expectResult(t, evaluate(t, e, current), trust.Unspecified, "current leaf")
	expectResult(t, evaluate(t, e, expired), trust.RecoverableTrustFailure, "expired leaf", trust.ReasonExpired)
	expectResult(t, evaluate(t, e, future), trust.RecoverableTrustFailure, "not yet valid leaf", trust.ReasonExpired)

	expectResult(t, evaluate(t, e.With(trust.WithVerifyDate(now.AddDate(0, 0, -10))), expired),
		trust.Unspecified, "expired leaf at a date inside its window")
	ev, err := e.EvaluateAt(t.Context(), now.AddDate(0, 0, 2), future.Certificate)
	t.Must(err, "evaluate at a later date")
	expectResult(t, ev, trust.Unspecified, "future leaf once valid")
	t.Ok(ev.VerifyTime.Equal(now.AddDate(0, 0, 2)), "verify time recorded")

	// Certificates issued before the cutover keep their long lifetimes.
	at := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	ssl := e.With(trust.WithPolicies(trust.SSL(host, true)), trust.WithVerifyDate(at))
	cutover := time.Date(2020, 9, 1, 0, 0, 0, 0, time.UTC)

	legacy := issue(t, root, append(serverLeaf(host),
		pki.Validity(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)))...)
	expectResult(t, evaluate(t, ssl, legacy), trust.Unspecified, "two year leaf issued before cutover")

	within := issue(t, root, append(serverLeaf(host), pki.Validity(cutover, cutover.Add(398*24*time.Hour)))...)
	expectResult(t, evaluate(t, ssl, within), trust.Unspecified, "398 day leaf issued at cutover")

	tooLong := issue(t, root, append(serverLeaf(host), pki.Validity(cutover, cutover.Add(400*24*time.Hour)))...)
	expectResult(t, evaluate(t, ssl, tooLong), trust.RecoverableTrustFailure, "400 day leaf issued at cutover",
		trust.ReasonValidityTooLong)

	expectResult(t, evaluate(t, ssl.With(trust.WithPolicies(trust.BasicX509())), tooLong),
		trust.Unspecified, "lifetime cap applies to TLS only")
}
