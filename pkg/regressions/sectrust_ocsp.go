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
	"crypto/x509"
	"errors"
	"net/http/httptest"
	"time"

	xocsp "golang.org/x/crypto/ocsp"

	"github.com/Excloudx6/macos-security-libs/pkg/certstore"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/ocsp"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// sectrustOCSP runs a local responder and checks good, revoked and unknown
// answers, the require-positive-response mode, the response cache and CRL
// fallback.
func sectrustOCSP(t *harness.T) {
	root := newRoot(t, "OCSP Root CA")
	responder := ocsp.NewResponder(root.Certificate, root.PrivateKey)
	srv := httptest.NewServer(responder)
	defer srv.Close()

	withOCSP := func(cn string) *pki.Identity {
		return issue(t, root, pki.Subject(cn), pki.OCSPServer(srv.URL))
	}
	good := withOCSP("good.example.com")
	revoked := withOCSP("revoked.example.com")
	unknown := withOCSP("unknown.example.com")
	responder.MarkGood(good.Certificate.SerialNumber)
	responder.Revoke(revoked.Certificate.SerialNumber, time.Now().Add(-time.Hour), xocsp.KeyCompromise)

	client := ocsp.NewClient()
	e := anchored(root, trust.WithRevocation(client, false))

	ev := evaluate(t, e, good)
	expectResult(t, ev, trust.Unspecified, "good certificate")
	if t.Ok(len(ev.Revocation) == 1, "one revocation answer") {
		t.Is(ev.Revocation[0].Status, trust.RevocationGood, "responder said good")
	}

	ev = evaluate(t, e, revoked)
	expectResult(t, ev, trust.FatalTrustFailure, "revoked certificate", trust.ReasonRevoked)

	expectResult(t, evaluate(t, e, unknown), trust.Unspecified, "unknown status without require")
	strict := anchored(root, trust.WithRevocation(client, true))
	expectResult(t, evaluate(t, strict, unknown), trust.RecoverableTrustFailure, "unknown status with require",
		trust.ReasonRevocationUnavailable)
	expectResult(t, evaluate(t, strict, good), trust.Unspecified, "good status with require")

	before := responder.Requests()
	expectResult(t, evaluate(t, e, good), trust.Unspecified, "good certificate again")
	t.Is(responder.Requests(), before, "second lookup served from cache")
	t.Ok(client.Cached() > 0, "responses cached")

	noURL := issue(t, root, pki.Subject("no-ocsp.example.com"))
	_, err := client.CheckRevocation(t.Context(), noURL.Certificate, root.Certificate)
	t.ErrorIs(err, trust.ErrNoRevocationInfo, "certificate without responder URL")

	foreign := newRoot(t, "Foreign Root CA")
	stray := issue(t, foreign, pki.Subject("stray.example.com"), pki.OCSPServer(srv.URL))
	_, err = client.CheckRevocation(t.Context(), stray.Certificate, foreign.Certificate)
	var respErr xocsp.ResponseError
	t.Ok(errors.As(err, &respErr) && respErr.Status == xocsp.Unauthorized, "foreign issuer unauthorized")

	// CRLs answer for certificates without a responder.
	store, err := certstore.New(memory.New())
	t.Must(err, "open certificate store")
	defer store.Close()
	t.Must(store.Add(root.Certificate), "store issuer")
	entries := []x509.RevocationListEntry{{
		SerialNumber:   noURL.Certificate.SerialNumber,
		RevocationTime: time.Now().Add(-time.Minute),
	}}
	crl, err := root.CRL(1, entries, time.Now().Add(time.Hour))
	t.Must(err, "issue CRL")
	t.Must(store.AddCRL(crl), "install CRL")

	both := anchored(root, trust.WithRevocation(trust.Checkers{client, trust.CRLChecker{Source: store}}, false))
	ev = evaluate(t, both, noURL)
	expectResult(t, ev, trust.FatalTrustFailure, "certificate revoked by CRL", trust.ReasonRevoked)
	if len(ev.Revocation) == 1 {
		t.Is(ev.Revocation[0].Source, "crl", "answer came from the CRL")
	}
	expectResult(t, evaluate(t, both, good), trust.Unspecified, "OCSP still answers first")

	// Without a reachable responder only the strict mode fails.
	srv.Close()
	offline := ocsp.NewClient(ocsp.WithoutCache())
	expectResult(t, evaluate(t, anchored(root, trust.WithRevocation(offline, false)), good), trust.Unspecified,
		"responder down, best effort")
	expectResult(t, evaluate(t, anchored(root, trust.WithRevocation(offline, true)), good),
		trust.RecoverableTrustFailure, "responder down, required", trust.ReasonRevocationUnavailable)
}
