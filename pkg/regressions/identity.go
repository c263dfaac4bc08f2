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
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/certstore"
	"github.com/Excloudx6/macos-security-libs/pkg/csr"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/keys"
	"github.com/Excloudx6/macos-security-libs/pkg/pkcs12"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

const p12Password = "regression-suite"

// pkcs12Identity exports identities in each encoding and imports them back.
func pkcs12Identity(t *harness.T) {
	for _, keyOpt := range []pki.Option{pki.RSAKey(2048), pki.ECKey(elliptic.P384())} {
		h := newHierarchy(t, "PKCS12", nil, append([]pki.Option{pki.Subject("pkcs12 identity")}, keyOpt)...)
		id := &pkcs12.Identity{
			Certificate: h.leaf.Certificate,
			PrivateKey:  h.leaf.PrivateKey,
			CACerts:     []*x509.Certificate{h.inter.Certificate, h.root.Certificate},
		}
		kind := keyType(h.leaf.Certificate)

		for _, enc := range []pkcs12.Encoding{pkcs12.Modern, pkcs12.LegacyDES, pkcs12.LegacyRC2} {
			data, err := pkcs12.Export(id, p12Password, enc)
			t.Must(err, "%s %s: export", kind, enc)

			got, err := pkcs12.Import(data, p12Password)
			t.Must(err, "%s %s: import", kind, enc)
			t.Ok(got.Certificate.Equal(h.leaf.Certificate), "%s %s: certificate", kind, enc)
			t.Ok(sameKey(got.PrivateKey.Public(), h.leaf.PrivateKey.Public()), "%s %s: private key", kind, enc)
			t.Is(len(got.CACerts), 2, "%s %s: CA certificates", kind, enc)

			_, err = pkcs12.Import(data, "not the password")
			t.ErrorIs(err, pkcs12.ErrIncorrectPassword, "%s %s: wrong password", kind, enc)

			ev, err := anchored(h.root).Evaluate(t.Context(), got.Certificate, got.CACerts...)
			t.Must(err, "%s %s: evaluate imported identity", kind, enc)
			t.Ok(ev.Trusted(), "%s %s: imported chain is trusted", kind, enc)
		}
	}

	a := newHierarchy(t, "PKCS12 A", nil)
	b := newHierarchy(t, "PKCS12 B", nil)
	_, err := pkcs12.Export(&pkcs12.Identity{Certificate: a.leaf.Certificate, PrivateKey: b.leaf.PrivateKey}, p12Password, pkcs12.Modern)
	t.ErrorIs(err, pkcs12.ErrKeyMismatch, "certificate and key must match")
	_, err = pkcs12.Import([]byte("not a pkcs12 file"), p12Password)
	t.Error(err, "garbage refused")

	roots := []*x509.Certificate{a.root.Certificate, b.root.Certificate}
	store, err := pkcs12.ExportTrustStore(roots, p12Password)
	t.Must(err, "export trust store")
	certs, err := pkcs12.ImportTrustStore(store, p12Password)
	t.Must(err, "import trust store")
	if t.Is(len(certs), 2, "trust store holds both roots") {
		t.Ok(certs[0].Equal(a.root.Certificate) && certs[1].Equal(b.root.Certificate), "trust store order")
	}
	_, err = pkcs12.ImportTrustStore(store, "wrong")
	t.ErrorIs(err, pkcs12.ErrIncorrectPassword, "trust store password")
	_, err = pkcs12.ExportTrustStore(nil, p12Password)
	t.ErrorIs(err, pkcs12.ErrEmptyTrustStore, "empty trust store refused")

	e := trust.NewEvaluator(trust.WithAnchors(certs...), trust.WithAnchorsOnly(true))
	ev := evaluate(t, e, b.leaf)
	t.Ok(ev.Trusted(), "roots from trust store anchor evaluation")
}

func keyType(c *x509.Certificate) string {
	return c.PublicKeyAlgorithm.String()
}

// csrRequest creates, parses and fulfils certificate signing requests.
func csrRequest(t *harness.T) {
	const host = "csr.example.com"
	marker := pkix.Extension{Id: trust.OIDSoftwareRestore, Value: []byte{0x05, 0x00}}

	for _, p := range []keys.Params{{Type: keys.EC}, {Type: keys.RSA}} {
		kp := generate(t, p)
		req := csr.Request{
			Subject:    pkix.Name{CommonName: host, Organization: []string{"Regression"}},
			DNSNames:   []string{host, "www." + host},
			Emails:     []string{"admin@" + host},
			Extensions: []pkix.Extension{marker},
		}
		der, err := csr.Create(kp.Private, req)
		t.Must(err, "%s: create request", p.Type)

		cr, err := csr.Parse(der)
		t.Must(err, "%s: parse request", p.Type)
		t.Is(cr.Subject.CommonName, host, "%s: subject", p.Type)
		t.Is(cr.DNSNames, req.DNSNames, "%s: DNS names", p.Type)
		t.Is(cr.EmailAddresses, req.Emails, "%s: e-mail addresses", p.Type)
		t.Ok(sameKey(cr.PublicKey, kp.Public()), "%s: public key", p.Type)

		fromPEM, err := csr.DecodePEM(csr.EncodePEM(der))
		t.Must(err, "%s: PEM round trip", p.Type)
		t.Is(fromPEM.Raw, cr.Raw, "%s: PEM preserves request", p.Type)

		tampered := bytes.Clone(der)
		if i := bytes.Index(tampered, []byte(host)); t.Ok(i >= 0, "%s: subject embedded", p.Type) {
			tampered[i] = 'x'
			_, err = csr.Parse(tampered)
			t.ErrorIs(err, csr.ErrBadSignature, "%s: tampered request", p.Type)
		}

		h := newHierarchy(t, "CSR", nil)
		cert, err := csr.Issue(cr, h.inter.Certificate, h.inter.PrivateKey, csr.IssueOptions{
			Validity:    30 * 24 * time.Hour,
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		t.Must(err, "%s: issue from request", p.Type)
		t.Is(cert.Subject.CommonName, host, "%s: issued subject", p.Type)
		t.Is(cert.DNSNames, req.DNSNames, "%s: issued DNS names", p.Type)
		t.Ok(sameKey(cert.PublicKey, kp.Public()), "%s: issued for requested key", p.Type)
		t.Ok(hasExtension(cert, trust.OIDSoftwareRestore), "%s: requested extension copied", p.Type)

		e := anchored(h.root, trust.WithPolicies(trust.SSL("www."+host, true)))
		ev, err := e.Evaluate(t.Context(), cert, h.inter.Certificate)
		t.Must(err, "%s: evaluate issued certificate", p.Type)
		t.Ok(ev.Trusted(), "%s: issued certificate trusted for %s", p.Type, "www."+host)

		self, err := csr.SelfSign(cr, kp.Private, csr.IssueOptions{IsCA: true})
		t.Must(err, "%s: self-sign", p.Type)
		t.NoError(self.CheckSignatureFrom(self), "%s: self-signed certificate verifies", p.Type)
		t.Ok(self.IsCA, "%s: self-signed CA", p.Type)
		t.Ok(self.KeyUsage&x509.KeyUsageCertSign != 0, "%s: CA may sign certificates", p.Type)

		other := generate(t, keys.Params{Type: keys.EC})
		_, err = csr.SelfSign(cr, other.Private, csr.IssueOptions{})
		t.ErrorIs(err, csr.ErrInvalidRequest, "%s: self-sign needs the request key", p.Type)
	}

	_, err := csr.Create(generate(t, keys.Params{Type: keys.EC}).Private, csr.Request{})
	t.ErrorIs(err, csr.ErrInvalidRequest, "empty subject refused")
	_, err = csr.DecodePEM([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))
	t.ErrorIs(err, csr.ErrNotPEM, "certificate block is not a request")
}

func hasExtension(c *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}

// secMatchIssuer finds identities by the issuers in their chains.
func secMatchIssuer(t *harness.T) {
	backend := memory.New()
	store, err := certstore.New(backend)
	t.Must(err, "open certificate store")
	defer func() { _ = store.Close() }()

	a := newHierarchy(t, "Match A", nil, pki.Subject("identity A"))
	b := newRoot(t, "Match B Root CA")
	leafB := issue(t, b, pki.Subject("identity B"))
	for _, c := range []*x509.Certificate{a.root.Certificate, a.inter.Certificate, b.Certificate} {
		t.Must(store.Add(c), "add %q", c.Subject.CommonName)
	}
	t.Must(store.AddIdentity(a.leaf.Certificate, a.leaf.PrivateKey), "add identity A")
	t.Must(store.AddIdentity(leafB.Certificate, leafB.PrivateKey), "add identity B")
	t.ErrorIs(store.AddIdentity(a.leaf.Certificate, leafB.PrivateKey), certstore.ErrKeyMismatch, "identity key must match")

	names := func(ids []certstore.Identity) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, id.Certificate.Subject.CommonName)
		}
		return out
	}

	ids, err := store.FindIdentitiesByIssuer(a.inter.Certificate.RawSubject)
	t.Must(err, "match direct issuer")
	t.Is(names(ids), []string{"identity A"}, "direct issuer")

	ids, err = store.FindIdentitiesByIssuer(a.root.Certificate.RawSubject)
	t.Must(err, "match root")
	t.Is(names(ids), []string{"identity A"}, "issuer further up the chain")

	ids, err = store.FindIdentitiesByIssuer(a.root.Certificate.RawSubject, b.Certificate.RawSubject)
	t.Must(err, "match either issuer")
	t.Is(len(ids), 2, "both identities")

	stranger := newRoot(t, "Match Stranger Root CA")
	ids, err = store.FindIdentitiesByIssuer(stranger.Certificate.RawSubject)
	t.Must(err, "match unrelated issuer")
	t.Is(len(ids), 0, "no identity under an unrelated issuer")
	ids, err = store.FindIdentitiesByIssuer()
	t.Must(err, "match no issuers")
	t.Is(len(ids), 0, "no issuers matches nothing")

	// An identity imported from a PKCS#12 file matches once its chain is known.
	c := newHierarchy(t, "Match C", nil, pki.Subject("identity C"))
	data, err := pkcs12.Export(&pkcs12.Identity{
		Certificate: c.leaf.Certificate,
		PrivateKey:  c.leaf.PrivateKey,
		CACerts:     []*x509.Certificate{c.inter.Certificate},
	}, p12Password, pkcs12.Modern)
	t.Must(err, "export identity C")
	imported, err := pkcs12.Import(data, p12Password)
	t.Must(err, "import identity C")
	t.Must(store.AddIdentity(imported.Certificate, imported.PrivateKey), "add imported identity")

	ids, err = store.FindIdentitiesByIssuer(c.root.Certificate.RawSubject)
	t.Must(err, "match before chain is known")
	t.Is(len(ids), 0, "root not reachable without the intermediate")
	for _, ca := range imported.CACerts {
		t.Must(store.Add(ca), "add %q", ca.Subject.CommonName)
	}
	ids, err = store.FindIdentitiesByIssuer(c.root.Certificate.RawSubject)
	t.Must(err, "match after chain is known")
	t.Is(names(ids), []string{"identity C"}, "root reachable through imported intermediate")

	chain, err := store.Chain(imported.Certificate)
	t.Must(err, "build chain")
	t.Is(len(chain), 2, "chain stops at the missing root")

	got, err := store.Get(trust.FingerprintHex(a.leaf.Certificate))
	t.Must(err, "get by fingerprint")
	t.Ok(got.Equal(a.leaf.Certificate), "fingerprint lookup")

	t.Must(store.Remove(a.leaf.Certificate), "remove identity A")
	ids, err = store.FindIdentitiesByIssuer(a.root.Certificate.RawSubject)
	t.Must(err, "match after removal")
	t.Is(len(ids), 0, "removed identity no longer matches")
	t.ErrorIs(store.Remove(a.leaf.Certificate), certstore.ErrCertNotFound, "remove twice")
}
