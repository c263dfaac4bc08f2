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

	"github.com/Excloudx6/macos-security-libs/pkg/cms"
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// sectrustASR checks the software restore signing policy.
func sectrustASR(t *harness.T) {
	root := newRoot(t, "Restore Root CA")
	e := anchored(root, trust.WithPolicies(trust.SoftwareRestore()))

	signer := issue(t, root,
		pki.Subject("Software Restore Signing"),
		pki.Marker(trust.OIDSoftwareRestore),
		pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))
	expectResult(t, evaluate(t, e, signer), trust.Unspecified, "restore signer")

	unmarked := issue(t, root, pki.Subject("Unmarked Signer"), pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))
	expectResult(t, evaluate(t, e, unmarked), trust.RecoverableTrustFailure, "signer without marker",
		trust.ReasonMissingMarker)

	tls := issue(t, root,
		pki.Subject("Restore Server"),
		pki.Marker(trust.OIDSoftwareRestore),
		pki.ExtKeyUsage(x509.ExtKeyUsageServerAuth))
	expectResult(t, evaluate(t, e, tls), trust.RecoverableTrustFailure, "marker with server usage",
		trust.ReasonExtendedKeyUsage)

	stranger := newRoot(t, "Stranger Root CA")
	expectResult(t, evaluate(t, anchored(stranger, trust.WithPolicies(trust.SoftwareRestore())), signer),
		trust.RecoverableTrustFailure, "signer under foreign anchor", trust.ReasonUntrustedAnchor)
}

// sectrustIAP checks in-app purchase receipt signers, including a signed
// receipt verified under the policy.
func sectrustIAP(t *harness.T) {
	h := newHierarchy(t, "Receipts",
		[]pki.Option{pki.Marker(trust.OIDIntermediateMarker)},
		pki.Subject("Mac App Store and iTunes Store Receipt Signing"),
		pki.Marker(trust.OIDInAppPurchase))
	e := anchored(h.root, trust.WithPolicies(trust.InAppPurchase()))

	expectResult(t, evaluate(t, e, h.leaf), trust.Unspecified, "receipt signer")

	direct := issue(t, h.root, pki.Subject("Direct Receipt Signer"), pki.Marker(trust.OIDInAppPurchase))
	expectResult(t, evaluate(t, e, direct), trust.RecoverableTrustFailure, "signer without marked intermediate",
		trust.ReasonMissingMarker)

	// Pinned anchor: the same chain under another root is rejected.
	impostor := newHierarchy(t, "Impostor",
		[]pki.Option{pki.Marker(trust.OIDIntermediateMarker)},
		pki.Subject("Mac App Store and iTunes Store Receipt Signing"),
		pki.Marker(trust.OIDInAppPurchase))
	expectResult(t, evaluate(t, e, impostor.leaf), trust.RecoverableTrustFailure, "receipt signer under impostor root",
		trust.ReasonUntrustedAnchor)

	receipt := []byte(`{"bundle_id":"com.example.game","product_id":"gems.100","quantity":1}`)
	der, err := cms.Sign(receipt, cms.Signer{
		Certificate: h.leaf.Certificate,
		Key:         h.leaf.PrivateKey,
		Chain:       h.leaf.Chain()[1:],
	}, cms.SignOptions{})
	t.Must(err, "sign receipt")

	info, err := cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: e})
	t.NoError(err, "receipt verifies under the receipt policy")
	if info != nil {
		t.Is(info.Content, receipt, "receipt payload recovered")
	}
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: anchored(impostor.root)})
	t.ErrorIs(err, cms.ErrUntrustedSigner, "receipt rejected under impostor anchor")
}

// sectrustITMS checks the store URL bag signer policy.
func sectrustITMS(t *harness.T) {
	h := newHierarchy(t, "iTunes Store",
		[]pki.Option{pki.Marker(trust.OIDStoreURLBagCommonCA)},
		pki.Subject("iTunes Store URL Bag"),
		pki.Marker(trust.OIDStoreURLBag))
	e := anchored(h.root, trust.WithPolicies(trust.StoreURLBag()))

	expectResult(t, evaluate(t, e, h.leaf), trust.Unspecified, "URL bag signer")

	renamed := issue(t, h.inter, pki.Subject("iTunes Store URL Bag 2"), pki.Marker(trust.OIDStoreURLBag))
	expectResult(t, evaluate(t, e, renamed), trust.RecoverableTrustFailure, "signer with other name",
		trust.ReasonSubjectName)

	plain := newHierarchy(t, "Plain", nil, pki.Subject("iTunes Store URL Bag"), pki.Marker(trust.OIDStoreURLBag))
	expectResult(t, evaluate(t, anchored(plain.root, trust.WithPolicies(trust.StoreURLBag())), plain.leaf),
		trust.RecoverableTrustFailure, "signer under unmarked CA", trust.ReasonMissingMarker)
}

// sectrustPassbook checks pass signing certificates and team binding.
func sectrustPassbook(t *harness.T) {
	const team = "A1B2C3D4E5"
	h := newHierarchy(t, "Developer Relations",
		[]pki.Option{pki.Marker(trust.OIDIntermediateMarker)},
		pki.Subject("Pass Type ID: pass.com.example.ticket"),
		pki.OrgUnit(team),
		pki.Marker(trust.OIDPassSigning))

	expectResult(t, evaluate(t, anchored(h.root, trust.WithPolicies(trust.Passbook(team))), h.leaf),
		trust.Unspecified, "pass signer for its team")
	expectResult(t, evaluate(t, anchored(h.root, trust.WithPolicies(trust.Passbook(""))), h.leaf),
		trust.Unspecified, "pass signer for any team")
	expectResult(t, evaluate(t, anchored(h.root, trust.WithPolicies(trust.Passbook("ZZZZZZZZZZ"))), h.leaf),
		trust.RecoverableTrustFailure, "pass signer for another team", trust.ReasonSubjectName)

	unmarked := issue(t, h.inter, pki.Subject("Pass Type ID: pass.com.example.other"), pki.OrgUnit(team))
	expectResult(t, evaluate(t, anchored(h.root, trust.WithPolicies(trust.Passbook(team))), unmarked),
		trust.RecoverableTrustFailure, "certificate without pass marker", trust.ReasonMissingMarker)
}

// mobileStorePolicy checks that production and test store signers are not
// interchangeable.
func mobileStorePolicy(t *harness.T) {
	root := newRoot(t, "Store Root CA")
	sub := issueCA(t, root, pki.Subject("Mobile Store Sub CA"), pki.Marker(trust.OIDMobileStoreSubCA))
	prod := issue(t, sub, pki.Subject("Mobile Store Signer"),
		pki.Marker(trust.OIDMobileStore), pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))
	test := issue(t, sub, pki.Subject("Mobile Store Test Signer"),
		pki.Marker(trust.OIDMobileStoreTest), pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))

	prodPolicy := anchored(root, trust.WithPolicies(trust.MobileStore(false)))
	testPolicy := anchored(root, trust.WithPolicies(trust.MobileStore(true)))

	expectResult(t, evaluate(t, prodPolicy, prod), trust.Unspecified, "production signer, production policy")
	expectResult(t, evaluate(t, testPolicy, test), trust.Unspecified, "test signer, test policy")
	expectResult(t, evaluate(t, prodPolicy, test), trust.RecoverableTrustFailure, "test signer, production policy",
		trust.ReasonMissingMarker)
	expectResult(t, evaluate(t, testPolicy, prod), trust.RecoverableTrustFailure, "production signer, test policy",
		trust.ReasonMissingMarker)

	noEKU := issue(t, sub, pki.Subject("Mobile Store Server"),
		pki.Marker(trust.OIDMobileStore), pki.ExtKeyUsage(x509.ExtKeyUsageServerAuth))
	expectResult(t, evaluate(t, prodPolicy, noEKU), trust.RecoverableTrustFailure, "signer without code signing",
		trust.ReasonExtendedKeyUsage)
}

// otaPKISigner checks the over-the-air PKI asset signer and a signed asset.
func otaPKISigner(t *harness.T) {
	root := newRoot(t, "OTA Root CA")
	signer := issue(t, root, pki.Subject("OTA PKI Signer"), pki.Marker(trust.OIDOTAPKISigner))
	e := anchored(root, trust.WithPolicies(trust.OTAPKISigner()))

	expectResult(t, evaluate(t, e, signer), trust.Unspecified, "OTA signer")

	misnamed := issue(t, root, pki.Subject("OTA PKI Signer Test"), pki.Marker(trust.OIDOTAPKISigner))
	expectResult(t, evaluate(t, e, misnamed), trust.RecoverableTrustFailure, "misnamed signer", trust.ReasonSubjectName)

	unmarked := issue(t, root, pki.Subject("OTA PKI Signer"))
	expectResult(t, evaluate(t, e, unmarked), trust.RecoverableTrustFailure, "unmarked signer", trust.ReasonMissingMarker)

	asset := []byte("blocked-keys: []\nallowed-cas: []\nversion: 2024031500\n")
	der, err := cms.Sign(asset, cms.Signer{Certificate: signer.Certificate, Key: signer.PrivateKey}, cms.SignOptions{})
	t.Must(err, "sign asset")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: e})
	t.NoError(err, "asset signed by OTA signer verifies")

	der, err = cms.Sign(asset, cms.Signer{Certificate: unmarked.Certificate, Key: unmarked.PrivateKey}, cms.SignOptions{})
	t.Must(err, "sign asset with unmarked certificate")
	_, err = cms.Verify(t.Context(), der, cms.VerifyOptions{Evaluator: e})
	t.ErrorIs(err, cms.ErrUntrustedSigner, "asset signed by unmarked certificate rejected")
}

// sectrustUnified evaluates several policies at once; every policy must pass.
func sectrustUnified(t *harness.T) {
	const host = "www.example.com"
	root := newRoot(t, "Unified Root CA")
	serverOnly := issue(t, root, serverLeaf(host)...)
	both := issue(t, root, append(serverLeaf(host), pki.ExtKeyUsage(x509.ExtKeyUsageCodeSigning))...)

	e := anchored(root, trust.WithPolicies(trust.BasicX509(), trust.SSL(host, true), trust.CodeSigning()))

	expectResult(t, evaluate(t, e, both), trust.Unspecified, "leaf satisfying every policy")

	ev := evaluate(t, e, serverOnly)
	expectResult(t, ev, trust.RecoverableTrustFailure, "leaf without code signing", trust.ReasonExtendedKeyUsage)
	policies := map[string]bool{}
	for _, f := range ev.Failures {
		policies[f.Policy] = true
	}
	t.Is(policies, map[string]bool{"code_signing": true}, "only the code signing policy failed")

	ev = evaluate(t, e.With(trust.WithPolicies(trust.SSL("other.example.com", true), trust.CodeSigning())), both)
	expectResult(t, ev, trust.RecoverableTrustFailure, "wrong host", trust.ReasonHostname)

	ev = evaluate(t, e.With(trust.WithPolicies(trust.SSL(host, true))), serverOnly)
	expectResult(t, ev, trust.Unspecified, "server leaf under SSL alone")
}
