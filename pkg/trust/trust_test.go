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

package trust

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
)

type hierarchy struct {
	root  *pki.Identity
	inter *pki.Identity
	leaf  *pki.Identity
}

func newHierarchy(t *testing.T, leafOpts ...pki.Option) hierarchy {
	t.Helper()
	root, err := pki.NewRoot()
	require.NoError(t, err)
	inter, err := root.IssueCA(pki.Subject("Inter"))
	require.NoError(t, err)
	opts := append([]pki.Option{
		pki.Subject("www.example.com"),
		pki.DNSNames("www.example.com"),
		pki.ExtKeyUsage(x509.ExtKeyUsageServerAuth),
	}, leafOpts...)
	leaf, err := inter.Issue(opts...)
	require.NoError(t, err)
	return hierarchy{root: root, inter: inter, leaf: leaf}
}

func (h hierarchy) evaluate(t *testing.T, opts ...Option) *Evaluation {
	t.Helper()
	e := NewEvaluator(append([]Option{WithAnchors(h.root.Certificate)}, opts...)...)
	ev, err := e.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	return ev
}

// ============================================================================
// Results
// ============================================================================

func TestResultStrings(t *testing.T) {
	assert.Equal(t, "proceed", Proceed.String())
	assert.Equal(t, "fatal_trust_failure", FatalTrustFailure.String())
	assert.Equal(t, "invalid", Result(99).String())
	assert.True(t, Unspecified.Trusted())
	assert.True(t, Proceed.Trusted())
	assert.False(t, Deny.Trusted())
	assert.Equal(t, "pin_required", ReasonPinRequired.String())
	assert.Equal(t, "reason(999)", Reason(999).String())
}

func TestEvaluateValidChain(t *testing.T) {
	h := newHierarchy(t)
	ev := h.evaluate(t, WithPolicies(SSL("www.example.com", true)))

	assert.Equal(t, Unspecified, ev.Result)
	assert.True(t, ev.Anchored)
	assert.Empty(t, ev.Failures)
	require.Len(t, ev.Chain, 3)
	assert.Equal(t, h.root.Certificate, ev.Chain[2])
}

func TestEvaluateNoLeaf(t *testing.T) {
	_, err := NewEvaluator().Evaluate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoLeaf)
}

func TestEvaluateUntrustedAnchor(t *testing.T) {
	h := newHierarchy(t)
	other, err := pki.NewRoot(pki.Subject("Other Root"))
	require.NoError(t, err)

	e := NewEvaluator(WithAnchors(other.Certificate))
	ev, err := e.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, RecoverableTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonUntrustedAnchor))
	assert.Len(t, ev.Chain, 2)
}

func TestEvaluateExpired(t *testing.T) {
	h := newHierarchy(t)
	ev := h.evaluate(t, WithVerifyDate(time.Now().Add(200*24*time.Hour)))
	assert.Equal(t, RecoverableTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonExpired))

	past := NewEvaluator(WithAnchors(h.root.Certificate))
	ev, err := past.EvaluateAt(context.Background(), time.Now().Add(-48*time.Hour), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.True(t, ev.Has(ReasonExpired))
}

func TestWithCopies(t *testing.T) {
	h := newHierarchy(t)
	base := NewEvaluator(WithAnchors(h.root.Certificate))
	derived := base.With(WithPolicies(SSL("other.example.com", true)))

	ev, err := base.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.True(t, ev.Trusted())

	ev, err = derived.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.True(t, ev.Has(ReasonHostname))
}

// ============================================================================
// Policies
// ============================================================================

func TestSSLPolicy(t *testing.T) {
	h := newHierarchy(t)

	ev := h.evaluate(t, WithPolicies(SSL("www.example.com", false)))
	assert.True(t, ev.Has(ReasonExtendedKeyUsage))

	ev = h.evaluate(t, WithPolicies(SSL("WWW.EXAMPLE.COM", true)))
	assert.Empty(t, ev.Failures)

	weak := newHierarchy(t, pki.RSAKey(1024))
	ev = weak.evaluate(t, WithPolicies(SSL("www.example.com", true)))
	assert.True(t, ev.Has(ReasonWeakKey))
	assert.Equal(t, RecoverableTrustFailure, ev.Result)
}

func TestSSLMaxValidity(t *testing.T) {
	nb := time.Now().Add(-time.Hour)
	long := newHierarchy(t, pki.Validity(nb, nb.Add(399*24*time.Hour)))
	ev := long.evaluate(t, WithPolicies(SSL("www.example.com", true)))
	assert.True(t, ev.Has(ReasonValidityTooLong))

	ok := newHierarchy(t, pki.Validity(nb, nb.Add(398*24*time.Hour)))
	ev = ok.evaluate(t, WithPolicies(SSL("www.example.com", true)))
	assert.False(t, ev.Has(ReasonValidityTooLong))

	// Issued before the cutover: the limit does not apply.
	old := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)
	legacy := newHierarchy(t, pki.Validity(old, old.Add(800*24*time.Hour)))
	e := NewEvaluator(WithAnchors(legacy.root.Certificate), WithPolicies(SSL("www.example.com", true)))
	ev, err := e.EvaluateAt(context.Background(), old.Add(24*time.Hour), legacy.leaf.Certificate, legacy.inter.Certificate)
	require.NoError(t, err)
	assert.False(t, ev.Has(ReasonValidityTooLong))
}

func TestSMIMEPolicy(t *testing.T) {
	h := newHierarchy(t, pki.Emails("alice@example.com"), pki.ExtKeyUsage(x509.ExtKeyUsageEmailProtection))
	ev := h.evaluate(t, WithPolicies(SMIME("Alice@Example.com")))
	assert.Empty(t, ev.Failures)

	ev = h.evaluate(t, WithPolicies(SMIME("bob@example.com")))
	assert.True(t, ev.Has(ReasonEmail))
}

func TestCodeSigningPolicy(t *testing.T) {
	h := newHierarchy(t)
	ev := h.evaluate(t, WithPolicies(CodeSigning()))
	assert.True(t, ev.Has(ReasonExtendedKeyUsage))
}

func TestMarkerPolicies(t *testing.T) {
	root, err := pki.NewRoot()
	require.NoError(t, err)
	inter, err := root.IssueCA(pki.Marker(OIDIntermediateMarker))
	require.NoError(t, err)
	pass, err := inter.Issue(pki.Subject("Pass Type ID"), pki.OrgUnit("TEAM1"), pki.Marker(OIDPassSigning))
	require.NoError(t, err)

	e := NewEvaluator(WithAnchors(root.Certificate))
	eval := func(p Policy, leaf *pki.Identity) *Evaluation {
		ev, err := e.With(WithPolicies(p)).Evaluate(context.Background(), leaf.Certificate, leaf.Intermediates()...)
		require.NoError(t, err)
		return ev
	}

	assert.True(t, eval(Passbook("TEAM1"), pass).Trusted())
	assert.True(t, eval(Passbook(""), pass).Trusted())
	assert.True(t, eval(Passbook("TEAM2"), pass).Has(ReasonSubjectName))
	assert.True(t, eval(InAppPurchase(), pass).Has(ReasonMissingMarker))

	direct, err := root.Issue(pki.Marker(OIDPassSigning))
	require.NoError(t, err)
	assert.True(t, eval(Passbook(""), direct).Has(ReasonMissingMarker))
}

func TestWeakHashes(t *testing.T) {
	cert := &x509.Certificate{SignatureAlgorithm: x509.SHA1WithRSA}
	anchor := &x509.Certificate{SignatureAlgorithm: x509.SHA1WithRSA}
	fs := weakHashes("basic", []*x509.Certificate{cert, anchor})
	require.Len(t, fs, 1)
	assert.Equal(t, ReasonWeakHash, fs[0].Reason)
	assert.Equal(t, 0, fs[0].Index)
}

// ============================================================================
// Lists and pins
// ============================================================================

func TestBlocklist(t *testing.T) {
	h := newHierarchy(t)

	b := NewBlocklist()
	b.BlockKey(h.inter.Certificate, "compromised")
	note, blocked := b.Blocked(h.inter.Certificate)
	assert.True(t, blocked)
	assert.Equal(t, "compromised", note)
	_, blocked = b.Blocked(h.leaf.Certificate)
	assert.False(t, blocked)

	ev := h.evaluate(t, WithBlocklist(b))
	assert.Equal(t, FatalTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonBlocklisted))
	assert.Contains(t, failureDetails(ev), "key blocked: compromised")

	b = NewBlocklist()
	b.BlockSerial(h.inter.Certificate, h.leaf.Certificate.SerialNumber, "misissued")
	note, blocked = b.Blocked(h.leaf.Certificate)
	assert.True(t, blocked)
	assert.Equal(t, "misissued", note)

	ev = h.evaluate(t, WithBlocklist(b))
	assert.Equal(t, FatalTrustFailure, ev.Result)
	require.NotEmpty(t, ev.Failures)
	assert.Equal(t, 0, ev.Failures[0].Index)
	assert.Contains(t, failureDetails(ev), "serial blocked: misissued")

	var none *Blocklist
	_, blocked = none.Blocked(h.leaf.Certificate)
	assert.False(t, blocked)
}

func failureDetails(ev *Evaluation) []string {
	details := make([]string, len(ev.Failures))
	for i, f := range ev.Failures {
		details[i] = f.Detail
	}
	return details
}

func TestAllowlist(t *testing.T) {
	h := newHierarchy(t)
	other, err := h.inter.Issue(pki.Subject("other"))
	require.NoError(t, err)

	a := NewAllowlist()
	a.Constrain(h.inter.Certificate, "restricted")
	a.Allow(h.leaf.Certificate)

	ev := h.evaluate(t, WithAllowlist(a))
	assert.True(t, ev.Trusted())

	e := NewEvaluator(WithAnchors(h.root.Certificate), WithAllowlist(a))
	ev, err = e.Evaluate(context.Background(), other.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, RecoverableTrustFailure, ev.Result)
	assert.True(t, ev.Has(ReasonNotAllowlisted))
}

func TestPinning(t *testing.T) {
	h := newHierarchy(t)
	pins := NewPinStore(false)
	require.NoError(t, pins.Add(PinRule{Host: "example.com", SPKIHashes: [][32]byte{SPKIHash(h.inter.Certificate)}, IncludeSubdomains: true}))

	ev := h.evaluate(t, WithPins(pins), WithPolicies(SSL("www.example.com", true)))
	assert.True(t, ev.Trusted())

	other := newHierarchy(t)
	ev = other.evaluate(t, WithPins(pins), WithPolicies(SSL("www.example.com", true)))
	assert.True(t, ev.Has(ReasonPinMismatch))

	ev = h.evaluate(t, WithPins(NewPinStore(true)), WithPolicies(SSL("www.example.com", true)))
	assert.True(t, ev.Has(ReasonPinRequired))

	ev = h.evaluate(t, WithPolicies(SSL("www.example.com", true).RequirePinning()))
	assert.True(t, ev.Has(ReasonPinRequired))
}

func TestPinParsing(t *testing.T) {
	h := newHierarchy(t)
	encoded := EncodePin(h.leaf.Certificate)
	sum, err := ParsePin(encoded)
	require.NoError(t, err)
	assert.Equal(t, SPKIHash(h.leaf.Certificate), sum)

	_, err = ParsePin("not base64!")
	assert.ErrorIs(t, err, ErrInvalidPin)
	assert.ErrorIs(t, NewPinStore(false).Add(PinRule{Host: "x"}), ErrInvalidPin)

	pins := NewPinStore(false)
	require.NoError(t, pins.Add(PinRule{Host: "Example.COM.", SPKIHashes: [][32]byte{sum}}))
	_, ok := pins.Lookup("example.com")
	assert.True(t, ok)
	_, ok = pins.Lookup("a.example.com")
	assert.False(t, ok)
}

// ============================================================================
// Settings
// ============================================================================

func TestSettingsPersistence(t *testing.T) {
	h := newHierarchy(t)
	backend := memory.New()
	s := NewSettings(backend)

	require.NoError(t, s.Set(h.root.Certificate, SettingTrustRoot))
	require.NoError(t, s.Set(h.leaf.Certificate, SettingDeny, "ssl_server"))

	entry, err := s.Get(h.root.Certificate)
	require.NoError(t, err)
	assert.Equal(t, SettingTrustRoot, entry.Setting)
	assert.Equal(t, h.root.Certificate.Raw, entry.Certificate.Raw)

	entry, err = s.Get(h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, SettingUnspecified, entry.Setting)

	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	keys, err := backend.List(settingsPrefix)
	require.NoError(t, err)
	assert.Contains(t, keys, settingsPrefix+FingerprintHex(h.root.Certificate))

	assert.ErrorIs(t, s.Set(h.leaf.Certificate, SettingTrustRoot), ErrInvalidSetting)

	require.NoError(t, s.Set(h.leaf.Certificate, SettingUnspecified))
	entries, err = s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSettingsDriveResult(t *testing.T) {
	h := newHierarchy(t)
	s := NewSettings(memory.New())
	require.NoError(t, s.Set(h.root.Certificate, SettingTrustRoot))

	e := NewEvaluator(WithSettings(s))
	ev, err := e.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, Proceed, ev.Result)

	require.NoError(t, s.Set(h.inter.Certificate, SettingDeny))
	ev, err = e.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, Deny, ev.Result)

	// A deny limited to another policy does not apply.
	require.NoError(t, s.Set(h.inter.Certificate, SettingDeny, "smime"))
	ev, err = e.Evaluate(context.Background(), h.leaf.Certificate, h.inter.Certificate)
	require.NoError(t, err)
	assert.Equal(t, Proceed, ev.Result)
}

func TestTrustAsRootOnLeaf(t *testing.T) {
	h := newHierarchy(t)
	s := NewSettings(memory.New())
	require.NoError(t, s.Set(h.leaf.Certificate, SettingTrustAsRoot))

	ev, err := NewEvaluator(WithSettings(s)).Evaluate(context.Background(), h.leaf.Certificate)
	require.NoError(t, err)
	assert.Equal(t, Proceed, ev.Result)
	assert.Len(t, ev.Chain, 1)
}

func TestParseSetting(t *testing.T) {
	for _, s := range []Setting{SettingUnspecified, SettingTrustRoot, SettingTrustAsRoot, SettingDeny} {
		got, err := ParseSetting(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSetting("maybe")
	assert.ErrorIs(t, err, ErrInvalidSetting)
}
