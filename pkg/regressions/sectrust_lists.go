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
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/file"
	"github.com/Excloudx6/macos-security-libs/pkg/storage/memory"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// sectrustBlocklist checks blocking by key and by issuer and serial.
func sectrustBlocklist(t *harness.T) {
	h := newHierarchy(t, "Blocklist", nil, pki.Subject("blocked leaf"))
	sibling := issue(t, h.inter, pki.Subject("sibling leaf"))
	e := anchored(h.root)

	expectResult(t, evaluate(t, e, h.leaf), trust.Unspecified, "empty blocklist")

	byKey := trust.NewBlocklist()
	byKey.BlockKey(h.inter.Certificate, "compromised intermediate")
	note, blocked := byKey.Blocked(h.inter.Certificate)
	t.Ok(blocked && note == "compromised intermediate", "blocked key reported with its note")
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(byKey)), h.leaf), trust.FatalTrustFailure,
		"leaf under blocked intermediate", trust.ReasonBlocklisted)
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(byKey)), sibling), trust.FatalTrustFailure,
		"every leaf under blocked intermediate", trust.ReasonBlocklisted)

	bySerial := trust.NewBlocklist()
	bySerial.BlockSerial(h.inter.Certificate, h.leaf.Certificate.SerialNumber, "misissued")
	ev := evaluate(t, e.With(trust.WithBlocklist(bySerial)), h.leaf)
	expectResult(t, ev, trust.FatalTrustFailure, "blocked serial", trust.ReasonBlocklisted)
	if len(ev.Failures) > 0 {
		t.Is(ev.Failures[0].Index, 0, "failure points at the leaf")
	}
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(bySerial)), sibling), trust.Unspecified,
		"sibling serial unaffected")

	// The same serial from another issuer is a different certificate.
	other := newRoot(t, "Other Root CA")
	lookalike := issue(t, other, pki.Serial(h.leaf.Certificate.SerialNumber))
	expectResult(t, evaluate(t, anchored(other, trust.WithBlocklist(bySerial)), lookalike), trust.Unspecified,
		"same serial under another issuer")

	byHash := trust.NewBlocklist()
	byHash.BlockSPKIHash(trust.SPKIHash(h.root.Certificate), "distrusted root")
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(byHash)), h.leaf), trust.FatalTrustFailure,
		"blocked anchor key", trust.ReasonBlocklisted)

	now := time.Now()
	expired := issue(t, h.inter, pki.Validity(now.Add(-48*time.Hour), now.Add(-time.Hour)))
	expectResult(t, evaluate(t, e.With(trust.WithBlocklist(byKey)), expired), trust.FatalTrustFailure,
		"blocklist outranks expiry", trust.ReasonBlocklisted, trust.ReasonExpired)
}

// sectrustAllowlist checks that a constrained CA only vouches for allowlisted
// leaves.
func sectrustAllowlist(t *harness.T) {
	h := newHierarchy(t, "Allowlist", nil, pki.Subject("allowed leaf"))
	stranger := issue(t, h.inter, pki.Subject("unlisted leaf"))
	free := issueCA(t, h.root, pki.Subject("Unconstrained CA"))
	freeLeaf := issue(t, free, pki.Subject("unconstrained leaf"))

	allow := trust.NewAllowlist()
	allow.Constrain(h.inter.Certificate, "partial distrust")
	e := anchored(h.root, trust.WithAllowlist(allow))

	expectResult(t, evaluate(t, e, h.leaf), trust.RecoverableTrustFailure, "leaf before allowlisting",
		trust.ReasonNotAllowlisted)

	allow.Allow(h.leaf.Certificate)
	expectResult(t, evaluate(t, e, h.leaf), trust.Unspecified, "allowlisted leaf")
	expectResult(t, evaluate(t, e, stranger), trust.RecoverableTrustFailure, "unlisted leaf",
		trust.ReasonNotAllowlisted)
	expectResult(t, evaluate(t, e, freeLeaf), trust.Unspecified, "leaf under unconstrained CA")

	allow.AllowFingerprint(trust.Fingerprint(stranger.Certificate))
	expectResult(t, evaluate(t, e, stranger), trust.Unspecified, "leaf allowlisted by fingerprint")

	// Constraining the root covers every CA below it.
	rootOnly := trust.NewAllowlist()
	rootOnly.Constrain(h.root.Certificate, "constrained root")
	expectResult(t, evaluate(t, anchored(h.root, trust.WithAllowlist(rootOnly)), freeLeaf),
		trust.RecoverableTrustFailure, "leaf under constrained root", trust.ReasonNotAllowlisted)
}

// sectrustPinningRequired checks SPKI pins and hosts that require one.
func sectrustPinningRequired(t *harness.T) {
	const (
		pinned   = "pinned.example.com"
		unpinned = "open.example.com"
	)
	h := newHierarchy(t, "Pinning", nil, serverLeaf(pinned)...)
	openLeaf := issue(t, h.inter, serverLeaf(unpinned)...)
	subLeaf := issue(t, h.inter, serverLeaf("api.example.org")...)

	pin, err := trust.ParsePin(trust.EncodePin(h.inter.Certificate))
	t.Must(err, "parse encoded pin")
	_, err = trust.ParsePin("not-a-pin")
	t.ErrorIs(err, trust.ErrInvalidPin, "malformed pin rejected")

	pins := trust.NewPinStore(false)
	t.Must(pins.Add(trust.PinRule{Host: pinned, SPKIHashes: [][32]byte{pin}}), "add pin rule")
	t.Must(pins.Add(trust.PinRule{Host: "example.org.", SPKIHashes: [][32]byte{pin}, IncludeSubdomains: true}),
		"add subdomain pin rule")
	t.ErrorIs(pins.Add(trust.PinRule{Host: pinned}), trust.ErrInvalidPin, "rule without hashes rejected")

	ssl := func(host string) trust.Option {
		return trust.WithPolicies(trust.SSL(host, true))
	}
	e := anchored(h.root, trust.WithPins(pins))

	expectResult(t, evaluate(t, e.With(ssl(pinned)), h.leaf), trust.Unspecified, "pinned host with matching key")
	expectResult(t, evaluate(t, e.With(ssl("api.example.org")), subLeaf), trust.Unspecified,
		"subdomain covered by parent rule")
	expectResult(t, evaluate(t, e.With(ssl(unpinned)), openLeaf), trust.Unspecified, "host without rule")

	other := newRoot(t, "Unrelated Root CA")
	wrong := trust.NewPinStore(false)
	t.Must(wrong.Add(trust.PinRule{Host: pinned, SPKIHashes: [][32]byte{trust.SPKIHash(other.Certificate)}}),
		"add mismatching pin rule")
	expectResult(t, evaluate(t, anchored(h.root, trust.WithPins(wrong), ssl(pinned)), h.leaf),
		trust.RecoverableTrustFailure, "pinned host with other key", trust.ReasonPinMismatch)

	required := trust.WithPolicies(trust.SSL(unpinned, true).RequirePinning())
	expectResult(t, evaluate(t, e.With(required), openLeaf), trust.RecoverableTrustFailure,
		"policy requiring a pin for unpinned host", trust.ReasonPinRequired)

	strict := trust.NewPinStore(true)
	t.Must(strict.Add(trust.PinRule{Host: pinned, SPKIHashes: [][32]byte{pin}}), "add strict pin rule")
	t.Ok(strict.Required(), "store requires pins")
	se := anchored(h.root, trust.WithPins(strict))
	expectResult(t, evaluate(t, se.With(ssl(pinned)), h.leaf), trust.Unspecified, "strict store, pinned host")
	expectResult(t, evaluate(t, se.With(ssl(unpinned)), openLeaf), trust.RecoverableTrustFailure,
		"strict store, unpinned host", trust.ReasonPinRequired)
	expectResult(t, evaluate(t, se, openLeaf), trust.Unspecified, "strict store ignores non-TLS evaluation")
}

// sectrustSettings checks user trust settings and their persistence.
func sectrustSettings(t *harness.T) {
	h := newHierarchy(t, "Settings", nil, pki.Subject("settings leaf"))
	s := trust.NewSettings(memory.New())
	e := trust.NewEvaluator(trust.WithSettings(s))

	ev := evaluate(t, e, h.leaf)
	expectResult(t, ev, trust.RecoverableTrustFailure, "no settings")
	t.Ok(!ev.Anchored, "no anchor without settings")

	t.Must(s.Set(h.root.Certificate, trust.SettingTrustRoot), "trust root")
	expectResult(t, evaluate(t, e, h.leaf), trust.Proceed, "user trusted root")

	t.Must(s.Set(h.inter.Certificate, trust.SettingDeny), "deny intermediate")
	expectResult(t, evaluate(t, e, h.leaf), trust.Deny, "denied intermediate", trust.ReasonDenied)

	t.Must(s.Set(h.inter.Certificate, trust.SettingDeny, "smime"), "deny intermediate for smime only")
	expectResult(t, evaluate(t, e, h.leaf), trust.Proceed, "deny scoped to another policy")
	expectResult(t, evaluate(t, e.With(trust.WithPolicies(trust.SMIME(""))), h.leaf), trust.Deny,
		"deny scoped to this policy", trust.ReasonDenied)

	t.ErrorIs(s.Set(h.leaf.Certificate, trust.SettingTrustRoot), trust.ErrInvalidSetting,
		"trust root on a non self-signed certificate")

	t.Must(s.Set(h.inter.Certificate, trust.SettingUnspecified), "clear intermediate")
	entries, err := s.List()
	t.Must(err, "list settings")
	t.Is(len(entries), 1, "one remaining setting")

	t.Must(s.Set(h.leaf.Certificate, trust.SettingTrustAsRoot), "trust leaf as root")
	ev, err = trust.NewEvaluator(trust.WithSettings(s)).Evaluate(t.Context(), h.leaf.Certificate)
	t.Must(err, "evaluate leaf alone")
	expectResult(t, ev, trust.Proceed, "leaf trusted as root")
	t.Is(len(ev.Chain), 1, "chain ends at the leaf")

	dir, cleanup := tempDir(t, "trust-settings-")
	defer cleanup()
	backend, err := file.New(dir)
	t.Must(err, "open file storage")
	t.Must(trust.NewSettings(backend).Set(h.root.Certificate, trust.SettingTrustRoot), "persist root setting")
	t.Must(backend.Close(), "close file storage")

	reopened, err := file.New(dir)
	t.Must(err, "reopen file storage")
	defer reopened.Close()
	persisted := trust.NewSettings(reopened)
	entry, err := persisted.Get(h.root.Certificate)
	t.Must(err, "read persisted setting")
	t.Is(entry.Setting, trust.SettingTrustRoot, "setting survived reopen")
	expectResult(t, evaluate(t, trust.NewEvaluator(trust.WithSettings(persisted)), h.leaf), trust.Proceed,
		"persisted root setting drives evaluation")
}
