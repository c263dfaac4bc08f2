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
	"context"
	"math/bits"
	"strings"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/padding"
	"github.com/Excloudx6/macos-security-libs/pkg/recoverykey"
)

const recoverySalt = "regression@example.com"

// recoveryKey enrolls a recovery key from one device and preflights joining
// the circle with it from another.
func recoveryKey(t *harness.T) {
	rk, err := recoverykey.Generate(nil)
	t.Must(err, "generate recovery key")
	t.Is(len(rk), recoverykey.Length, "recovery key length")
	t.NoError(recoverykey.Validate(rk), "generated key validates")
	normalized, err := recoverykey.Normalize("  " + strings.ToLower(rk) + "\n")
	t.NoError(err, "lower case key normalizes")
	t.Is(normalized, rk, "normalized key")

	zeros, err := recoverykey.Generate(bytes.NewReader(make([]byte, 64)))
	t.Must(err, "generate from fixed entropy")
	t.Ok(strings.HasPrefix(zeros, "2222-2222"), "fixed entropy maps to the first symbol")
	for _, bad := range []string{"", "2222", strings.Replace(rk, "-", "_", 1), strings.Replace(rk, rk[:1], "0", 1)} {
		t.ErrorIs(recoverykey.Validate(bad), recoverykey.ErrInvalidRecoveryKey, "rejects %q", bad)
	}

	k1, err := recoverykey.Derive(rk, recoverySalt)
	t.Must(err, "derive")
	k2, err := recoverykey.Derive(rk, recoverySalt)
	t.Must(err, "derive again")
	t.Is(k1.PeerID, k2.PeerID, "derivation is deterministic")
	t.Ok(k1.Signing.Equal(k2.Signing) && k1.Encryption.Equal(k2.Encryption), "same keys on both derivations")
	t.Ok(!k1.Signing.Equal(k1.Encryption), "signing and encryption keys differ")
	other, err := recoverykey.Derive(rk, "someone.else@example.com")
	t.Must(err, "derive with another salt")
	t.Ok(other.PeerID != k1.PeerID, "salt changes the recovery peer")
	_, err = recoverykey.Derive("not-a-key", recoverySalt)
	t.ErrorIs(err, recoverykey.ErrInvalidRecoveryKey, "derive rejects malformed key")

	model := recoverykey.NewModel()
	model.AddPolicy(&recoverykey.Policy{Version: 3, Name: "circle-v3", Views: map[string][]string{
		"iPhone": {"Passwords"},
	}})
	model.AddPolicy(&recoverykey.Policy{Version: 4, Name: "circle-v4", Views: map[string][]string{
		"iPhone": {"Passwords", "WiFi"},
		"Mac":    {"Passwords"},
	}})

	joiner := recoverykey.NewContainer(model)
	_, err = joiner.PreflightVouch(t.Context(), rk, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrNoPreparedIdentity, "preflight needs a prepared identity")
	_, _, err = joiner.Prepare("iPhone15,2", 1)
	t.Must(err, "prepare joining device")

	_, err = joiner.PreflightVouch(t.Context(), rk, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrRecoveryKeysNotEnrolled, "nothing enrolled yet")

	sponsor := recoverykey.NewContainer(model)
	sponsorID, _, err := sponsor.Prepare("Mac14,2", 1)
	t.Must(err, "prepare sponsor")
	info, err := sponsorID.Verify()
	t.Must(err, "sponsor permanent info verifies")
	t.Is(info.ModelID, "Mac14,2", "sponsor model")
	pair, err := sponsor.EnrollRecoveryKey(t.Context(), rk, recoverySalt)
	t.Must(err, "enroll recovery key")
	want, err := k1.KeyPair()
	t.Must(err, "public key pair")
	t.Ok(pair.Equal(want), "enrolled pair matches derivation")

	_, err = joiner.PreflightVouch(t.Context(), rk, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrSponsorNotRegistered, "sponsor enrolled before registering")

	model.RegisterPeer(recoverykey.Peer{ID: sponsorID.PeerID, ModelID: "Mac14,2", PolicyVersion: 4})
	pre, err := joiner.PreflightVouch(t.Context(), rk, recoverySalt)
	t.Must(err, "preflight vouch")
	t.Is(pre.PeerID, k1.PeerID, "vouching peer is the recovery peer")
	t.Is(pre.Views, []string{"Passwords", "WiFi"}, "views for the joining model")
	t.Is(pre.Policy.Version, uint64(4), "sponsor's policy")

	other2, err := recoverykey.Generate(nil)
	t.Must(err, "generate second key")
	_, err = joiner.PreflightVouch(t.Context(), other2, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrUntrustedRecoveryKeys, "key nobody enrolled")
	t.Ok(recoverykey.IsPreflightFailure(err), "untrusted key is a preflight refusal")
	_, err = joiner.PreflightVouch(t.Context(), "2222", recoverySalt)
	t.ErrorIs(err, recoverykey.ErrFailedToCreateRecoveryKey, "malformed key")

	watch := recoverykey.NewContainer(model)
	_, _, err = watch.Prepare("Watch6,1", 1)
	t.Must(err, "prepare watch")
	_, err = watch.PreflightVouch(t.Context(), rk, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrPolicyNotFound, "policy has no views for the model")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = joiner.PreflightVouch(ctx, rk, recoverySalt)
	t.ErrorIs(err, context.Canceled, "cancelled preflight")
	t.Ok(!recoverykey.IsPreflightFailure(err), "cancellation is not a refusal")

	model.RemovePeer(sponsorID.PeerID)
	_, err = joiner.PreflightVouch(t.Context(), rk, recoverySalt)
	t.ErrorIs(err, recoverykey.ErrSponsorNotRegistered, "sponsor left the circle")
}

// paddingMMCS checks the MMCS size classes.
func paddingMMCS(t *harness.T) {
	for _, tc := range []struct{ length, pad int }{
		{0, 64}, {1, 63}, {64, 0}, {65, 63}, {100, 28}, {128, 0}, {513, 511},
		{1024, 0}, {1025, 1023}, {5000, 120}, {32000, 768}, {32001, 767},
		{40960, 0}, {100000, 6496},
	} {
		pad, err := padding.Compute(padding.TypeMMCS, tc.length)
		t.Must(err, "compute padding for %d", tc.length)
		t.Is(pad, tc.pad, "%d bytes pad by %d", tc.length, tc.pad)
	}

	for length := 0; length <= 70000; length += 97 {
		pad, err := padding.Compute(padding.TypeMMCS, length)
		if !t.NoError(err, "compute padding for %d", length) {
			continue
		}
		size := length + pad
		var ok bool
		switch {
		case length <= 64:
			ok = size == 64
		case length <= 1024:
			ok = bits.OnesCount(uint(size)) == 1 && size/2 < length
		case length <= 32000:
			ok = size%1024 == 0 && pad < 1024
		default:
			ok = size%8192 == 0 && pad < 8192
		}
		if !ok {
			t.Ok(false, "%d bytes padded to %d is not a size class", length, size)
		}
	}
	t.Ok(true, "every sampled length lands on its size class")

	_, err := padding.Compute(padding.Type(0), 10)
	t.ErrorIs(err, padding.ErrUnknownPaddingType, "unknown padding type")
	_, err = padding.Compute(padding.TypeMMCS, -1)
	t.ErrorIs(err, padding.ErrInvalidLength, "negative length")
	t.Is(padding.TypeMMCS.String(), "mmcs", "type name")
}
