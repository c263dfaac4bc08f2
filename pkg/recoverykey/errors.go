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

package recoverykey

import "errors"

var (
	// ErrInvalidRecoveryKey is returned for strings that are not in the
	// recovery key format.
	ErrInvalidRecoveryKey = errors.New("recoverykey: invalid recovery key format")

	// ErrNoPreparedIdentity is returned when the container has no local peer.
	ErrNoPreparedIdentity = errors.New("recoverykey: no prepared identity")

	// ErrInvalidPermanentInfo is returned when the local peer's permanent
	// info does not verify against its signature.
	ErrInvalidPermanentInfo = errors.New("recoverykey: invalid permanent info or signature")

	// ErrFailedToCreateRecoveryKey is returned when key derivation fails.
	ErrFailedToCreateRecoveryKey = errors.New("recoverykey: failed to create recovery keys")

	// ErrRecoveryKeysNotEnrolled is returned when no peer has enrolled a
	// recovery key.
	ErrRecoveryKeysNotEnrolled = errors.New("recoverykey: recovery keys not enrolled")

	// ErrUntrustedRecoveryKeys is returned when the derived key pair is not
	// the one any peer enrolled.
	ErrUntrustedRecoveryKeys = errors.New("recoverykey: untrusted recovery keys")

	// ErrSponsorNotRegistered is returned when the peer that enrolled the
	// recovery key is not in the model.
	ErrSponsorNotRegistered = errors.New("recoverykey: sponsor peer not registered")

	// ErrPolicyNotFound is returned when no policy document covers the
	// sponsor's peers or the local model.
	ErrPolicyNotFound = errors.New("recoverykey: policy not found")
)
