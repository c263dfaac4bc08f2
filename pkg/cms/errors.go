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

package cms

import "errors"

var (
	ErrNoContent = errors.New("cms: message has no content")

	// ErrSignerNotFound is returned when no certificate matches a signer
	// identifier.
	ErrSignerNotFound = errors.New("cms: signer certificate not found")

	ErrMessageExpired = errors.New("cms: message expired")

	// ErrUntrustedSigner is returned when the signer certificate does not
	// evaluate as trusted.
	ErrUntrustedSigner = errors.New("cms: untrusted signer")

	ErrNoRecipients = errors.New("cms: no recipients")

	// ErrUnsupportedRecipient is returned for recipient keys that cannot be
	// used for key transport.
	ErrUnsupportedRecipient = errors.New("cms: unsupported recipient key")

	ErrMalformed = errors.New("cms: malformed message")
)

// ErrNotSigned is returned by Verify for messages without signers.
var ErrNotSigned = errors.New("cms: message has no signers")
