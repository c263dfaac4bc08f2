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

import "errors"

var (
	// ErrNoLeaf is returned when Evaluate is called without a certificate.
	ErrNoLeaf = errors.New("trust: no leaf certificate")

	// ErrNoRevocationInfo is returned by a RevocationChecker that has nothing
	// to say about a certificate.
	ErrNoRevocationInfo = errors.New("trust: no revocation information")

	// ErrInvalidSetting is returned for trust settings that cannot apply to
	// the given certificate.
	ErrInvalidSetting = errors.New("trust: invalid trust setting")

	// ErrInvalidPin is returned for malformed pin rules.
	ErrInvalidPin = errors.New("trust: invalid pin")
)
