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

package ocsp

import "errors"

var (
	// ErrStaleResponse is returned when a response is past its next update.
	ErrStaleResponse = errors.New("ocsp: stale response")

	// ErrResponderStatus is returned for non-200 HTTP answers.
	ErrResponderStatus = errors.New("ocsp: responder returned an error status")

	// ErrResponseTooLarge is returned when a response exceeds maxResponseSize.
	ErrResponseTooLarge = errors.New("ocsp: response too large")
)
