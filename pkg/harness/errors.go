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

package harness

import "errors"

var (
	// ErrNilTable is returned by NewRunner when no table is supplied.
	ErrNilTable = errors.New("harness: nil test table")

	// ErrUnknownTest is returned when a registered name has no function.
	ErrUnknownTest = errors.New("harness: no function for registered test")

	// ErrInvalidFilter is returned for malformed glob patterns.
	ErrInvalidFilter = errors.New("harness: invalid filter pattern")
)
