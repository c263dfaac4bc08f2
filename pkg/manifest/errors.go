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

package manifest

import "errors"

var (
	// ErrEmptyName is returned when a declaration has no name.
	ErrEmptyName = errors.New("manifest: empty test name")

	// ErrDuplicateName is returned when a name is registered twice for the
	// same platform.
	ErrDuplicateName = errors.New("manifest: duplicate test name")
)
