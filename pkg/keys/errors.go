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

package keys

import "errors"

var (
	// ErrUnsupportedKeyType is returned for key types other than RSA and EC.
	ErrUnsupportedKeyType = errors.New("keys: unsupported key type")

	ErrUnsupportedAlgorithm = errors.New("keys: unsupported algorithm")

	// ErrAlgorithmMismatch is returned when an algorithm does not fit the key.
	ErrAlgorithmMismatch = errors.New("keys: algorithm does not match key")

	ErrVerification = errors.New("keys: signature verification failed")

	ErrDecryption = errors.New("keys: decryption failed")

	// ErrCurveMismatch is returned when two EC keys live on different curves.
	ErrCurveMismatch = errors.New("keys: curve mismatch")

	ErrItemNotFound = errors.New("keys: item not found")

	// ErrDuplicateItem is returned when adding a label that already exists.
	ErrDuplicateItem = errors.New("keys: duplicate item")

	// ErrAuthFailed is returned when a passphrase does not open an item.
	ErrAuthFailed = errors.New("keys: authentication failed")

	ErrPassphraseRequired = errors.New("keys: passphrase required")

	ErrInvalidLabel = errors.New("keys: invalid label")

	// ErrRemote is returned when the key proxy answers with an error.
	ErrRemote = errors.New("keys: remote signer error")
)
