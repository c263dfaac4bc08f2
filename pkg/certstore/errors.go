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

package certstore

import "errors"

// Certificate operation errors
var (
	// ErrCertNotFound is returned when a certificate is not found.
	ErrCertNotFound = errors.New("certstore: certificate not found")

	// ErrCertInvalid is returned for nil or unparsable certificates.
	ErrCertInvalid = errors.New("certstore: invalid certificate")

	// ErrKeyMismatch is returned when an identity's key does not match its
	// certificate.
	ErrKeyMismatch = errors.New("certstore: private key does not match certificate")
)

// CRL operation errors
var (
	// ErrCRLInvalid is returned when a CRL cannot be parsed.
	ErrCRLInvalid = errors.New("certstore: invalid CRL")

	// ErrCRLIssuerUnknown is returned when no stored certificate signed the CRL.
	ErrCRLIssuerUnknown = errors.New("certstore: CRL issuer not in store")

	// ErrCRLExpired is returned when the applicable CRL is past its next update.
	ErrCRLExpired = errors.New("certstore: CRL expired")
)

// ErrStorageClosed is returned when the store has been closed.
var ErrStorageClosed = errors.New("certstore: storage is closed")
