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

import (
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// CertsOnly encodes a degenerate SignedData message carrying certs and no
// signers.
func CertsOnly(certs ...*x509.Certificate) ([]byte, error) {
	if len(certs) == 0 {
		return nil, fmt.Errorf("cms: no certificates")
	}
	var raw []byte
	for _, c := range certs {
		raw = append(raw, c.Raw...)
	}
	pkcs7Mu.Lock()
	der, err := pkcs7.DegenerateCertificate(raw)
	pkcs7Mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("cms: failed to encode certificates: %w", err)
	}
	return der, nil
}

// ParseCertsOnly returns the certificates of a SignedData message. BER input
// is accepted.
func ParseCertsOnly(message []byte) ([]*x509.Certificate, error) {
	p7, err := parse(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p7.Certificates, nil
}
