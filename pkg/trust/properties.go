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

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"
)

// Property is one labelled value in an evaluation summary.
type Property struct {
	Label string
	Value string
}

// CertificateProperties summarises one chain member.
type CertificateProperties struct {
	Subject            string
	Issuer             string
	Serial             string
	NotBefore          time.Time
	NotAfter           time.Time
	SPKISHA256         string
	SignatureAlgorithm string
	SignatureHash      string
	IsCA               bool
	// Error is the first failure reported against this certificate.
	Error string
}

// Labelled returns the properties as an ordered list.
func (p CertificateProperties) Labelled() []Property {
	props := []Property{
		{"Subject", p.Subject},
		{"Issuer", p.Issuer},
		{"Serial Number", p.Serial},
		{"Not Valid Before", p.NotBefore.UTC().Format(time.RFC3339)},
		{"Not Valid After", p.NotAfter.UTC().Format(time.RFC3339)},
		{"Public Key SHA-256", p.SPKISHA256},
		{"Signature Algorithm", p.SignatureAlgorithm},
		{"Signature Hash", p.SignatureHash},
		{"Certificate Authority", fmt.Sprintf("%t", p.IsCA)},
	}
	if p.Error != "" {
		props = append(props, Property{"Error", p.Error})
	}
	return props
}

// Properties returns one summary per chain member, leaf first.
func (ev *Evaluation) Properties() []CertificateProperties {
	out := make([]CertificateProperties, len(ev.Chain))
	for i, c := range ev.Chain {
		spki := SPKIHash(c)
		hash := "none"
		if h := SignatureHash(c); h != 0 {
			hash = h.String()
		}
		out[i] = CertificateProperties{
			Subject:            c.Subject.String(),
			Issuer:             c.Issuer.String(),
			Serial:             hex.EncodeToString(c.SerialNumber.Bytes()),
			NotBefore:          c.NotBefore,
			NotAfter:           c.NotAfter,
			SPKISHA256:         hex.EncodeToString(spki[:]),
			SignatureAlgorithm: c.SignatureAlgorithm.String(),
			SignatureHash:      hash,
			IsCA:               c.IsCA,
		}
	}
	for _, f := range ev.Failures {
		if f.Index >= 0 && f.Index < len(out) && out[f.Index].Error == "" {
			out[f.Index].Error = f.Reason.String()
		}
	}
	return out
}

// SignatureHash returns the digest used by the certificate's signature, or
// zero when the algorithm has no separate digest (Ed25519) or is unknown.
func SignatureHash(c *x509.Certificate) crypto.Hash {
	switch c.SignatureAlgorithm {
	case x509.MD5WithRSA:
		return crypto.MD5
	case x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
		return crypto.SHA1
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.DSAWithSHA256, x509.ECDSAWithSHA256:
		return crypto.SHA256
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return crypto.SHA384
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}
