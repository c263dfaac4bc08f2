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
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// Vendor marker extensions. A marker policy accepts a leaf only when it
// carries the expected extension, and optionally requires a second marker on
// an intermediate.
var (
	OIDIntermediateMarker  = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 2, 1}
	OIDSoftwareRestore     = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1, 22}
	OIDInAppPurchase       = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 11, 1}
	OIDStoreURLBag         = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1, 8}
	OIDPassSigning         = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1, 16}
	OIDMobileStore         = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1, 12}
	OIDMobileStoreTest     = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1, 13}
	OIDOTAPKISigner        = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 38, 1}
	OIDMobileStoreSubCA    = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 2, 10}
	OIDStoreURLBagCommonCA = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 2, 9}
)

// MarkerPolicy recognises leaves by marker extensions and subject fields.
type MarkerPolicy struct {
	PolicyName string

	// LeafMarker must be present on the leaf.
	LeafMarker asn1.ObjectIdentifier

	// IntermediateMarker, when set, must be present on some certificate
	// between the leaf and the anchor.
	IntermediateMarker asn1.ObjectIdentifier

	// CommonName, when set, must equal the leaf subject common name.
	CommonName string

	// OrgUnit, when set, must equal the leaf's first organizational unit.
	OrgUnit string

	// ExtKeyUsage, when set, must be allowed by the leaf.
	ExtKeyUsage []x509.ExtKeyUsage
}

func (p *MarkerPolicy) Name() string { return p.PolicyName }

func (p *MarkerPolicy) Check(chain []*x509.Certificate, _ *PolicyContext) []Failure {
	leaf := chain[0]
	var out []Failure

	if p.LeafMarker != nil && !HasExtension(leaf, p.LeafMarker) {
		out = append(out, failure(p.PolicyName, ReasonMissingMarker, 0, leaf, "leaf lacks %s", p.LeafMarker))
	}
	if p.IntermediateMarker != nil {
		found := false
		for i := 1; i < len(chain)-1; i++ {
			if HasExtension(chain[i], p.IntermediateMarker) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, failure(p.PolicyName, ReasonMissingMarker, -1, nil, "no intermediate carries %s", p.IntermediateMarker))
		}
	}
	if p.CommonName != "" && leaf.Subject.CommonName != p.CommonName {
		out = append(out, failure(p.PolicyName, ReasonSubjectName, 0, leaf,
			"common name %q, want %q", leaf.Subject.CommonName, p.CommonName))
	}
	if p.OrgUnit != "" {
		got := ""
		if len(leaf.Subject.OrganizationalUnit) > 0 {
			got = leaf.Subject.OrganizationalUnit[0]
		}
		if got != p.OrgUnit {
			out = append(out, failure(p.PolicyName, ReasonSubjectName, 0, leaf, "organizational unit %q, want %q", got, p.OrgUnit))
		}
	}
	for _, eku := range p.ExtKeyUsage {
		if !hasEKU(leaf, eku) {
			out = append(out, failure(p.PolicyName, ReasonExtendedKeyUsage, 0, leaf, "missing usage %d", eku))
		}
	}
	return out
}

// HasExtension reports whether c carries an extension with the given OID.
func HasExtension(c *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}

// SoftwareRestore accepts software restore signing certificates.
func SoftwareRestore() Policy {
	return &MarkerPolicy{
		PolicyName:  "software_restore",
		LeafMarker:  OIDSoftwareRestore,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
}

// InAppPurchase accepts receipt signing certificates issued under a marked
// intermediate.
func InAppPurchase() Policy {
	return &MarkerPolicy{
		PolicyName:         "in_app_purchase",
		LeafMarker:         OIDInAppPurchase,
		IntermediateMarker: OIDIntermediateMarker,
	}
}

// StoreURLBag accepts the store URL bag signer by name.
func StoreURLBag() Policy {
	return &MarkerPolicy{
		PolicyName:         "store_url_bag",
		LeafMarker:         OIDStoreURLBag,
		IntermediateMarker: OIDStoreURLBagCommonCA,
		CommonName:         "iTunes Store URL Bag",
	}
}

// Passbook accepts pass signing certificates, bound to teamID when it is set.
func Passbook(teamID string) Policy {
	return &MarkerPolicy{
		PolicyName:         "passbook",
		LeafMarker:         OIDPassSigning,
		IntermediateMarker: OIDIntermediateMarker,
		OrgUnit:            teamID,
	}
}

// MobileStore accepts production store signers, or test signers when test
// is set. The two markers are mutually exclusive.
func MobileStore(test bool) Policy {
	name, oid := "mobile_store", OIDMobileStore
	if test {
		name, oid = "mobile_store_test", OIDMobileStoreTest
	}
	return &MarkerPolicy{
		PolicyName:         name,
		LeafMarker:         oid,
		IntermediateMarker: OIDMobileStoreSubCA,
		ExtKeyUsage:        []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
}

// OTAPKISigner accepts over-the-air PKI asset signers.
func OTAPKISigner() Policy {
	return &MarkerPolicy{
		PolicyName: "ota_pki_signer",
		LeafMarker: OIDOTAPKISigner,
		CommonName: "OTA PKI Signer",
	}
}

func (p *MarkerPolicy) String() string {
	return fmt.Sprintf("%s(leaf=%s)", p.PolicyName, p.LeafMarker)
}
