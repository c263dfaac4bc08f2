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
	"encoding/asn1"
	"fmt"
	"math/big"
)

// The helpers below edit SignedData messages at the element level so the
// signature bytes and signed attributes are never re-encoded.

const (
	tagCertificates = 0
	tagSKID         = 0
)

// elements splits the contents of a constructed element into its children.
func elements(b []byte) ([]asn1.RawValue, error) {
	var out []asn1.RawValue
	for len(b) > 0 {
		var rv asn1.RawValue
		rest, err := asn1.Unmarshal(b, &rv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out = append(out, rv)
		b = rest
	}
	return out, nil
}

// constructed encodes children into a new constructed element.
func constructed(class, tag int, children []asn1.RawValue) (asn1.RawValue, error) {
	var body []byte
	for _, c := range children {
		body = append(body, c.FullBytes...)
	}
	rv := asn1.RawValue{Class: class, Tag: tag, IsCompound: true, Bytes: body}
	full, err := asn1.Marshal(rv)
	if err != nil {
		return asn1.RawValue{}, err
	}
	rv.FullBytes = full
	return rv, nil
}

func integer(n int) (asn1.RawValue, error) {
	full, err := asn1.Marshal(n)
	if err != nil {
		return asn1.RawValue{}, err
	}
	var rv asn1.RawValue
	_, err = asn1.Unmarshal(full, &rv)
	return rv, err
}

// rewriteSignedData hands the children of the SignedData SEQUENCE inside a
// ContentInfo to edit and re-assembles the message from the result.
func rewriteSignedData(der []byte, edit func([]asn1.RawValue) ([]asn1.RawValue, error)) ([]byte, error) {
	var ci struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue
	}
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	wrapped, err := elements(ci.Content.Bytes)
	if err != nil || len(wrapped) != 1 {
		return nil, fmt.Errorf("%w: content is not a single SignedData", ErrMalformed)
	}
	children, err := elements(wrapped[0].Bytes)
	if err != nil {
		return nil, err
	}
	children, err = edit(children)
	if err != nil {
		return nil, err
	}
	sd, err := constructed(asn1.ClassUniversal, asn1.TagSequence, children)
	if err != nil {
		return nil, err
	}
	ci.Content, err = constructed(asn1.ClassContextSpecific, 0, []asn1.RawValue{sd})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(ci)
}

// stripCertificates drops the certificates field.
func stripCertificates(der []byte) ([]byte, error) {
	return rewriteSignedData(der, func(children []asn1.RawValue) ([]asn1.RawValue, error) {
		out := children[:0]
		for _, c := range children {
			if c.Class == asn1.ClassContextSpecific && c.Tag == tagCertificates {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	})
}

// embeddedCertificates returns the certificates carried in children.
func embeddedCertificates(children []asn1.RawValue) []*x509.Certificate {
	var certs []*x509.Certificate
	for _, c := range children {
		if c.Class != asn1.ClassContextSpecific || c.Tag != tagCertificates {
			continue
		}
		items, err := elements(c.Bytes)
		if err != nil {
			return certs
		}
		for _, item := range items {
			if cert, err := x509.ParseCertificate(item.FullBytes); err == nil {
				certs = append(certs, cert)
			}
		}
	}
	return certs
}

// useSubjectKeyID rewrites every signer identifier to the subjectKeyIdentifier
// choice with skid, bumping the SignerInfo and SignedData versions to 3.
func useSubjectKeyID(der, skid []byte) ([]byte, error) {
	return rewriteSignedData(der, func(children []asn1.RawValue) ([]asn1.RawValue, error) {
		v3, err := integer(3)
		if err != nil {
			return nil, err
		}
		sid := asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tagSKID, Bytes: skid}
		if sid.FullBytes, err = asn1.Marshal(sid); err != nil {
			return nil, err
		}
		children[0] = v3
		return editSignerInfos(children, func(version, _ asn1.RawValue) (asn1.RawValue, asn1.RawValue, error) {
			return v3, sid, nil
		})
	})
}

// resolveSubjectKeyIDs rewrites subjectKeyIdentifier signer identifiers back
// to issuerAndSerialNumber using the certificates in the message and pool.
func resolveSubjectKeyIDs(der []byte, pool []*x509.Certificate) ([]byte, bool, error) {
	rewrote := false
	out, err := rewriteSignedData(der, func(children []asn1.RawValue) ([]asn1.RawValue, error) {
		candidates := append(embeddedCertificates(children), pool...)
		v1, err := integer(1)
		if err != nil {
			return nil, err
		}
		return editSignerInfos(children, func(version, sid asn1.RawValue) (asn1.RawValue, asn1.RawValue, error) {
			if sid.Class != asn1.ClassContextSpecific || sid.Tag != tagSKID {
				return version, sid, nil
			}
			cert := findBySubjectKeyID(candidates, sid.Bytes)
			if cert == nil {
				return version, sid, fmt.Errorf("%w: subject key identifier %x", ErrSignerNotFound, sid.Bytes)
			}
			ias, err := issuerAndSerial(cert)
			if err != nil {
				return version, sid, err
			}
			rewrote = true
			return v1, ias, nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return out, rewrote, nil
}

func editSignerInfos(children []asn1.RawValue, edit func(version, sid asn1.RawValue) (asn1.RawValue, asn1.RawValue, error)) ([]asn1.RawValue, error) {
	last := len(children) - 1
	if last < 0 || children[last].Tag != asn1.TagSet {
		return nil, fmt.Errorf("%w: missing signerInfos", ErrMalformed)
	}
	infos, err := elements(children[last].Bytes)
	if err != nil {
		return nil, err
	}
	for i, info := range infos {
		fields, err := elements(info.Bytes)
		if err != nil {
			return nil, err
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: short signerInfo", ErrMalformed)
		}
		if fields[0], fields[1], err = edit(fields[0], fields[1]); err != nil {
			return nil, err
		}
		if infos[i], err = constructed(asn1.ClassUniversal, asn1.TagSequence, fields); err != nil {
			return nil, err
		}
	}
	set, err := constructed(asn1.ClassUniversal, asn1.TagSet, infos)
	if err != nil {
		return nil, err
	}
	children[last] = set
	return children, nil
}

func issuerAndSerial(cert *x509.Certificate) (asn1.RawValue, error) {
	full, err := asn1.Marshal(struct {
		Issuer asn1.RawValue
		Serial *big.Int
	}{asn1.RawValue{FullBytes: cert.RawIssuer}, cert.SerialNumber})
	if err != nil {
		return asn1.RawValue{}, err
	}
	var rv asn1.RawValue
	_, err = asn1.Unmarshal(full, &rv)
	return rv, err
}
