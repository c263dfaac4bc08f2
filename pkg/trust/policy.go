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
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"strings"
	"time"
)

const (
	minRSABits = 2048
	minECBits  = 256

	// maxTLSValidity applies to server certificates issued on or after
	// tlsValidityCutover.
	maxTLSValidity = 398 * 24 * time.Hour
)

var tlsValidityCutover = time.Date(2020, time.September, 1, 0, 0, 0, 0, time.UTC)

// PolicyContext carries evaluation-wide inputs to a Policy.
type PolicyContext struct {
	VerifyTime time.Time
}

// Policy is a set of checks applied to a built chain. chain[0] is the leaf
// and the last element is the anchor.
type Policy interface {
	Name() string
	Check(chain []*x509.Certificate, pctx *PolicyContext) []Failure
}

type basicPolicy struct{}

// BasicX509 only requires a valid chain. It also flags MD5 and SHA-1
// signatures below the anchor.
func BasicX509() Policy {
	return basicPolicy{}
}

func (basicPolicy) Name() string { return "basic_x509" }

func (p basicPolicy) Check(chain []*x509.Certificate, _ *PolicyContext) []Failure {
	return weakHashes(p.Name(), chain)
}

func weakHashes(policy string, chain []*x509.Certificate) []Failure {
	var out []Failure
	for i, c := range chain {
		if i == len(chain)-1 && len(chain) > 1 {
			break
		}
		switch c.SignatureAlgorithm {
		case x509.MD2WithRSA, x509.MD5WithRSA, x509.SHA1WithRSA, x509.DSAWithSHA1, x509.ECDSAWithSHA1:
			out = append(out, failure(policy, ReasonWeakHash, i, c, "signed with %s", c.SignatureAlgorithm))
		}
	}
	return out
}

// SSLPolicy checks TLS server or client certificates.
type SSLPolicy struct {
	host            string
	server          bool
	pinningRequired bool
}

// SSL returns a TLS policy. host may be empty to skip the name check.
func SSL(host string, server bool) *SSLPolicy {
	return &SSLPolicy{host: strings.ToLower(host), server: server}
}

// RequirePinning makes the evaluation fail when no pin rule matches Host.
func (p *SSLPolicy) RequirePinning() *SSLPolicy {
	cp := *p
	cp.pinningRequired = true
	return &cp
}

func (p *SSLPolicy) Name() string {
	if p.server {
		return "ssl_server"
	}
	return "ssl_client"
}

func (p *SSLPolicy) Host() string { return p.host }

func (p *SSLPolicy) PinningRequired() bool { return p.pinningRequired }

func (p *SSLPolicy) Check(chain []*x509.Certificate, _ *PolicyContext) []Failure {
	leaf := chain[0]
	name := p.Name()
	var out []Failure

	want := x509.ExtKeyUsageClientAuth
	if p.server {
		want = x509.ExtKeyUsageServerAuth
	}
	if !hasEKU(leaf, want) {
		out = append(out, failure(name, ReasonExtendedKeyUsage, 0, leaf, "missing %s usage", name))
	}

	if p.server && p.host != "" {
		if err := leaf.VerifyHostname(p.host); err != nil {
			out = append(out, failure(name, ReasonHostname, 0, leaf, "%v", err))
		}
	}

	for i, c := range chain {
		if i == len(chain)-1 && len(chain) > 1 {
			break
		}
		if bits, weak := weakKey(c); weak {
			out = append(out, failure(name, ReasonWeakKey, i, c, "%d-bit key", bits))
		}
	}

	if p.server && !leaf.NotBefore.Before(tlsValidityCutover) {
		if lifetime := leaf.NotAfter.Sub(leaf.NotBefore); lifetime > maxTLSValidity {
			out = append(out, failure(name, ReasonValidityTooLong, 0, leaf,
				"validity of %d days exceeds 398", int(lifetime.Hours()/24)))
		}
	}

	return append(out, weakHashes(name, chain)...)
}

type smimePolicy struct {
	email string
}

// SMIME checks e-mail protection certificates. email may be empty.
func SMIME(email string) Policy {
	return smimePolicy{email: strings.ToLower(email)}
}

func (smimePolicy) Name() string { return "smime" }

func (p smimePolicy) Check(chain []*x509.Certificate, _ *PolicyContext) []Failure {
	leaf := chain[0]
	var out []Failure
	if !hasEKU(leaf, x509.ExtKeyUsageEmailProtection) {
		out = append(out, failure(p.Name(), ReasonExtendedKeyUsage, 0, leaf, "missing email protection usage"))
	}
	if p.email != "" {
		found := false
		for _, addr := range leaf.EmailAddresses {
			if strings.EqualFold(addr, p.email) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, failure(p.Name(), ReasonEmail, 0, leaf, "%s not in certificate", p.email))
		}
	}
	return out
}

type codeSigningPolicy struct{}

// CodeSigning requires the code signing extended key usage on the leaf.
func CodeSigning() Policy {
	return codeSigningPolicy{}
}

func (codeSigningPolicy) Name() string { return "code_signing" }

func (p codeSigningPolicy) Check(chain []*x509.Certificate, _ *PolicyContext) []Failure {
	if !hasEKU(chain[0], x509.ExtKeyUsageCodeSigning) {
		return []Failure{failure(p.Name(), ReasonExtendedKeyUsage, 0, chain[0], "missing code signing usage")}
	}
	return nil
}

// hasEKU treats a certificate without the extension as unrestricted.
func hasEKU(c *x509.Certificate, want x509.ExtKeyUsage) bool {
	if len(c.ExtKeyUsage) == 0 && len(c.UnknownExtKeyUsage) == 0 {
		return true
	}
	for _, eku := range c.ExtKeyUsage {
		if eku == want || eku == x509.ExtKeyUsageAny {
			return true
		}
	}
	return false
}

func weakKey(c *x509.Certificate) (int, bool) {
	switch pub := c.PublicKey.(type) {
	case *rsa.PublicKey:
		bits := pub.N.BitLen()
		return bits, bits < minRSABits
	case *ecdsa.PublicKey:
		bits := pub.Curve.Params().BitSize
		return bits, bits < minECBits
	}
	return 0, false
}
