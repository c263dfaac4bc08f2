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
	"fmt"
)

// Result is the overall outcome of an evaluation.
type Result int

const (
	Invalid Result = iota
	// Proceed means the chain ends in a certificate the user explicitly trusts.
	Proceed
	Deny
	// Unspecified means the chain is valid and anchored, with no explicit
	// user decision.
	Unspecified
	RecoverableTrustFailure
	FatalTrustFailure
	OtherError
)

func (r Result) String() string {
	switch r {
	case Proceed:
		return "proceed"
	case Deny:
		return "deny"
	case Unspecified:
		return "unspecified"
	case RecoverableTrustFailure:
		return "recoverable_trust_failure"
	case FatalTrustFailure:
		return "fatal_trust_failure"
	case OtherError:
		return "other_error"
	default:
		return "invalid"
	}
}

// Trusted reports whether r allows the certificate to be used.
func (r Result) Trusted() bool {
	return r == Proceed || r == Unspecified
}

// Reason identifies why a check failed.
type Reason int

const (
	ReasonExpired Reason = iota + 1
	ReasonUntrustedAnchor
	ReasonInvalidChain
	ReasonBlocklisted
	ReasonNotAllowlisted
	ReasonRevoked
	ReasonRevocationUnavailable
	ReasonPinMismatch
	ReasonPinRequired
	ReasonHostname
	ReasonExtendedKeyUsage
	ReasonMissingMarker
	ReasonWeakKey
	ReasonWeakHash
	ReasonValidityTooLong
	ReasonEmail
	ReasonSubjectName
	ReasonDenied
)

var reasonNames = map[Reason]string{
	ReasonExpired:               "expired",
	ReasonUntrustedAnchor:       "untrusted_anchor",
	ReasonInvalidChain:          "invalid_chain",
	ReasonBlocklisted:           "blocklisted",
	ReasonNotAllowlisted:        "not_allowlisted",
	ReasonRevoked:               "revoked",
	ReasonRevocationUnavailable: "revocation_unavailable",
	ReasonPinMismatch:           "pin_mismatch",
	ReasonPinRequired:           "pin_required",
	ReasonHostname:              "hostname",
	ReasonExtendedKeyUsage:      "extended_key_usage",
	ReasonMissingMarker:         "missing_marker",
	ReasonWeakKey:               "weak_key",
	ReasonWeakHash:              "weak_hash",
	ReasonValidityTooLong:       "validity_too_long",
	ReasonEmail:                 "email",
	ReasonSubjectName:           "subject_name",
	ReasonDenied:                "denied",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// result maps a failure reason to the result it forces.
func (r Reason) result() Result {
	switch r {
	case ReasonBlocklisted, ReasonRevoked:
		return FatalTrustFailure
	case ReasonDenied:
		return Deny
	default:
		return RecoverableTrustFailure
	}
}

// severity orders results so the worst failure wins.
func severity(r Result) int {
	switch r {
	case RecoverableTrustFailure:
		return 1
	case Deny:
		return 2
	case FatalTrustFailure:
		return 3
	default:
		return 0
	}
}

// Failure is one failed check.
type Failure struct {
	// Policy is the name of the policy that failed, or "chain" for checks
	// that do not belong to a policy.
	Policy string
	Reason Reason
	// Index is the position of Cert in the evaluated chain, or -1.
	Index  int
	Cert   *x509.Certificate
	Detail string
}

func (f Failure) String() string {
	subject := ""
	if f.Cert != nil {
		subject = f.Cert.Subject.CommonName
	}
	return fmt.Sprintf("%s: %s [%d %q]: %s", f.Policy, f.Reason, f.Index, subject, f.Detail)
}

func failure(policy string, reason Reason, index int, cert *x509.Certificate, format string, args ...any) Failure {
	return Failure{Policy: policy, Reason: reason, Index: index, Cert: cert, Detail: fmt.Sprintf(format, args...)}
}
