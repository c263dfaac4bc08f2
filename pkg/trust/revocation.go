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
	"context"
	"crypto/x509"
	"time"
)

// RevocationStatus is the answer of a revocation source.
type RevocationStatus int

const (
	RevocationUnknown RevocationStatus = iota
	RevocationGood
	RevocationRevoked
)

func (s RevocationStatus) String() string {
	switch s {
	case RevocationGood:
		return "good"
	case RevocationRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationResult is the revocation state of one chain member.
type RevocationResult struct {
	Index     int
	Status    RevocationStatus
	Source    string
	RevokedAt time.Time
	Err       error
}

// RevocationChecker answers revocation queries. Implementations return
// ErrNoRevocationInfo when they have nothing to say about cert.
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (RevocationResult, error)
}

// CRLSource is a store of parsed certificate revocation lists.
type CRLSource interface {
	HasCRL(issuer *x509.Certificate) bool
	IsRevoked(cert *x509.Certificate) (bool, time.Time, error)
}

// CRLChecker answers revocation queries from a CRLSource.
type CRLChecker struct {
	Source CRLSource
}

func (c CRLChecker) CheckRevocation(_ context.Context, cert, issuer *x509.Certificate) (RevocationResult, error) {
	if c.Source == nil || !c.Source.HasCRL(issuer) {
		return RevocationResult{}, ErrNoRevocationInfo
	}
	revoked, at, err := c.Source.IsRevoked(cert)
	if err != nil {
		return RevocationResult{}, err
	}
	if revoked {
		return RevocationResult{Status: RevocationRevoked, Source: "crl", RevokedAt: at}, nil
	}
	return RevocationResult{Status: RevocationGood, Source: "crl"}, nil
}

// Checkers consults each checker in order and returns the first answer.
type Checkers []RevocationChecker

func (cs Checkers) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) (RevocationResult, error) {
	var lastErr error = ErrNoRevocationInfo
	for _, c := range cs {
		res, err := c.CheckRevocation(ctx, cert, issuer)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return RevocationResult{}, lastErr
}
