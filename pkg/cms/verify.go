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
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// VerifyOptions controls Verify.
type VerifyOptions struct {
	// Content is the detached content, if any.
	Content []byte

	// Certificates are consulted for signer lookup and path building in
	// addition to the certificates embedded in the message.
	Certificates []*x509.Certificate

	// Evaluator, when set, evaluates the signer certificate. Policies
	// replace the evaluator's policy set for this call.
	Evaluator *trust.Evaluator
	Policies  []trust.Policy

	// At is the verification time. Zero means now.
	At time.Time

	// UseSigningTime evaluates the signer as of the signing-time attribute
	// when the message carries one.
	UseSigningTime bool
}

// SignerInfo describes a verified signer.
type SignerInfo struct {
	Certificate    *x509.Certificate
	Certificates   []*x509.Certificate
	Content        []byte
	SigningTime    time.Time
	ExpirationTime time.Time
	Digest         crypto.Hash
	Evaluation     *trust.Evaluation
}

// Verify checks the signature of a SignedData message. The returned
// SignerInfo is non-nil whenever the signature itself verified, including
// when the message expired or the signer is untrusted.
func Verify(ctx context.Context, message []byte, opts VerifyOptions) (*SignerInfo, error) {
	der := message
	if out, rewrote, err := resolveSubjectKeyIDs(message, opts.Certificates); err == nil {
		if rewrote {
			der = out
		}
	} else if errors.Is(err, ErrSignerNotFound) {
		return nil, err
	}

	p7, err := parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(p7.Signers) == 0 {
		return nil, ErrNotSigned
	}
	if opts.Content != nil {
		p7.Content = opts.Content
	}
	if len(p7.Content) == 0 {
		return nil, ErrNoContent
	}
	p7.Certificates = append(p7.Certificates, opts.Certificates...)

	signer := findByIssuerAndSerial(p7.Certificates, p7.Signers[0].IssuerAndSerialNumber.IssuerName.FullBytes,
		p7.Signers[0].IssuerAndSerialNumber.SerialNumber.Bytes())
	if signer == nil {
		return nil, ErrSignerNotFound
	}
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("cms: signature verification failed: %w", err)
	}

	info := &SignerInfo{
		Certificate:  signer,
		Certificates: p7.Certificates,
		Content:      p7.Content,
		Digest:       digestHash(p7.Signers[0].DigestAlgorithm.Algorithm),
	}
	var signingTime, expiration time.Time
	if err := p7.UnmarshalSignedAttribute(pkcs7.OIDAttributeSigningTime, &signingTime); err == nil {
		info.SigningTime = signingTime
	}
	if err := p7.UnmarshalSignedAttribute(OIDAttributeExpirationTime, &expiration); err == nil {
		info.ExpirationTime = expiration
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	if !info.ExpirationTime.IsZero() && at.After(info.ExpirationTime) {
		return info, fmt.Errorf("%w: expired at %s", ErrMessageExpired, info.ExpirationTime.Format(time.RFC3339))
	}

	if opts.Evaluator == nil {
		return info, nil
	}
	evaluator := opts.Evaluator
	if len(opts.Policies) > 0 {
		evaluator = evaluator.With(trust.WithPolicies(opts.Policies...))
	}
	evalAt := at
	if opts.UseSigningTime && !info.SigningTime.IsZero() {
		evalAt = info.SigningTime
	}
	others := make([]*x509.Certificate, 0, len(p7.Certificates))
	for _, c := range p7.Certificates {
		if !c.Equal(signer) {
			others = append(others, c)
		}
	}
	ev, err := evaluator.EvaluateAt(ctx, evalAt, signer, others...)
	if err != nil {
		return info, err
	}
	info.Evaluation = ev
	if !ev.Trusted() {
		return info, fmt.Errorf("%w: %s", ErrUntrustedSigner, ev.Result)
	}
	return info, nil
}

func findByIssuerAndSerial(certs []*x509.Certificate, issuer, serial []byte) *x509.Certificate {
	for _, c := range certs {
		if bytes.Equal(c.RawIssuer, issuer) && bytes.Equal(c.SerialNumber.Bytes(), serial) {
			return c
		}
	}
	return nil
}

func findBySubjectKeyID(certs []*x509.Certificate, skid []byte) *x509.Certificate {
	for _, c := range certs {
		if len(c.SubjectKeyId) > 0 && bytes.Equal(c.SubjectKeyId, skid) {
			return c
		}
	}
	return nil
}
