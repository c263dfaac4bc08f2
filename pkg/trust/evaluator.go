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

// Package trust evaluates X.509 certificate chains against policies. On top
// of path building and signature checks (crypto/x509) it applies vendor
// policies, blocklists and allowlists, key pinning, persisted user trust
// settings and revocation, and folds the outcome into a single Result.
package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/logging"
	"github.com/Excloudx6/macos-security-libs/pkg/metrics"
)

const chainPolicy = "chain"

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithAnchors sets the trusted roots.
func WithAnchors(certs ...*x509.Certificate) Option {
	return func(e *Evaluator) { e.anchors = append(e.anchors, certs...) }
}

// WithAnchorsOnly controls whether the system roots are consulted in
// addition to explicit anchors. The default is true.
func WithAnchorsOnly(only bool) Option {
	return func(e *Evaluator) { e.anchorsOnly = only }
}

// WithIntermediates supplies extra certificates for path building.
func WithIntermediates(certs ...*x509.Certificate) Option {
	return func(e *Evaluator) { e.intermediates = append(e.intermediates, certs...) }
}

// WithPolicies replaces the policy set. Without policies BasicX509 is used.
func WithPolicies(policies ...Policy) Option {
	return func(e *Evaluator) { e.policies = policies }
}

// WithVerifyDate fixes the evaluation time.
func WithVerifyDate(t time.Time) Option {
	return func(e *Evaluator) { e.verifyDate = t }
}

func WithBlocklist(b *Blocklist) Option {
	return func(e *Evaluator) { e.blocklist = b }
}

func WithAllowlist(a *Allowlist) Option {
	return func(e *Evaluator) { e.allowlist = a }
}

func WithPins(p *PinStore) Option {
	return func(e *Evaluator) { e.pins = p }
}

func WithSettings(s *Settings) Option {
	return func(e *Evaluator) { e.settings = s }
}

// WithRevocation enables revocation checking. When require is set, a chain
// member without a definite answer fails the evaluation.
func WithRevocation(checker RevocationChecker, require bool) Option {
	return func(e *Evaluator) {
		e.revocation = checker
		e.requireRevocation = require
	}
}

func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// Evaluator evaluates certificate chains. It is immutable and safe for
// concurrent use.
type Evaluator struct {
	anchors           []*x509.Certificate
	anchorsOnly       bool
	intermediates     []*x509.Certificate
	policies          []Policy
	verifyDate        time.Time
	blocklist         *Blocklist
	allowlist         *Allowlist
	pins              *PinStore
	settings          *Settings
	revocation        RevocationChecker
	requireRevocation bool
	logger            logging.Logger
}

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{anchorsOnly: true, logger: logging.Nop{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of e with opts applied.
func (e *Evaluator) With(opts ...Option) *Evaluator {
	cp := *e
	cp.anchors = append([]*x509.Certificate(nil), e.anchors...)
	cp.intermediates = append([]*x509.Certificate(nil), e.intermediates...)
	cp.policies = append([]Policy(nil), e.policies...)
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Evaluation is the outcome of evaluating one leaf.
type Evaluation struct {
	Result     Result
	Chain      []*x509.Certificate
	Failures   []Failure
	Revocation []RevocationResult
	VerifyTime time.Time
	// Anchored is true when path building reached a trusted anchor.
	Anchored bool
}

// Trusted reports whether the result allows use of the leaf.
func (ev *Evaluation) Trusted() bool {
	return ev.Result.Trusted()
}

// Has reports whether any failure carries reason.
func (ev *Evaluation) Has(reason Reason) bool {
	for _, f := range ev.Failures {
		if f.Reason == reason {
			return true
		}
	}
	return false
}

// Evaluate evaluates leaf at the configured verify date, or now.
func (e *Evaluator) Evaluate(ctx context.Context, leaf *x509.Certificate, intermediates ...*x509.Certificate) (*Evaluation, error) {
	at := e.verifyDate
	if at.IsZero() {
		at = time.Now()
	}
	return e.EvaluateAt(ctx, at, leaf, intermediates...)
}

// EvaluateAt evaluates leaf as of at. The error is non-nil only when the
// evaluation itself could not be carried out; trust failures are reported in
// the Evaluation.
func (e *Evaluator) EvaluateAt(ctx context.Context, at time.Time, leaf *x509.Certificate, intermediates ...*x509.Certificate) (*Evaluation, error) {
	if leaf == nil {
		return nil, ErrNoLeaf
	}
	ev := &Evaluation{VerifyTime: at}

	policies := e.policies
	if len(policies) == 0 {
		policies = []Policy{BasicX509()}
	}
	names := make([]string, len(policies))
	for i, p := range policies {
		names[i] = p.Name()
	}

	anchors := append([]*x509.Certificate(nil), e.anchors...)
	userAnchors := map[[32]byte]bool{}
	if e.settings != nil {
		extra, err := e.settings.Anchors(names)
		if err != nil {
			ev.Result = OtherError
			return ev, err
		}
		for _, c := range extra {
			userAnchors[Fingerprint(c)] = true
		}
		anchors = append(anchors, extra...)
	}

	pool := x509.NewCertPool()
	if !e.anchorsOnly || len(anchors) == 0 {
		if sys, err := x509.SystemCertPool(); err == nil {
			pool = sys
		}
	}
	for _, c := range anchors {
		pool.AddCert(c)
	}
	inter := x509.NewCertPool()
	candidates := append(append([]*x509.Certificate(nil), intermediates...), e.intermediates...)
	for _, c := range candidates {
		inter.AddCert(c)
	}

	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: inter,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil {
		ev.Chain = shortest(chains)
		ev.Anchored = true
	} else {
		ev.Chain = buildChain(leaf, append(candidates, anchors...))
		ev.Failures = append(ev.Failures, verifyFailure(err, ev.Chain))
	}

	ev.Failures = append(ev.Failures, e.checkSettings(ev.Chain, names)...)
	ev.Failures = append(ev.Failures, e.checkLists(ev.Chain)...)
	ev.Failures = append(ev.Failures, e.checkPins(ev.Chain, policies)...)

	pctx := &PolicyContext{VerifyTime: at}
	for _, p := range policies {
		ev.Failures = append(ev.Failures, p.Check(ev.Chain, pctx)...)
	}

	if e.revocation != nil {
		if err := e.checkRevocation(ctx, ev); err != nil {
			ev.Result = OtherError
			return ev, err
		}
	}

	ev.Result = Unspecified
	if ev.Anchored && userAnchors[Fingerprint(ev.Chain[len(ev.Chain)-1])] {
		ev.Result = Proceed
	}
	worst := 0
	for _, f := range ev.Failures {
		r := f.Reason.result()
		if s := severity(r); s > worst {
			worst = s
			ev.Result = r
		}
		e.logger.Debug("trust check failed",
			logging.String("policy", f.Policy),
			logging.String("reason", f.Reason.String()),
			logging.String("detail", f.Detail))
	}

	metrics.RecordTrustEvaluation(ev.Result.String())
	return ev, nil
}

func (e *Evaluator) checkSettings(chain []*x509.Certificate, names []string) []Failure {
	if e.settings == nil {
		return nil
	}
	var out []Failure
	for i, c := range chain {
		entry, err := e.settings.Get(c)
		if err != nil {
			continue
		}
		if entry.Setting == SettingDeny && entry.AppliesTo(names) {
			out = append(out, failure(chainPolicy, ReasonDenied, i, c, "denied by trust settings"))
		}
	}
	return out
}

func (e *Evaluator) checkLists(chain []*x509.Certificate) []Failure {
	var out []Failure
	for i, c := range chain {
		if kind, note, blocked := e.blocklist.lookup(c); blocked {
			out = append(out, failure(chainPolicy, ReasonBlocklisted, i, c, "%s blocked: %s", kind, note))
		}
	}
	if i, note, ok := e.allowlist.Check(chain); !ok {
		out = append(out, failure(chainPolicy, ReasonNotAllowlisted, 0, chain[0],
			"leaf not allowlisted for constrained CA %q (%s)", chain[i].Subject.CommonName, note))
	}
	return out
}

func (e *Evaluator) checkPins(chain []*x509.Certificate, policies []Policy) []Failure {
	var out []Failure
	for _, p := range policies {
		ssl, ok := p.(*SSLPolicy)
		if !ok || ssl.Host() == "" {
			continue
		}
		rule, found := e.pins.Lookup(ssl.Host())
		switch {
		case found && !rule.Matches(chain):
			out = append(out, failure(ssl.Name(), ReasonPinMismatch, 0, chain[0], "no pinned key for %s", ssl.Host()))
		case !found && (e.pins.Required() || ssl.PinningRequired()):
			out = append(out, failure(ssl.Name(), ReasonPinRequired, 0, chain[0], "pinning required for %s", ssl.Host()))
		}
	}
	return out
}

func (e *Evaluator) checkRevocation(ctx context.Context, ev *Evaluation) error {
	for i := 0; i < len(ev.Chain)-1; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cert, issuer := ev.Chain[i], ev.Chain[i+1]
		res, err := e.revocation.CheckRevocation(ctx, cert, issuer)
		res.Index = i
		switch {
		case errors.Is(err, ErrNoRevocationInfo):
			continue
		case err != nil:
			res.Err = err
			ev.Revocation = append(ev.Revocation, res)
			if e.requireRevocation {
				ev.Failures = append(ev.Failures, failure(chainPolicy, ReasonRevocationUnavailable, i, cert, "%v", err))
			}
			continue
		}
		ev.Revocation = append(ev.Revocation, res)
		switch res.Status {
		case RevocationRevoked:
			ev.Failures = append(ev.Failures, failure(chainPolicy, ReasonRevoked, i, cert,
				"revoked at %s (%s)", res.RevokedAt.UTC().Format(time.RFC3339), res.Source))
		case RevocationUnknown:
			if e.requireRevocation {
				ev.Failures = append(ev.Failures, failure(chainPolicy, ReasonRevocationUnavailable, i, cert,
					"%s has no status for certificate", res.Source))
			}
		}
	}
	return nil
}

func shortest(chains [][]*x509.Certificate) []*x509.Certificate {
	best := chains[0]
	for _, c := range chains[1:] {
		if len(c) < len(best) {
			best = c
		}
	}
	return best
}

// buildChain links leaf to issuers by name and signature when verification
// failed, so that policies and the caller still see a plausible chain.
func buildChain(leaf *x509.Certificate, candidates []*x509.Certificate) []*x509.Certificate {
	chain := []*x509.Certificate{leaf}
	cur := leaf
	for len(chain) <= len(candidates) {
		if bytes.Equal(cur.RawIssuer, cur.RawSubject) {
			break
		}
		var next *x509.Certificate
		for _, c := range candidates {
			if bytes.Equal(c.RawSubject, cur.RawIssuer) && cur.CheckSignatureFrom(c) == nil {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

func verifyFailure(err error, chain []*x509.Certificate) Failure {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		idx := 0
		for i, c := range chain {
			if c == invalid.Cert {
				idx = i
			}
		}
		return failure(chainPolicy, ReasonExpired, idx, invalid.Cert, "%v", err)
	}
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		last := chain[len(chain)-1]
		return failure(chainPolicy, ReasonUntrustedAnchor, len(chain)-1, last, "%v", err)
	}
	return failure(chainPolicy, ReasonInvalidChain, 0, chain[0], "%v", err)
}
