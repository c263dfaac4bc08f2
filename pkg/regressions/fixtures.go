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

package regressions

import (
	"crypto/x509"
	"os"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/pki"
	"github.com/Excloudx6/macos-security-libs/pkg/trust"
)

// hierarchy is a root, one intermediate and a leaf.
type hierarchy struct {
	root  *pki.Identity
	inter *pki.Identity
	leaf  *pki.Identity
}

func newRoot(t *harness.T, cn string, opts ...pki.Option) *pki.Identity {
	root, err := pki.NewRoot(append([]pki.Option{pki.Subject(cn)}, opts...)...)
	t.Must(err, "create root %q", cn)
	return root
}

func issue(t *harness.T, issuer *pki.Identity, opts ...pki.Option) *pki.Identity {
	id, err := issuer.Issue(opts...)
	t.Must(err, "issue certificate under %q", issuer.Certificate.Subject.CommonName)
	return id
}

func issueCA(t *harness.T, issuer *pki.Identity, opts ...pki.Option) *pki.Identity {
	id, err := issuer.IssueCA(opts...)
	t.Must(err, "issue CA under %q", issuer.Certificate.Subject.CommonName)
	return id
}

// newHierarchy builds root, intermediate and leaf. interOpts apply to the
// intermediate and leafOpts to the leaf.
func newHierarchy(t *harness.T, prefix string, interOpts []pki.Option, leafOpts ...pki.Option) hierarchy {
	root := newRoot(t, prefix+" Root CA")
	inter := issueCA(t, root, append([]pki.Option{pki.Subject(prefix + " Intermediate CA")}, interOpts...)...)
	leaf := issue(t, inter, leafOpts...)
	return hierarchy{root: root, inter: inter, leaf: leaf}
}

// serverLeaf returns options for a TLS server certificate for host.
func serverLeaf(host string) []pki.Option {
	return []pki.Option{
		pki.Subject(host),
		pki.DNSNames(host),
		pki.ExtKeyUsage(x509.ExtKeyUsageServerAuth),
	}
}

// anchored returns an evaluator trusting only root.
func anchored(root *pki.Identity, opts ...trust.Option) *trust.Evaluator {
	return trust.NewEvaluator(append([]trust.Option{trust.WithAnchors(root.Certificate)}, opts...)...)
}

// evaluate runs e over id and the intermediates of its hierarchy.
func evaluate(t *harness.T, e *trust.Evaluator, id *pki.Identity) *trust.Evaluation {
	ev, err := e.Evaluate(t.Context(), id.Certificate, id.Intermediates()...)
	t.Must(err, "evaluate %q", id.Certificate.Subject.CommonName)
	return ev
}

// expectResult asserts the result and, when reasons are given, that each is
// among the failures.
func expectResult(t *harness.T, ev *trust.Evaluation, want trust.Result, what string, reasons ...trust.Reason) {
	if !t.Is(ev.Result, want, "%s: result is %s", what, want) {
		for _, f := range ev.Failures {
			t.Diag("%s", f)
		}
	}
	for _, r := range reasons {
		t.Ok(ev.Has(r), "%s: reports %s", what, r)
	}
}

// tempDir creates a scratch directory removed when the procedure returns
// through the returned cleanup.
func tempDir(t *harness.T, pattern string) (string, func()) {
	dir, err := os.MkdirTemp("", pattern)
	t.Must(err, "create scratch directory")
	return dir, func() { _ = os.RemoveAll(dir) }
}
