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

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootDefaults(t *testing.T) {
	root, err := NewRoot()
	require.NoError(t, err)

	cert := root.Certificate
	assert.True(t, cert.IsCA)
	assert.Equal(t, "Test Root CA", cert.Subject.CommonName)
	assert.Equal(t, cert.Subject.String(), cert.Issuer.String())
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCertSign)
	require.NoError(t, cert.CheckSignatureFrom(cert))

	_, ok := root.PrivateKey.(*ecdsa.PrivateKey)
	assert.True(t, ok)
	assert.Same(t, root, root.Root())
}

func TestChainVerifies(t *testing.T) {
	root, err := NewRoot()
	require.NoError(t, err)
	inter, err := root.IssueCA(Subject("Inter"))
	require.NoError(t, err)
	leaf, err := inter.Issue(Subject("leaf.example.com"), DNSNames("leaf.example.com"),
		ExtKeyUsage(x509.ExtKeyUsageServerAuth))
	require.NoError(t, err)

	assert.Len(t, leaf.Chain(), 3)
	assert.Equal(t, []*x509.Certificate{inter.Certificate}, leaf.Intermediates())
	assert.Same(t, root, leaf.Root())

	pool := x509.NewCertPool()
	pool.AddCert(inter.Certificate)
	_, err = leaf.Certificate.Verify(x509.VerifyOptions{
		Roots:         leaf.RootPool(),
		Intermediates: pool,
		DNSName:       "leaf.example.com",
	})
	require.NoError(t, err)
}

func TestOptions(t *testing.T) {
	root, err := NewRoot(RSAKey(2048))
	require.NoError(t, err)
	_, ok := root.PrivateKey.(*rsa.PrivateKey)
	require.True(t, ok)

	marker := asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 99}
	nb := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	leaf, err := root.Issue(
		Subject("signer"),
		OrgUnit("TEAM123"),
		ECKey(elliptic.P384()),
		Validity(nb, nb.Add(24*time.Hour)),
		Emails("a@example.com"),
		OCSPServer("http://ocsp.example.com"),
		Marker(marker),
		Serial(big.NewInt(4242)),
	)
	require.NoError(t, err)

	cert := leaf.Certificate
	assert.Equal(t, []string{"TEAM123"}, cert.Subject.OrganizationalUnit)
	assert.Equal(t, elliptic.P384(), cert.PublicKey.(*ecdsa.PublicKey).Curve)
	assert.Equal(t, nb, cert.NotBefore.UTC())
	assert.Equal(t, []string{"a@example.com"}, cert.EmailAddresses)
	assert.Equal(t, []string{"http://ocsp.example.com"}, cert.OCSPServer)
	assert.Equal(t, int64(4242), cert.SerialNumber.Int64())
	assert.Equal(t, x509.KeyUsageDigitalSignature, cert.KeyUsage)

	var found bool
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(marker) {
			found = true
			assert.False(t, ext.Critical)
			assert.Equal(t, asn1Null, ext.Value)
		}
	}
	assert.True(t, found)
}

func TestSubjectKeyID(t *testing.T) {
	root, err := NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)

	skid, err := SubjectKeyID(leaf.PrivateKey.Public())
	require.NoError(t, err)
	assert.Len(t, skid, 20)
	assert.Equal(t, skid, leaf.Certificate.SubjectKeyId)
	assert.Equal(t, root.Certificate.SubjectKeyId, leaf.Certificate.AuthorityKeyId)

	bare, err := root.Issue(NoSubjectKeyID())
	require.NoError(t, err)
	assert.Empty(t, bare.Certificate.SubjectKeyId)
}

func TestPEM(t *testing.T) {
	root, err := NewRoot()
	require.NoError(t, err)

	block, _ := pem.Decode(root.CertPEM())
	require.NotNil(t, block)
	assert.Equal(t, root.Certificate.Raw, block.Bytes)

	keyPEM, err := root.KeyPEM()
	require.NoError(t, err)
	block, _ = pem.Decode(keyPEM)
	require.NotNil(t, block)
	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
}

func TestCRL(t *testing.T) {
	root, err := NewRoot()
	require.NoError(t, err)
	leaf, err := root.Issue()
	require.NoError(t, err)

	der, err := root.CRL(1, []x509.RevocationListEntry{{
		SerialNumber:   leaf.Certificate.SerialNumber,
		RevocationTime: time.Now(),
	}}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	crl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	require.NoError(t, crl.CheckSignatureFrom(root.Certificate))
	require.Len(t, crl.RevokedCertificateEntries, 1)
}

func TestIssueWithoutKey(t *testing.T) {
	var id *Identity
	_, err := id.Issue()
	assert.Error(t, err)
}
