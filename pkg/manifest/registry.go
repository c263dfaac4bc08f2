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

package manifest

import (
	"sync"

	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

// Test identifiers.
const (
	SecTrustASR              = "si_21_sectrust_asr"
	SecTrustIAP              = "si_22_sectrust_iap"
	SecTrustOCSP             = "si_23_sectrust_ocsp"
	SecTrustITMS             = "si_24_sectrust_itms"
	SecTrustDigiNotar        = "si_24_sectrust_diginotar"
	SecTrustDigicertMalaysia = "si_24_sectrust_digicert_malaysia"
	SecTrustPassbook         = "si_24_sectrust_passbook"
	CMSSKID                  = "si_25_cms_skid"
	SecTrustCopyProperties   = "si_26_sectrust_copyproperties"
	SecTrustSettings         = "si_28_sectrustsettings"
	CMSChainMode             = "si_29_cms_chain_mode"
	SecTrustPinningRequired  = "si_32_sectrust_pinning_required"
	CMSTimestamp             = "si_34_cms_timestamp"
	CMSExpirationTime        = "si_35_cms_expiration_time"
	SecKeyGen                = "si_44_seckey_gen"
	SecKeyRSA                = "si_44_seckey_rsa"
	SecKeyEC                 = "si_44_seckey_ec"
	SecKeyIES                = "si_44_seckey_ies"
	SecKeyAKS                = "si_44_seckey_aks"
	SecKeyFV                 = "si_44_seckey_fv"
	SecKeyProxy              = "si_44_seckey_proxy"
	CMS                      = "si_60_cms"
	PKCS12                   = "si_61_pkcs12"
	CSR                      = "si_62_csr"
	OpenSSLCMS               = "si_64_ossl_cms"
	CMSCertPolicy            = "si_65_cms_cert_policy"
	SMIME                    = "si_66_smime"
	SecTrustBlocklist        = "si_67_sectrust_blocklist"
	SecTrustAllowlist        = "si_84_sectrust_allowlist"
	SecMatchIssuer           = "si_68_secmatchissuer"
	SecTrustUnified          = "si_70_sectrust_unified"
	MobileStorePolicy        = "si_71_mobile_store_policy"
	OTAPKISigner             = "si_74_OTA_PKI_Signer"
	SecCertificateSigHashAlg = "si_83_seccertificate_sighashalg"
	SecTrustValid            = "si_88_sectrust_valid"
	CMSHashAgility           = "si_89_cms_hash_agility"
	RecoveryKey              = "rk_01_recoverykey"
	PaddingMMCS              = "padding_00_mmcs"
)

var declarations = []Declaration{
	Always(SecTrustASR),
	Always(SecTrustIAP),
	DisabledUnless(SecTrustOCSP, NotWatch),
	Always(SecTrustITMS),
	Always(SecTrustDigiNotar),
	Always(SecTrustDigicertMalaysia),
	Always(SecTrustPassbook),
	Always(CMSSKID),
	Always(SecTrustCopyProperties),
	Always(SecTrustSettings),
	Always(CMSChainMode),
	Always(SecTrustPinningRequired),
	Always(CMSTimestamp),
	Always(CMSExpirationTime),
	Always(SecKeyGen),
	Always(SecKeyRSA),
	Always(SecKeyEC),
	Always(SecKeyIES),
	Always(SecKeyAKS),
	Only(SecKeyFV, DeviceIOS),
	Always(SecKeyProxy),
	Always(CMS),
	Always(PKCS12),
	Always(CSR),
	Always(OpenSSLCMS),
	Always(CMSCertPolicy),
	Always(SMIME),
	DisabledUnless(SecTrustBlocklist, NotWatch),
	DisabledUnless(SecTrustAllowlist, NotWatch),
	Always(SecMatchIssuer),
	Always(SecTrustUnified),
	Always(MobileStorePolicy),
	Always(OTAPKISigner),
	Always(SecCertificateSigHashAlg),
	Always(SecTrustValid),
	Always(CMSHashAgility),
	Always(RecoveryKey),
	Always(PaddingMMCS),
}

// Declarations returns a copy of the static declaration list.
func Declarations() []Declaration {
	out := make([]Declaration, len(declarations))
	copy(out, declarations)
	return out
}

// For resolves the static declarations for p.
func For(p platform.Platform) (*Table, error) {
	return Resolve(p, declarations)
}

var current = sync.OnceValue(func() *Table {
	t, err := For(platform.Current())
	if err != nil {
		panic(err)
	}
	return t
})

// Current returns the table for the platform this binary was built for.
// It panics if the static declarations are malformed.
func Current() *Table {
	return current()
}
