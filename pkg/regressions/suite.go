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

// Package regressions holds the procedures behind every registered test name.
// Each procedure builds its own certificates and keys and reports through the
// harness.T it is given; nothing is shared between procedures.
package regressions

import (
	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
)

// Suite returns the procedure for every name the manifest can declare,
// including entries that only some platforms register.
func Suite() harness.Suite {
	return harness.Suite{
		manifest.SecTrustASR:              sectrustASR,
		manifest.SecTrustIAP:              sectrustIAP,
		manifest.SecTrustOCSP:             sectrustOCSP,
		manifest.SecTrustITMS:             sectrustITMS,
		manifest.SecTrustDigiNotar:        sectrustDigiNotar,
		manifest.SecTrustDigicertMalaysia: sectrustDigicertMalaysia,
		manifest.SecTrustPassbook:         sectrustPassbook,
		manifest.CMSSKID:                  cmsSKID,
		manifest.SecTrustCopyProperties:   sectrustCopyProperties,
		manifest.SecTrustSettings:         sectrustSettings,
		manifest.CMSChainMode:             cmsChainMode,
		manifest.SecTrustPinningRequired:  sectrustPinningRequired,
		manifest.CMSTimestamp:             cmsTimestamp,
		manifest.CMSExpirationTime:        cmsExpirationTime,
		manifest.SecKeyGen:                seckeyGen,
		manifest.SecKeyRSA:                seckeyRSA,
		manifest.SecKeyEC:                 seckeyEC,
		manifest.SecKeyIES:                seckeyIES,
		manifest.SecKeyAKS:                seckeyAKS,
		manifest.SecKeyFV:                 seckeyFV,
		manifest.SecKeyProxy:              seckeyProxy,
		manifest.CMS:                      cmsSignEnvelope,
		manifest.PKCS12:                   pkcs12Identity,
		manifest.CSR:                      csrRequest,
		manifest.OpenSSLCMS:               cmsCertsOnly,
		manifest.CMSCertPolicy:            cmsCertPolicy,
		manifest.SMIME:                    smimeFraming,
		manifest.SecTrustBlocklist:        sectrustBlocklist,
		manifest.SecTrustAllowlist:        sectrustAllowlist,
		manifest.SecMatchIssuer:           secMatchIssuer,
		manifest.SecTrustUnified:          sectrustUnified,
		manifest.MobileStorePolicy:        mobileStorePolicy,
		manifest.OTAPKISigner:             otaPKISigner,
		manifest.SecCertificateSigHashAlg: certificateSigHashAlg,
		manifest.SecTrustValid:            sectrustValid,
		manifest.CMSHashAgility:           cmsHashAgility,
		manifest.RecoveryKey:              recoveryKey,
		manifest.PaddingMMCS:              paddingMMCS,
	}
}
