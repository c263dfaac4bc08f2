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

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// Algorithm is a signature algorithm: a key family, a padding and a digest.
type Algorithm int

const (
	RSAPKCS1v15SHA256 Algorithm = iota + 1
	RSAPKCS1v15SHA384
	RSAPKCS1v15SHA512
	RSAPSSSHA256
	RSAPSSSHA384
	RSAPSSSHA512
	ECDSASHA256
	ECDSASHA384
	ECDSASHA512
)

var algorithmNames = map[Algorithm]string{
	RSAPKCS1v15SHA256: "RS256",
	RSAPKCS1v15SHA384: "RS384",
	RSAPKCS1v15SHA512: "RS512",
	RSAPSSSHA256:      "PS256",
	RSAPSSSHA384:      "PS384",
	RSAPSSSHA512:      "PS512",
	ECDSASHA256:       "ES256",
	ECDSASHA384:       "ES384",
	ECDSASHA512:       "ES512",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// Hash returns the message digest of a.
func (a Algorithm) Hash() crypto.Hash {
	switch a {
	case RSAPKCS1v15SHA256, RSAPSSSHA256, ECDSASHA256:
		return crypto.SHA256
	case RSAPKCS1v15SHA384, RSAPSSSHA384, ECDSASHA384:
		return crypto.SHA384
	case RSAPKCS1v15SHA512, RSAPSSSHA512, ECDSASHA512:
		return crypto.SHA512
	}
	return 0
}

// Type returns the key family a signs with.
func (a Algorithm) Type() Type {
	switch a {
	case ECDSASHA256, ECDSASHA384, ECDSASHA512:
		return EC
	}
	return RSA
}

// PSS reports whether a uses RSASSA-PSS.
func (a Algorithm) PSS() bool {
	return a == RSAPSSSHA256 || a == RSAPSSSHA384 || a == RSAPSSSHA512
}

// SignerOpts returns the crypto.SignerOpts for a.
func (a Algorithm) SignerOpts() crypto.SignerOpts {
	if a.PSS() {
		return &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: a.Hash()}
	}
	return a.Hash()
}

// Sign hashes msg and signs the digest with signer. Any crypto.Signer works,
// including a RemoteSigner.
func Sign(signer crypto.Signer, alg Algorithm, msg []byte) ([]byte, error) {
	if alg.Hash() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, alg)
	}
	if err := checkKeyType(signer.Public(), alg); err != nil {
		return nil, err
	}
	digest, err := hash(alg.Hash(), msg)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(rand.Reader, digest, alg.SignerOpts())
	if err != nil {
		return nil, fmt.Errorf("keys: %v signature failed: %w", alg, err)
	}
	return sig, nil
}

// Verify checks sig over msg with pub.
func Verify(pub crypto.PublicKey, alg Algorithm, msg, sig []byte) error {
	if alg.Hash() == 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, alg)
	}
	if err := checkKeyType(pub, alg); err != nil {
		return err
	}
	digest, err := hash(alg.Hash(), msg)
	if err != nil {
		return err
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if alg.PSS() {
			err = rsa.VerifyPSS(k, alg.Hash(), digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		} else {
			err = rsa.VerifyPKCS1v15(k, alg.Hash(), digest, sig)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrVerification, err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest, sig) {
			return ErrVerification
		}
	}
	return nil
}

func checkKeyType(pub crypto.PublicKey, alg Algorithm) error {
	switch pub.(type) {
	case *rsa.PublicKey:
		if alg.Type() != RSA {
			return fmt.Errorf("%w: %v with RSA key", ErrAlgorithmMismatch, alg)
		}
	case *ecdsa.PublicKey:
		if alg.Type() != EC {
			return fmt.Errorf("%w: %v with EC key", ErrAlgorithmMismatch, alg)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKeyType, pub)
	}
	return nil
}

func hash(h crypto.Hash, msg []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, h)
	}
	hh := h.New()
	hh.Write(msg)
	return hh.Sum(nil), nil
}
