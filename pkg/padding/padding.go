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

// Package padding computes the number of bytes to append to a payload before
// it is encrypted and uploaded, so that ciphertext sizes leak only a coarse
// size class.
package padding

import (
	"errors"
	"fmt"
)

// Type selects a padding scheme.
type Type int

const (
	// TypeMMCS is the scheme used for chunked media uploads.
	TypeMMCS Type = iota + 1
)

var (
	// ErrUnknownPaddingType is returned for an unsupported Type.
	ErrUnknownPaddingType = errors.New("padding: unknown padding type")

	// ErrInvalidLength is returned for negative lengths.
	ErrInvalidLength = errors.New("padding: invalid length")
)

const (
	mmcsMinimum    = 64
	mmcsPowerLimit = 1024
	mmcsPageLimit  = 32000
	mmcsPage       = 1024
	mmcsBlock      = 8192
)

func (t Type) String() string {
	switch t {
	case TypeMMCS:
		return "mmcs"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Compute returns how many padding bytes to append to a payload of length
// bytes.
func Compute(t Type, length int) (int, error) {
	if length < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	switch t {
	case TypeMMCS:
		return PaddedSize(length) - length, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownPaddingType, t)
	}
}

// PaddedSize returns the MMCS size class for length:
//
//	length <= 64       64
//	length <= 1024     next power of two
//	length <= 32000    next multiple of 1024
//	otherwise          next multiple of 8192
func PaddedSize(length int) int {
	switch {
	case length <= mmcsMinimum:
		return mmcsMinimum
	case length <= mmcsPowerLimit:
		size := mmcsMinimum
		for size < length {
			size <<= 1
		}
		return size
	case length <= mmcsPageLimit:
		return roundUp(length, mmcsPage)
	default:
		return roundUp(length, mmcsBlock)
	}
}

func roundUp(n, multiple int) int {
	return (n + multiple - 1) / multiple * multiple
}
