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

package padding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMMCS(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{0, 64},
		{1, 63},
		{64, 0},
		{65, 63},
		{127, 1},
		{128, 0},
		{129, 127},
		{1000, 24},
		{1024, 0},
		{1025, 1023},
		{2047, 1},
		{2048, 0},
		{31744, 0},
		{31745, 1023},
		{32000, 768},
		{32001, 767},
		{32768, 0},
		{40000, 960},
		{1 << 20, 0},
	}
	for _, tt := range tests {
		got, err := Compute(TypeMMCS, tt.length)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "length %d", tt.length)
	}
}

func TestPaddedSizeIsNeverSmaller(t *testing.T) {
	for n := 0; n < 70000; n += 97 {
		size := PaddedSize(n)
		assert.GreaterOrEqual(t, size, n)
		assert.GreaterOrEqual(t, size, 64)
	}
}

func TestComputeRejects(t *testing.T) {
	_, err := Compute(Type(42), 10)
	assert.ErrorIs(t, err, ErrUnknownPaddingType)

	_, err = Compute(TypeMMCS, -1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "mmcs", TypeMMCS.String())
	assert.Equal(t, "Type(9)", Type(9).String())
}
