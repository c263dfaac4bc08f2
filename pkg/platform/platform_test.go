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

package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		profile   string
		notWatch  bool
		deviceIOS bool
	}{
		{"macos", true, false},
		{"ios", true, true},
		{"ios-simulator", true, false},
		{"watchos", false, false},
		{"watchos-simulator", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			p, err := Lookup(tt.profile)
			require.NoError(t, err)
			assert.Equal(t, tt.notWatch, p.NotWatch())
			assert.Equal(t, tt.deviceIOS, p.DeviceIOS())
			assert.Equal(t, tt.profile, p.Name())
		})
	}
}

func TestLookup(t *testing.T) {
	p, err := Lookup("  iOS-Simulator ")
	require.NoError(t, err)
	assert.Equal(t, Platform{IOS: true, Simulator: true}, p)

	_, err = Lookup("tvos")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestProfilesStable(t *testing.T) {
	assert.Equal(t, []string{"macos", "ios", "ios-simulator", "watchos", "watchos-simulator"}, Profiles())
	assert.Len(t, All(), len(Profiles()))
}

func TestCustomName(t *testing.T) {
	p := Platform{Watch: true, IOS: true}
	assert.Contains(t, p.Name(), "custom(")
}

func TestCurrentMatchesBuild(t *testing.T) {
	p := Current()
	if runtime.GOOS != "ios" {
		assert.False(t, p.IOS)
	}
	// A watch build is never also an iOS build.
	assert.False(t, p.Watch && p.IOS)
}
