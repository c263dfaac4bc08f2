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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"simple", "item", false},
		{"nested", "trust-settings/abcd", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "keys/../../etc", true},
		{"empty segment", "keys//item", true},
		{"trailing slash", "keys/", true},
		{"nul byte", "keys/a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "keys/rsa/signer", Join("keys", "rsa", "signer"))
	assert.Equal(t, "single", Join("single"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsNotFound(ErrClosed))
	assert.False(t, IsNotFound(nil))
}
