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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

func TestSuiteCoversEveryDeclaration(t *testing.T) {
	suite := Suite()
	for _, d := range manifest.Declarations() {
		assert.NotNil(t, suite[d.Name], "no procedure for %s", d.Name)
	}
	assert.Len(t, suite, len(manifest.Declarations()), "procedures without a declaration")
}

func TestSuiteLinksOnEveryPlatform(t *testing.T) {
	for name, p := range platform.All() {
		t.Run(name, func(t *testing.T) {
			table, err := manifest.For(p)
			require.NoError(t, err)
			_, err = harness.NewRunner(table, Suite())
			require.NoError(t, err)
		})
	}
}

// TestProcedures runs every procedure on its own so a failure names the
// procedure and carries its TAP output.
func TestProcedures(t *testing.T) {
	suite := Suite()
	for _, d := range manifest.Declarations() {
		t.Run(d.Name, func(t *testing.T) {
			t.Parallel()
			table, err := manifest.Resolve(platform.Platform{}, []manifest.Declaration{manifest.Always(d.Name)})
			require.NoError(t, err)
			runner, err := harness.NewRunner(table, suite, harness.WithTimeout(2*time.Minute))
			require.NoError(t, err)

			report, err := runner.Run(context.Background())
			require.NoError(t, err)
			res, ok := report.Result(d.Name)
			require.True(t, ok)
			assert.Equal(t, harness.StatusPassed, res.Status, res.Output)
			assert.Zero(t, res.Failed, res.Output)
			assert.Positive(t, res.Passed, "procedure made no assertions")
		})
	}
}

func TestCurrentPlatformRun(t *testing.T) {
	if testing.Short() {
		t.Skip("full run skipped in short mode")
	}
	runner, err := harness.NewRunner(manifest.Current(), Suite(), harness.WithWorkers(4))
	require.NoError(t, err)
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.ExitCode())
	assert.Equal(t, manifest.Current().Len(), len(report.Results))
	assert.Equal(t, len(manifest.Current().Disabled()), report.Disabled)
	for _, res := range report.Results {
		if !res.Enabled {
			assert.Equal(t, harness.StatusDisabled, res.Status, res.Name)
			assert.Zero(t, res.Passed+res.Failed, "%s ran while disabled", res.Name)
		}
	}
}
