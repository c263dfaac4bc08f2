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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

func newListCmd(opts *Options) *cobra.Command {
	var (
		platformName string
		allPlatforms bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tests registered for a platform",
		Long: `List the regression tests registered for a platform and whether each
one is enabled. With --all, print the registration of every declared test
on every platform profile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Load(cmd)
			if err != nil {
				return err
			}
			printer := NewPrinter(opts.outputFormat(cmd, cfg), cmd.OutOrStdout())

			if allPlatforms {
				profiles := platform.Profiles()
				tables := make(map[string]*manifest.Table, len(profiles))
				for name, p := range platform.All() {
					t, err := manifest.For(p)
					if err != nil {
						return err
					}
					tables[name] = t
				}
				decls := manifest.Declarations()
				names := make([]string, len(decls))
				for i, d := range decls {
					names[i] = d.Name
				}
				return printer.PrintMatrix(names, profiles, tables)
			}

			if cmd.Flags().Changed("platform") {
				cfg.Runner.Platform = platformName
			}
			p, err := cfg.ResolvePlatform()
			if err != nil {
				return err
			}
			t, err := manifest.For(p)
			if err != nil {
				return err
			}
			return printer.PrintTable(t)
		},
	}

	cmd.Flags().StringVarP(&platformName, "platform", "p", "",
		"platform profile (macos, ios, ios-simulator, watchos, watchos-simulator)")
	cmd.Flags().BoolVar(&allPlatforms, "all", false,
		"show every test against every platform")

	return cmd
}
