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

// Package platform describes the build target the suite was compiled for.
//
// The three flags are fixed at build time:
//
//	watchos build tag           Watch
//	GOOS=ios (without watchos)  IOS
//	simulator build tag         Simulator
//
// A build with none of them set (macOS, Linux, everything else) is the
// "macos" profile.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownProfile is returned by Lookup for names that are not profiles.
var ErrUnknownProfile = errors.New("platform: unknown profile")

// Platform holds the build-time target flags.
type Platform struct {
	Watch     bool
	IOS       bool
	Simulator bool
}

// Current returns the platform this binary was built for.
func Current() Platform {
	return Platform{
		Watch:     targetWatch,
		IOS:       targetIOS,
		Simulator: targetSimulator,
	}
}

// NotWatch is true on every target except watches.
func (p Platform) NotWatch() bool {
	return !p.Watch
}

// DeviceIOS is true on iOS hardware builds.
func (p Platform) DeviceIOS() bool {
	return p.IOS && !p.Simulator
}

// Name returns the profile name matching p, or a flag summary when p
// matches no profile.
func (p Platform) Name() string {
	for _, prof := range profiles {
		if prof.platform == p {
			return prof.name
		}
	}
	return fmt.Sprintf("custom(watch=%t,ios=%t,simulator=%t)", p.Watch, p.IOS, p.Simulator)
}

func (p Platform) String() string {
	return p.Name()
}

type profile struct {
	name     string
	platform Platform
}

var profiles = []profile{
	{"macos", Platform{}},
	{"ios", Platform{IOS: true}},
	{"ios-simulator", Platform{IOS: true, Simulator: true}},
	{"watchos", Platform{Watch: true}},
	{"watchos-simulator", Platform{Watch: true, Simulator: true}},
}

// Profiles returns the names of the known profiles in a stable order.
func Profiles() []string {
	names := make([]string, len(profiles))
	for i, prof := range profiles {
		names[i] = prof.name
	}
	return names
}

// All returns every known profile keyed by name.
func All() map[string]Platform {
	out := make(map[string]Platform, len(profiles))
	for _, prof := range profiles {
		out[prof.name] = prof.platform
	}
	return out
}

// Lookup returns the profile called name. Matching is case-insensitive.
func Lookup(name string) (Platform, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, prof := range profiles {
		if prof.name == name {
			return prof.platform, nil
		}
	}
	known := Profiles()
	sort.Strings(known)
	return Platform{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProfile, name, strings.Join(known, ", "))
}
