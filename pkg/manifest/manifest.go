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

// Package manifest is the registry of trust regression tests. Each
// declaration names a test and, optionally, the platform condition under
// which it runs. Resolving the declarations for a platform yields a Table:
// the ordered list of (name, enabled) entries the runner dispatches.
package manifest

import (
	"fmt"

	"github.com/Excloudx6/macos-security-libs/pkg/platform"
)

// Entry is one resolved registration.
type Entry struct {
	Name    string
	Enabled bool
}

// Condition is a named platform predicate.
type Condition struct {
	Name  string
	Holds func(platform.Platform) bool
}

// Otherwise says what happens to a declaration whose condition is false.
type Otherwise int

const (
	// Disable registers the test disabled.
	Disable Otherwise = iota
	// Omit leaves the test out of the table.
	Omit
)

func (o Otherwise) String() string {
	if o == Omit {
		return "omit"
	}
	return "disable"
}

var (
	// NotWatch holds everywhere except watch builds.
	NotWatch = Condition{Name: "!watch", Holds: platform.Platform.NotWatch}

	// DeviceIOS holds only on iOS hardware builds.
	DeviceIOS = Condition{Name: "ios-device", Holds: platform.Platform.DeviceIOS}
)

// Declaration is one line of the manifest.
type Declaration struct {
	Name string

	// Condition is nil for unconditional tests.
	Condition *Condition

	Otherwise Otherwise
}

// Always declares a test registered enabled on every platform.
func Always(name string) Declaration {
	return Declaration{Name: name}
}

// Only declares a test that exists only where cond holds.
func Only(name string, cond Condition) Declaration {
	return Declaration{Name: name, Condition: &cond, Otherwise: Omit}
}

// DisabledUnless declares a test that is registered everywhere but enabled
// only where cond holds.
func DisabledUnless(name string, cond Condition) Declaration {
	return Declaration{Name: name, Condition: &cond, Otherwise: Disable}
}

// resolve returns the entry for p and whether the test is present at all.
func (d Declaration) resolve(p platform.Platform) (Entry, bool) {
	if d.Condition == nil || d.Condition.Holds(p) {
		return Entry{Name: d.Name, Enabled: true}, true
	}
	if d.Otherwise == Omit {
		return Entry{}, false
	}
	return Entry{Name: d.Name, Enabled: false}, true
}

func (d Declaration) String() string {
	if d.Condition == nil {
		return d.Name
	}
	return fmt.Sprintf("%s [%s, else %s]", d.Name, d.Condition.Name, d.Otherwise)
}

// Table is the resolved registry for one platform. It is immutable.
type Table struct {
	platform platform.Platform
	entries  []Entry
	index    map[string]int
}

// Resolve evaluates decls for p, preserving declaration order.
func Resolve(p platform.Platform, decls []Declaration) (*Table, error) {
	t := &Table{
		platform: p,
		entries:  make([]Entry, 0, len(decls)),
		index:    make(map[string]int, len(decls)),
	}
	for i, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("%w at position %d", ErrEmptyName, i)
		}
		e, ok := d.resolve(p)
		if !ok {
			continue
		}
		if _, dup := t.index[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, e.Name)
		}
		t.index[e.Name] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Platform returns the platform the table was resolved for.
func (t *Table) Platform() platform.Platform {
	return t.platform
}

// Entries returns a copy of all entries in run order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Enabled returns the enabled entries in run order.
func (t *Table) Enabled() []Entry {
	return t.filter(true)
}

// Disabled returns the disabled entries in run order.
func (t *Table) Disabled() []Entry {
	return t.filter(false)
}

func (t *Table) filter(enabled bool) []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Enabled == enabled {
			out = append(out, e)
		}
	}
	return out
}

// Names returns every registered name in run order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Name
	}
	return out
}

// Lookup returns the entry called name.
func (t *Table) Lookup(name string) (Entry, bool) {
	i, ok := t.index[name]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Len returns the number of registered entries.
func (t *Table) Len() int {
	return len(t.entries)
}
