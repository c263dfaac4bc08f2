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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Excloudx6/macos-security-libs/pkg/harness"
	"github.com/Excloudx6/macos-security-libs/pkg/manifest"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatTAP   OutputFormat = "tap"
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(strings.ToLower(format)),
		writer: writer,
	}
}

// PrintReport prints the outcome of a run
func (p *Printer) PrintReport(r *harness.Report) error {
	switch p.format {
	case OutputFormatTAP:
		r.WriteTAP(p.writer)
		return nil
	case OutputFormatJSON:
		return r.WriteJSON(p.writer)
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-36s %-9s %6s %6s %10s\n", "TEST", "STATUS", "PASS", "FAIL", "DURATION")
		fmt.Fprintln(p.writer, strings.Repeat("-", 71))
		for _, res := range r.Results {
			fmt.Fprintf(p.writer, "%-36s %-9s %6d %6d %10s\n",
				res.Name, res.Status, res.Passed, res.Failed, res.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(p.writer, strings.Repeat("-", 71))
		p.printSummary(r)
		return nil
	case OutputFormatText:
		for _, res := range r.Results {
			switch res.Status {
			case harness.StatusPassed:
				fmt.Fprintf(p.writer, "PASS %s (%d checks, %s)\n", res.Name, res.Passed, res.Duration.Round(time.Millisecond))
			case harness.StatusFailed:
				fmt.Fprintf(p.writer, "FAIL %s (%d of %d checks failed)\n", res.Name, res.Failed, res.Passed+res.Failed)
				for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
					if strings.HasPrefix(line, "not ok") || strings.HasPrefix(line, "#") {
						fmt.Fprintf(p.writer, "     %s\n", line)
					}
				}
			default:
				fmt.Fprintf(p.writer, "SKIP %s (%s)\n", res.Name, res.Status)
			}
		}
		p.printSummary(r)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printSummary(r *harness.Report) {
	fmt.Fprintf(p.writer, "Platform %s: %d passed, %d failed, %d disabled, %d skipped in %s\n",
		r.Platform, r.Passed, r.Failed, r.Disabled, r.Skipped, r.Duration.Round(time.Millisecond))
}

// PrintTable prints the registered tests for one platform
func (p *Printer) PrintTable(t *manifest.Table) error {
	entries := t.Entries()
	switch p.format {
	case OutputFormatTAP:
		fmt.Fprintf(p.writer, "1..%d\n", len(entries))
		for i, e := range entries {
			if e.Enabled {
				fmt.Fprintf(p.writer, "ok %d - %s\n", i+1, e.Name)
			} else {
				fmt.Fprintf(p.writer, "ok %d - %s # SKIP disabled on this platform\n", i+1, e.Name)
			}
		}
		return nil
	case OutputFormatJSON:
		tests := make([]map[string]interface{}, len(entries))
		for i, e := range entries {
			tests[i] = map[string]interface{}{
				"name":    e.Name,
				"enabled": e.Enabled,
			}
		}
		return p.printJSON(map[string]interface{}{
			"platform": t.Platform().Name(),
			"enabled":  len(t.Enabled()),
			"disabled": len(t.Disabled()),
			"tests":    tests,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-36s %-8s\n", "TEST", "ENABLED")
		fmt.Fprintln(p.writer, strings.Repeat("-", 45))
		for _, e := range entries {
			fmt.Fprintf(p.writer, "%-36s %-8t\n", e.Name, e.Enabled)
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Tests for %s (%d enabled, %d disabled):\n",
			t.Platform().Name(), len(t.Enabled()), len(t.Disabled()))
		for _, e := range entries {
			if e.Enabled {
				fmt.Fprintf(p.writer, "  - %s\n", e.Name)
			} else {
				fmt.Fprintf(p.writer, "  - %s (disabled)\n", e.Name)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// Matrix cell values
const (
	cellEnabled  = "yes"
	cellDisabled = "disabled"
	cellAbsent   = "-"
)

// PrintMatrix prints every declared test against every platform profile
func (p *Printer) PrintMatrix(names, profiles []string, tables map[string]*manifest.Table) error {
	cell := func(name, profile string) string {
		e, ok := tables[profile].Lookup(name)
		switch {
		case !ok:
			return cellAbsent
		case e.Enabled:
			return cellEnabled
		default:
			return cellDisabled
		}
	}

	switch p.format {
	case OutputFormatJSON:
		matrix := make(map[string]map[string]string, len(names))
		for _, name := range names {
			row := make(map[string]string, len(profiles))
			for _, prof := range profiles {
				row[prof] = cell(name, prof)
			}
			matrix[name] = row
		}
		return p.printJSON(map[string]interface{}{
			"platforms": profiles,
			"tests":     matrix,
		})
	case OutputFormatTable, OutputFormatText, OutputFormatTAP:
		fmt.Fprintf(p.writer, "%-36s", "TEST")
		for _, prof := range profiles {
			fmt.Fprintf(p.writer, " %-18s", strings.ToUpper(prof))
		}
		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, strings.Repeat("-", 36+19*len(profiles)))
		for _, name := range names {
			fmt.Fprintf(p.writer, "%-36s", name)
			for _, prof := range profiles {
				fmt.Fprintf(p.writer, " %-18s", cell(name, prof))
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
