package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"pluginhost/internal/core"
	"pluginhost/pkg/domain"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"
)

func registerOutputFlag(flags *pflag.FlagSet, target *string, def string) {
	flags.StringVarP(target, "output", "o", def, "output format (table, yaml, json)")
}

// row is one line of list output. State is empty for registry-only listings.
type row struct {
	Type             string       `json:"type" yaml:"type"`
	Name             string       `json:"name" yaml:"name"`
	State            domain.State `json:"state,omitempty" yaml:"state,omitempty"`
	Version          string       `json:"version,omitempty" yaml:"version,omitempty"`
	InstalledVersion string       `json:"installedVersion,omitempty" yaml:"installedVersion,omitempty"`
	InstalledAt      *time.Time   `json:"installedAt,omitempty" yaml:"installedAt,omitempty"`
}

func encodeRows(w io.Writer, format string, rows []row, withState bool) error {
	switch format {
	case outputTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		if withState {
			t.AppendHeader(table.Row{"TYPE", "NAME", "STATE", "VERSION", "INSTALLED", "INSTALLED AT"})
		} else {
			t.AppendHeader(table.Row{"TYPE", "NAME", "INSTALLED", "INSTALLED AT"})
		}
		for _, r := range rows {
			at := ""
			if r.InstalledAt != nil {
				at = r.InstalledAt.UTC().Format(time.RFC3339)
			}
			if withState {
				t.AppendRow(table.Row{r.Type, r.Name, r.State, r.Version, r.InstalledVersion, at})
			} else {
				t.AppendRow(table.Row{r.Type, r.Name, r.InstalledVersion, at})
			}
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	case outputYAML:
		return encodeYAML(w, rows)
	case outputJSON:
		return encodeJSON(w, rows)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func encodeDescriptor(w io.Writer, format string, desc domain.Descriptor) error {
	switch format {
	case outputTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"TYPE", "NAME", "VERSION", "DESCRIPTION", "MANIFEST"})
		t.AppendRow(table.Row{desc.Type, desc.Name, desc.Version, desc.Description, desc.ManifestPath})
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	case outputYAML:
		return encodeYAML(w, desc)
	case outputJSON:
		return encodeJSON(w, desc)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// describeStatus renders one status line. Version direction is display only.
func describeStatus(st core.Status) string {
	line := fmt.Sprintf("%s %s", st.Key, st.State)
	switch {
	case st.State == domain.StateUpgradeRequired && st.Descriptor != nil && st.Record != nil:
		from, to := st.Record.Version, st.Descriptor.Version
		if dir := versionDirection(from, to); dir != "" {
			return fmt.Sprintf("%s (%s %s -> %s)", line, dir, from, to)
		}
		return fmt.Sprintf("%s (%s -> %s)", line, from, to)
	case st.Descriptor != nil:
		return line + " " + st.Descriptor.Version
	case st.Record != nil:
		return line + " " + st.Record.Version
	}
	return line
}

// versionDirection compares installed and on-disk versions as semver and
// returns "" when either does not parse.
func versionDirection(installed, onDisk string) string {
	from, err := semver.NewVersion(installed)
	if err != nil {
		return ""
	}
	to, err := semver.NewVersion(onDisk)
	if err != nil {
		return ""
	}
	switch to.Compare(from) {
	case 1:
		return "upgrade"
	case -1:
		return "downgrade"
	default:
		return "reinstall"
	}
}
