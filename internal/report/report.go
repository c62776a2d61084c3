// Package report renders diff entries into human readable change reports.
// Rendering is a pure function of the entries.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"

	"github.com/platformsync/releaseflow/internal/descriptor"
	"github.com/platformsync/releaseflow/internal/diff"
)

// NoChangesMessage is the report body when there is nothing to report.
const NoChangesMessage = "No version changes detected."

// Report is the rendered outcome of a diff.
type Report struct {
	Entries     []diff.Entry `json:"diffEntries"`
	Markdown    string       `json:"markdownReport"`
	ChangeCount int          `json:"changeCount"`
	HasChanges  bool         `json:"hasChanges"`
}

var groupTitles = map[descriptor.Group]string{
	descriptor.GroupComponents:   "Components",
	descriptor.GroupRequired:     "Required applications",
	descriptor.GroupOptional:     "Optional applications",
	descriptor.GroupDependencies: "Dependencies",
}

// Title returns the heading used for a group.
func Title(g descriptor.Group) string {
	if t, ok := groupTitles[g]; ok {
		return t
	}
	return string(g)
}

// Render builds the report for entries. Groups are rendered in the order
// their first entry appears.
func Render(entries []diff.Entry) Report {
	r := Report{
		Entries:     entries,
		ChangeCount: len(entries),
		HasChanges:  len(entries) > 0,
	}
	if r.Entries == nil {
		r.Entries = []diff.Entry{}
	}
	if !r.HasChanges {
		r.Markdown = NoChangesMessage + "\n"
		return r
	}

	var sb strings.Builder
	for _, group := range groupOrder(entries) {
		fmt.Fprintf(&sb, "### %s\n\n", Title(group))

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Name", "Old version", "New version"})
		for _, e := range entries {
			if e.Group == group {
				t.AppendRow(table.Row{e.Name, e.Old, e.New})
			}
		}
		sb.WriteString(t.RenderMarkdown())
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Total changes: %d\n", r.ChangeCount)
	r.Markdown = sb.String()
	return r
}

// Table renders entries as a terminal table.
func Table(entries []diff.Entry) string {
	if len(entries) == 0 {
		return NoChangesMessage + "\n"
	}
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Group", "Name", "Old", "New"})
	for _, e := range entries {
		t.AppendRow(table.Row{Title(e.Group), e.Name, e.Old, e.New})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	fmt.Fprintf(&buf, "\nTotal changes: %d\n", len(entries))
	return buf.String()
}

// Format selects the encoding of Encode.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists all supported formats.
var Formats = []Format{FormatTable, FormatMarkdown, FormatJSON, FormatYAML}

// Encode writes the report in format.
func Encode(r Report, format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return []byte(r.Markdown), nil
	case FormatTable:
		return []byte(Table(r.Entries)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding report as json failed: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding report as yaml failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

func groupOrder(entries []diff.Entry) []descriptor.Group {
	var out []descriptor.Group
	seen := make(map[descriptor.Group]struct{})
	for _, e := range entries {
		if _, ok := seen[e.Group]; ok {
			continue
		}
		seen[e.Group] = struct{}{}
		out = append(out, e.Group)
	}
	return out
}
