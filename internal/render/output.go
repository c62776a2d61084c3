// Package render holds the output formats shared by the commands.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"
)

// OutputFormat selects how a command prints its result.
type OutputFormat string

const (
	OutputFormatTable    OutputFormat = "table"
	OutputFormatMarkdown OutputFormat = "markdown"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatYAML     OutputFormat = "yaml"
)

func (f OutputFormat) String() string {
	return string(f)
}

// Formats returns the string values of formats for enum flags.
func Formats(formats ...OutputFormat) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.String()
	}
	return out
}

// Encode writes v as indented JSON or YAML.
func Encode(w io.Writer, v any, format OutputFormat) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding output as json failed: %w", err)
		}
		return nil
	case OutputFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding output as yaml failed: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("format %s cannot be encoded", format)
	}
}

// NewTable returns a table writer with the style used by all commands.
func NewTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}
