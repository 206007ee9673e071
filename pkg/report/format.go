// Package report renders series, run summaries and cache listings as
// tables or as JSON and YAML documents.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

// Formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts table, json and yaml (or yml). Empty means table.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// FormatForPath guesses the format from a file extension, falling back to
// def.
func FormatForPath(path string, def Format) Format {
	lower := strings.ToLower(path)

	switch {
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return FormatYAML
	default:
		return def
	}
}

// encode writes v as a document. YAML goes through the JSON encoding so both
// formats share field names and raw payloads stay structured.
func encode(w io.Writer, v any, format Format) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	if format == FormatJSON {
		data = append(data, '\n')

		_, err = w.Write(data)
		if err != nil {
			return fmt.Errorf("json write: %w", err)
		}

		return nil
	}

	var generic any

	err = json.NewDecoder(bytes.NewReader(data)).Decode(&generic)
	if err != nil {
		return fmt.Errorf("yaml convert: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	err = enc.Encode(generic)
	if err != nil {
		return fmt.Errorf("yaml write: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("yaml write: %w", err)
	}

	return nil
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Format.Footer = text.FormatDefault

	return tbl
}
