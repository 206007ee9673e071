package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
	"github.com/Sumatoshi-tech/benchtrail/pkg/terminal"
)

const (
	resultColumnWidth = 48
	valueDigits       = 4
)

// SeriesDocument is the exported form of a RunResult.
type SeriesDocument struct {
	Revisions  []RevisionDoc     `json:"revisions"`
	Benchmarks []BenchmarkDoc    `json:"benchmarks"`
	Missing    []resultcache.Key `json:"missing,omitempty"`
}

// RevisionDoc is one revision of the window, oldest first.
type RevisionDoc struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Summary string    `json:"summary"`
	When    time.Time `json:"when"`
}

// BenchmarkDoc is one series.
type BenchmarkDoc struct {
	Name   string               `json:"name"`
	Counts map[series.State]int `json:"counts"`
	Points []PointDoc           `json:"points"`
}

// PointDoc is one point of a series.
type PointDoc struct {
	Revision string               `json:"revision"`
	State    series.State         `json:"state"`
	Value    json.RawMessage      `json:"value,omitempty"`
	Error    *resultcache.Failure `json:"error,omitempty"`
}

// NewSeriesDocument converts result for export.
func NewSeriesDocument(result *series.RunResult) *SeriesDocument {
	doc := &SeriesDocument{Missing: result.Missing}

	for _, rev := range result.Revisions {
		doc.Revisions = append(doc.Revisions, RevisionDoc{
			ID: rev.ID, Label: rev.Label(), Summary: rev.Summary, When: rev.When,
		})
	}

	for _, name := range result.Benchmarks {
		bd := BenchmarkDoc{Name: name, Counts: result.Counts(name)}

		for i, p := range result.Series[name] {
			bd.Points = append(bd.Points, PointDoc{
				Revision: result.Revisions[i].ID,
				State:    p.State,
				Value:    p.Value,
				Error:    p.Error,
			})
		}

		doc.Benchmarks = append(doc.Benchmarks, bd)
	}

	return doc
}

// WriteSeries renders result in format.
func WriteSeries(w io.Writer, result *series.RunResult, format Format) error {
	if format != FormatTable {
		return encode(w, NewSeriesDocument(result), format)
	}

	for i, name := range result.Benchmarks {
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "%s\n", name)
		writeSeriesTable(w, result, name)
	}

	return nil
}

func writeSeriesTable(w io.Writer, result *series.RunResult, name string) {
	metrics := result.Metrics(name)
	points := result.Series[name]

	tbl := newTable(w)

	header := table.Row{"Revision"}
	if len(metrics) == 0 {
		header = append(header, "Result")
	}

	for _, m := range metrics {
		header = append(header, m.Name)
	}

	tbl.AppendHeader(append(header, "Status"))

	for i, p := range points {
		row := table.Row{result.Revisions[i].Label()}

		if len(metrics) == 0 {
			row = append(row, compact(p.Value))
		}

		for _, m := range metrics {
			row = append(row, formatValue(m.Values[i]))
		}

		tbl.AppendRow(append(row, pointStatus(p)))
	}

	counts := result.Counts(name)
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d values, %d failed, %d missing",
		counts[series.StateValue], counts[series.StateFailed], counts[series.StateMissing])})

	tbl.Render()
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}

	return humanize.FtoaWithDigits(*v, valueDigits)
}

func pointStatus(p series.Point) string {
	switch p.State {
	case series.StateValue:
		return "ok"
	case series.StateFailed:
		if p.Error != nil {
			return "failed: " + p.Error.Kind
		}

		return "failed"
	default:
		return string(p.State)
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "-"
	}

	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return terminal.Truncate(strings.TrimSpace(string(raw)), resultColumnWidth)
	}

	return terminal.Truncate(buf.String(), resultColumnWidth)
}
