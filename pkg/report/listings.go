package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/benchtrail/pkg/bench"
	"github.com/Sumatoshi-tech/benchtrail/pkg/resultcache"
	"github.com/Sumatoshi-tech/benchtrail/pkg/runrecord"
	"github.com/Sumatoshi-tech/benchtrail/pkg/safeconv"
)

const shortRevision = 7

// WriteBenchmarks lists discovered benchmarks.
func WriteBenchmarks(w io.Writer, benches []bench.Benchmark, format Format) error {
	if format != FormatTable {
		return encode(w, benches, format)
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Name", "File", "Language", "Launcher"})

	for _, b := range benches {
		tbl.AppendRow(table.Row{b.Name, b.File, b.Language, b.Launcher})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d benchmarks", len(benches))})
	tbl.Render()

	return nil
}

// WriteEntries lists cache entries with their age relative to now.
func WriteEntries(w io.Writer, entries []*resultcache.Entry, now time.Time, format Format) error {
	if format != FormatTable {
		return encode(w, entries, format)
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Revision", "Benchmark", "Status", "Recorded", "Took", "Size", "Run"})

	var failed int

	for _, e := range entries {
		status := string(e.Status)
		if e.Failure != nil {
			status += ": " + e.Failure.Kind
			failed++
		}

		tbl.AppendRow(table.Row{
			short(e.Revision, shortRevision),
			e.Benchmark,
			status,
			humanize.RelTime(e.RecordedAt, now, "ago", "from now"),
			e.Duration.Round(time.Millisecond),
			humanize.Bytes(safeconv.MustLenToUint64(len(e.Result))),
			short(e.RunID, shortRevision+1),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d entries, %d failed", len(entries), failed)})
	tbl.Render()

	return nil
}

// WriteProblems prints verification findings, one per line.
func WriteProblems(w io.Writer, problems []resultcache.Problem, format Format) error {
	if format != FormatTable {
		type problemDoc struct {
			Key     resultcache.Key `json:"key"`
			Message string          `json:"message"`
		}

		docs := make([]problemDoc, 0, len(problems))
		for _, p := range problems {
			docs = append(docs, problemDoc{Key: p.Key, Message: p.Message})
		}

		return encode(w, docs, format)
	}

	for _, p := range problems {
		fmt.Fprintln(w, p.String())
	}

	return nil
}

// WriteRuns lists run records, newest first.
func WriteRuns(w io.Writer, records []*runrecord.Record, now time.Time, format Format) error {
	if format != FormatTable {
		return encode(w, records, format)
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Run", "Started", "Took", "Revisions", "Benchmarks", "OK", "Failed", "Cached", "Missing", "Error"})

	for _, r := range records {
		tbl.AppendRow(table.Row{
			short(r.RunID, shortRevision+1),
			humanize.RelTime(r.Started, now, "ago", "from now"),
			r.Duration().Round(time.Second),
			len(r.Revisions),
			len(r.Benchmarks),
			r.Counts.Succeeded,
			r.Counts.Failed,
			r.Counts.Cached,
			r.Missing,
			r.Error,
		})
	}

	tbl.Render()

	return nil
}

// WriteRecord prints one run record. The table format falls back to YAML.
func WriteRecord(w io.Writer, rec *runrecord.Record, format Format) error {
	if format == FormatTable {
		format = FormatYAML
	}

	return encode(w, rec, format)
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
