package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
	"github.com/Sumatoshi-tech/benchtrail/pkg/terminal"
)

// WriteSummary renders the outcome of a run. The table form ends with the
// benchmarks that have no retrievable data, per revision.
func WriteSummary(w io.Writer, s *orchestrator.Summary, format Format, cfg terminal.Config) error {
	if format != FormatTable {
		return encode(w, s, format)
	}

	took := s.Finished.Sub(s.Started).Round(time.Millisecond)
	fmt.Fprintln(w, terminal.DrawHeader("benchtrail run "+short(s.RunID, shortRevision+1),
		fmt.Sprintf("%d revisions, %s", len(s.Revisions), took), cfg.Width))

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Succeeded", "Failed", "Cached", "Reconciled", "Cleared"})
	tbl.AppendRow(table.Row{
		cfg.Colorize(fmt.Sprint(s.Counts.Succeeded), terminal.ColorGreen),
		colorIfPositive(cfg, s.Counts.Failed, terminal.ColorRed),
		s.Counts.Cached,
		colorIfPositive(cfg, s.Counts.Reconciled, terminal.ColorYellow),
		s.Cleared,
	})
	tbl.Render()

	writeRevisionErrors(w, cfg, "Unprocessable revisions", s.Unprocessable)
	writeRevisionErrors(w, cfg, "Degraded environments", s.Degraded)

	if len(s.Anomalies) > 0 {
		fmt.Fprintf(w, "\n%s\n", cfg.Colorize("Cache anomalies", terminal.ColorYellow))

		for _, a := range s.Anomalies {
			fmt.Fprintf(w, "  %s: %s\n", a.Key, a.Error)
		}
	}

	if len(s.Unknown) > 0 {
		fmt.Fprintf(w, "\nUnknown benchmarks: %v\n", s.Unknown)
	}

	writeMissing(w, cfg, s)

	return nil
}

func writeRevisionErrors(w io.Writer, cfg terminal.Config, title string, errs []orchestrator.RevisionError) {
	if len(errs) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", cfg.Colorize(title, terminal.ColorRed))

	for _, e := range errs {
		fmt.Fprintf(w, "  %s  %s\n", e.Revision.Label(), e.Error)
	}
}

// writeMissing lists, per benchmark, the revisions whose point is a gap.
func writeMissing(w io.Writer, cfg terminal.Config, s *orchestrator.Summary) {
	if s.Result == nil {
		return
	}

	gaps := map[string][]revision.Revision{}

	for name, points := range s.Result.Series {
		for i, p := range points {
			if p.Gap() {
				gaps[name] = append(gaps[name], s.Result.Revisions[i])
			}
		}
	}

	if len(gaps) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", cfg.Colorize("Missing data", terminal.ColorYellow))

	for _, name := range slices.Sorted(maps.Keys(gaps)) {
		fmt.Fprintf(w, "  %s:\n", name)

		for _, rev := range gaps[name] {
			fmt.Fprintf(w, "    %s\n", rev.Label())
		}
	}
}

func colorIfPositive(cfg terminal.Config, n int, c terminal.Color) string {
	if n == 0 {
		return "0"
	}

	return cfg.Colorize(fmt.Sprint(n), c)
}
