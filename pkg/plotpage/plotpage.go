// Package plotpage writes HTML line charts of benchmark series, one page per
// benchmark, with revisions oldest first along the x axis.
package plotpage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
)

// Gap is the echarts marker for a missing data point. Lines break there.
const Gap = "-"

const (
	dirPerm     = 0o755
	filePerm    = 0o644
	chartWidth  = "100%"
	chartHeight = "520px"
)

// ErrNoNumericData is returned when a benchmark has no plottable values.
var ErrNoNumericData = errors.New("no numeric data to plot")

// Options configure chart rendering.
type Options struct {
	Theme Theme
	// AssetsHost overrides the echarts CDN, for offline viewing.
	AssetsHost string
}

// LineSeries is one plotted line. nil values are gaps.
type LineSeries struct {
	Name   string
	Values []*float64
	Color  string
}

// BuildLineChart builds a themed line chart over labels.
func BuildLineChart(cOpts *ChartOpts, title, subtitle string, labels []string, lines []LineSeries) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(cOpts.Init(chartWidth, chartHeight)),
		charts.WithTitleOpts(cOpts.Title(title, subtitle)),
		charts.WithTooltipOpts(cOpts.Tooltip()),
		charts.WithLegendOpts(cOpts.Legend()),
		charts.WithGridOpts(cOpts.Grid()),
		charts.WithDataZoomOpts(cOpts.DataZoom()...),
		charts.WithXAxisOpts(cOpts.XAxis()),
		charts.WithYAxisOpts(cOpts.YAxis("")),
	)

	line.SetXAxis(labels)

	for _, s := range lines {
		data := make([]opts.LineData, len(s.Values))

		for i, v := range s.Values {
			if v == nil {
				data[i] = opts.LineData{Value: Gap}

				continue
			}

			data[i] = opts.LineData{Value: *v}
		}

		seriesOpts := []charts.SeriesOpts{
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(false)}),
		}

		if s.Color != "" {
			seriesOpts = append(seriesOpts,
				charts.WithItemStyleOpts(opts.ItemStyle{Color: s.Color}),
				charts.WithLineStyleOpts(opts.LineStyle{Color: s.Color}),
			)
		}

		line.AddSeries(s.Name, data, seriesOpts...)
	}

	return line
}

// BenchmarkChart builds the chart of one benchmark from result.
func BenchmarkChart(result *series.RunResult, benchmark string, o Options) (*charts.Line, error) {
	metrics := result.Metrics(benchmark)
	if len(metrics) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNumericData, benchmark)
	}

	cOpts := NewChartOpts(o.Theme)
	theme := GetThemeConfig(o.Theme)

	lines := make([]LineSeries, len(metrics))
	for i, m := range metrics {
		lines[i] = LineSeries{Name: m.Name, Values: m.Values, Color: theme.Color(i)}
	}

	return BuildLineChart(cOpts, benchmark, subtitle(result, benchmark), result.Labels(), lines), nil
}

func subtitle(result *series.RunResult, benchmark string) string {
	counts := result.Counts(benchmark)

	parts := []string{fmt.Sprintf("%d revisions", len(result.Revisions))}
	if n := counts[series.StateFailed]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}

	if n := counts[series.StateMissing]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", n))
	}

	return strings.Join(parts, ", ")
}

// WritePage renders the chart of benchmark as a standalone HTML page.
func WritePage(w io.Writer, result *series.RunResult, benchmark string, o Options) error {
	chart, err := BenchmarkChart(result, benchmark, o)
	if err != nil {
		return err
	}

	page := components.NewPage()
	page.SetPageTitle("benchtrail: " + benchmark)
	page.SetLayout(components.PageFlexLayout)

	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}

	page.AddCharts(chart)

	err = page.Render(w)
	if err != nil {
		return fmt.Errorf("render %s: %w", benchmark, err)
	}

	return nil
}

// WriteImages writes <dir>/<benchmark>.html for every benchmark with numeric
// data and returns the written paths. Benchmarks without numeric data are
// returned in skipped.
func WriteImages(dir string, result *series.RunResult, o Options) (written, skipped []string, err error) {
	err = os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, nil, fmt.Errorf("create image dir: %w", err)
	}

	for _, name := range result.Benchmarks {
		path := filepath.Join(dir, name+".html")

		writeErr := writeFile(path, result, name, o)
		if errors.Is(writeErr, ErrNoNumericData) {
			skipped = append(skipped, name)

			continue
		}

		if writeErr != nil {
			return written, skipped, writeErr
		}

		written = append(written, path)
	}

	return written, skipped, nil
}

func writeFile(path string, result *series.RunResult, name string, o Options) error {
	var buf bytes.Buffer

	err := WritePage(&buf, result, name, o)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, buf.Bytes(), filePerm)
	if err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}

	return nil
}
