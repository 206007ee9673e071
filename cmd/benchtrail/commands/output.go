package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/benchtrail/pkg/plotpage"
	"github.com/Sumatoshi-tech/benchtrail/pkg/report"
	"github.com/Sumatoshi-tech/benchtrail/pkg/series"
)

const outputFilePerm = 0o644

// outputOptions are the series output flags shared by run and series.
type outputOptions struct {
	print      bool
	images     string
	output     string
	format     string
	theme      string
	assetsHost string
}

func (o *outputOptions) bind(cmd *cobra.Command, printDefault bool) {
	cmd.Flags().BoolVarP(&o.print, "print", "p", printDefault, "Print the series")
	cmd.Flags().StringVarP(&o.images, "images", "i", "", "Write one HTML chart per benchmark into this directory")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Export the series to a file (format from extension or --format)")
	cmd.Flags().StringVar(&o.format, "format", string(report.FormatTable), "Series format: table, json, yaml")
	cmd.Flags().StringVar(&o.theme, "theme", string(plotpage.ThemeLight), "Chart theme: light, dark")
	cmd.Flags().StringVar(&o.assetsHost, "assets-host", "", "Override the echarts assets host for charts")
}

func (o *outputOptions) parseFormat() (report.Format, error) {
	return report.ParseFormat(o.format)
}

// write prints, exports and plots result as requested. Notices go to notes.
func (o *outputOptions) write(out, notes io.Writer, result *series.RunResult) error {
	format, err := o.parseFormat()
	if err != nil {
		return err
	}

	if o.print {
		err = report.WriteSeries(out, result, format)
		if err != nil {
			return err
		}
	}

	if o.output != "" {
		err = o.export(result, report.FormatForPath(o.output, format))
		if err != nil {
			return err
		}

		fmt.Fprintf(notes, "Series written to %s\n", o.output)
	}

	if o.images != "" {
		return o.plot(notes, result)
	}

	return nil
}

func (o *outputOptions) export(result *series.RunResult, format report.Format) error {
	var buf bytes.Buffer

	err := report.WriteSeries(&buf, result, format)
	if err != nil {
		return err
	}

	err = os.WriteFile(o.output, buf.Bytes(), outputFilePerm)
	if err != nil {
		return fmt.Errorf("write output %s: %w", o.output, err)
	}

	return nil
}

func (o *outputOptions) plot(notes io.Writer, result *series.RunResult) error {
	dir, err := filepath.Abs(o.images)
	if err != nil {
		return fmt.Errorf("resolve image dir: %w", err)
	}

	fmt.Fprintf(notes, "Saving generated plots to '%s'\n", dir)

	written, skipped, err := plotpage.WriteImages(dir, result, plotpage.Options{
		Theme:      plotpage.Theme(o.theme),
		AssetsHost: o.assetsHost,
	})

	for _, path := range written {
		fmt.Fprintf(notes, "  %s\n", filepath.Base(path))
	}

	for _, name := range skipped {
		fmt.Fprintf(notes, "  %s: no numeric data, skipped\n", name)
	}

	return err
}
