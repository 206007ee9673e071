package plotpage

import "github.com/go-echarts/go-echarts/v2/opts"

const (
	dataZoomEndPercent = 100
	axisLabelRotate    = 30
)

// ChartOpts provides themed chart options.
type ChartOpts struct {
	theme ThemeConfig
}

// NewChartOpts creates ChartOpts for theme.
func NewChartOpts(theme Theme) *ChartOpts {
	return &ChartOpts{theme: GetThemeConfig(theme)}
}

// Init returns initialization options with the themed background.
func (c *ChartOpts) Init(width, height string) opts.Initialization {
	return opts.Initialization{
		Width:           width,
		Height:          height,
		BackgroundColor: c.theme.Background,
	}
}

// Title returns title options with themed text colors.
func (c *ChartOpts) Title(title, subtitle string) opts.Title {
	return opts.Title{
		Title:         title,
		Subtitle:      subtitle,
		Left:          "center",
		TitleStyle:    &opts.TextStyle{Color: c.theme.Text},
		SubtitleStyle: &opts.TextStyle{Color: c.theme.TextMuted},
	}
}

// Legend returns legend options.
func (c *ChartOpts) Legend() opts.Legend {
	return opts.Legend{
		Show:      opts.Bool(true),
		Type:      "scroll",
		Top:       "12%",
		Left:      "center",
		TextStyle: &opts.TextStyle{Color: c.theme.TextMuted},
	}
}

// XAxis returns a category axis for revision labels.
func (c *ChartOpts) XAxis() opts.XAxis {
	return opts.XAxis{
		Type:      "category",
		AxisLabel: &opts.AxisLabel{Color: c.theme.TextMuted, Rotate: axisLabelRotate},
		AxisLine:  &opts.AxisLine{LineStyle: &opts.LineStyle{Color: c.theme.Axis}},
	}
}

// YAxis returns a value axis.
func (c *ChartOpts) YAxis(name string) opts.YAxis {
	return opts.YAxis{
		Name:      name,
		Type:      "value",
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: c.theme.TextMuted},
		AxisLine:  &opts.AxisLine{LineStyle: &opts.LineStyle{Color: c.theme.Axis}},
		SplitLine: &opts.SplitLine{
			Show:      opts.Bool(true),
			LineStyle: &opts.LineStyle{Color: c.theme.Grid},
		},
	}
}

// Grid leaves room for rotated revision labels.
func (c *ChartOpts) Grid() opts.Grid {
	return opts.Grid{
		Top:          "22%",
		Bottom:       "18%",
		Left:         "5%",
		Right:        "5%",
		ContainLabel: opts.Bool(true),
	}
}

// DataZoom returns slider and wheel zoom.
func (c *ChartOpts) DataZoom() []opts.DataZoom {
	return []opts.DataZoom{
		{Type: "slider", Start: 0, End: dataZoomEndPercent},
		{Type: "inside"},
	}
}

// Tooltip returns axis tooltips.
func (c *ChartOpts) Tooltip() opts.Tooltip {
	return opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}
}
