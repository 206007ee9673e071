package terminal

import "github.com/fatih/color"

// Color names a foreground color.
type Color int

// Colors.
const (
	ColorNone Color = iota
	ColorGreen
	ColorYellow
	ColorRed
	ColorBlue
	ColorGray
)

var attributes = map[Color]color.Attribute{
	ColorGreen:  color.FgGreen,
	ColorYellow: color.FgYellow,
	ColorRed:    color.FgRed,
	ColorBlue:   color.FgBlue,
	ColorGray:   color.FgHiBlack,
}

// Colorize wraps text in c unless color is disabled.
func (cfg Config) Colorize(text string, c Color) string {
	attr, ok := attributes[c]
	if cfg.NoColor || !ok {
		return text
	}

	painter := color.New(attr)
	painter.EnableColor()

	return painter.Sprint(text)
}

// Bold emphasizes text unless color is disabled.
func (cfg Config) Bold(text string) string {
	if cfg.NoColor {
		return text
	}

	painter := color.New(color.Bold)
	painter.EnableColor()

	return painter.Sprint(text)
}
