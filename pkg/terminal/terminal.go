// Package terminal renders run progress and headers for CLI output.
package terminal

import (
	"io"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/Sumatoshi-tech/benchtrail/pkg/safeconv"
)

// Width bounds.
const (
	DefaultWidth = 80
	MinWidth     = 60
	MaxWidth     = 120
)

// Config holds terminal rendering configuration.
type Config struct {
	Width int
	// NoColor disables ANSI sequences.
	NoColor bool
	// Interactive is true when output goes to a terminal.
	Interactive bool
}

// NewConfig inspects w. Color is only used on a terminal and never when
// NO_COLOR is set.
func NewConfig(w io.Writer) Config {
	interactive := IsTerminal(w)

	return Config{
		Width:       DetectWidth(w),
		NoColor:     !interactive || os.Getenv("NO_COLOR") != "",
		Interactive: interactive,
	}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return term.IsTerminal(safeconv.FdToInt(f.Fd()))
}

// DetectWidth asks the terminal behind w, then $COLUMNS, and clamps the
// answer to [MinWidth, MaxWidth].
func DetectWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		width, _, err := term.GetSize(safeconv.FdToInt(f.Fd()))
		if err == nil && width > 0 {
			return clampWidth(width)
		}
	}

	columns, err := strconv.Atoi(os.Getenv("COLUMNS"))
	if err != nil || columns <= 0 {
		return DefaultWidth
	}

	return clampWidth(columns)
}

func clampWidth(width int) int {
	return min(max(width, MinWidth), MaxWidth)
}
