package terminal

import "strings"

// Ellipsis is appended to truncated strings.
const Ellipsis = "..."

// Truncate shortens s to maxWidth runes, ending with Ellipsis when cut.
func Truncate(s string, maxWidth int) string {
	runes := []rune(s)
	if len(runes) <= maxWidth {
		return s
	}

	if maxWidth <= len(Ellipsis) {
		return strings.Repeat(".", max(maxWidth, 0))
	}

	return string(runes[:maxWidth-len(Ellipsis)]) + Ellipsis
}

// PadRight pads s with spaces to width.
func PadRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}

	return s + strings.Repeat(" ", width-n)
}
