package terminal

import "strings"

// Box drawing characters.
const (
	BoxHorizontal       = "─"
	BoxHeavyHorizontal  = "━"
	BoxHeavyVertical    = "┃"
	BoxHeavyTopLeft     = "┏"
	BoxHeavyTopRight    = "┓"
	BoxHeavyBottomLeft  = "┗"
	BoxHeavyBottomRight = "┛"
)

// DrawSeparator draws a thin horizontal line.
func DrawSeparator(width int) string {
	if width <= 0 {
		return ""
	}

	return strings.Repeat(BoxHorizontal, width)
}

// DrawHeader draws a heavy-bordered header with title on the left and
// right aligned to the border.
//
//	┏━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓
//	┃ benchtrail run       3 revisions ┃
//	┗━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛
func DrawHeader(title, right string, width int) string {
	titleLen, rightLen := len([]rune(title)), len([]rune(right))

	width = max(width, titleLen+rightLen+5)
	inner := width - 2
	gap := inner - 2 - titleLen - rightLen

	var b strings.Builder

	b.WriteString(BoxHeavyTopLeft + strings.Repeat(BoxHeavyHorizontal, inner) + BoxHeavyTopRight + "\n")
	b.WriteString(BoxHeavyVertical + " " + title + strings.Repeat(" ", gap) + right + " " + BoxHeavyVertical + "\n")
	b.WriteString(BoxHeavyBottomLeft + strings.Repeat(BoxHeavyHorizontal, inner) + BoxHeavyBottomRight)

	return b.String()
}
