package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "..."

// PadRight pads str with spaces to the given display width, truncating
// with an ellipsis when it does not fit.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, ellipsis)
	}
	return str + strings.Repeat(" ", width-w)
}

// PadLeft is PadRight with the padding in front, for numeric columns.
func PadLeft(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, ellipsis)
	}
	return strings.Repeat(" ", width-w) + str
}
