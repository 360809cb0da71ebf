package util

import (
	"fmt"
	"time"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatSize renders a byte count with a binary unit and at most one
// decimal, omitting it for whole values ("1 KB", "1.5 MB").
func FormatSize(size uint64) string {
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := uint64(1024), 1
	for n := size / 1024; n >= 1024 && exp < len(sizeUnits)-1; n /= 1024 {
		div *= 1024
		exp++
	}

	whole := size / div
	tenths := (size % div) * 10 / div
	if tenths == 0 {
		return fmt.Sprintf("%d %s", whole, sizeUnits[exp])
	}
	return fmt.Sprintf("%d.%d %s", whole, tenths, sizeUnits[exp])
}

// FormatRate renders a transfer rate in bytes per second.
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return FormatSize(uint64(bytesPerSecond)) + "/s"
}

// FormatDuration rounds d to whole seconds, or "-" when unknown.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return "<1s"
	}
	return d.Round(time.Second).String()
}
