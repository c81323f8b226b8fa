package manifest

import (
	"github.com/dustin/go-humanize"
)

// FormatSize renders a byte count for display ("1.2 GiB"). Negative sizes are
// unknown.
func FormatSize(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}

// SizeString renders the entry size for display.
func (e Entry) SizeString() string {
	if e.Size <= 0 {
		return "unknown"
	}
	return FormatSize(int64(e.Size))
}
