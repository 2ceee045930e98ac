package monitor

import (
	"math/bits"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var sizeSuffixes = [...]string{"bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

var printer = message.NewPrinter(language.English)

// SizeSuffix formats a byte count with binary (1024) scaling and one decimal,
// e.g. 1536 -> "1.5 KB". Values <= 0 format as "0 bytes".
func SizeSuffix(value int64) string {
	if value <= 0 {
		return "0 bytes"
	}
	mag := (bits.Len64(uint64(value)) - 1) / 10
	adjusted := float64(value) / float64(uint64(1)<<(uint(mag)*10))
	return printer.Sprintf("%.1f %s", adjusted, sizeSuffixes[mag])
}

// RateString formats a bytes-per-second value.
func RateString(bps float64) string {
	return SizeSuffix(int64(bps)) + "/s"
}
