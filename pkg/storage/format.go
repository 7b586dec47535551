package storage

import (
	"fmt"
)

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders n with base 1024 units and two decimals
func FormatBytes(n int64) string {
	switch {
	case n == Unbounded:
		return "∞"
	case n <= 0:
		return "0 B"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[i])
}
