package monitoring

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatCount renders n compactly: 999, 12.3K, 1.23M, 4.5B. Three
// significant digits are kept above a thousand.
func FormatCount(n uint64) string {
	switch {
	case n < 1_000:
		return strconv.FormatUint(n, 10)
	case n < 1_000_000:
		return scaled(float64(n)/1e3, "K")
	case n < 1_000_000_000:
		return scaled(float64(n)/1e6, "M")
	default:
		return scaled(float64(n)/1e9, "B")
	}
}

func scaled(v float64, unit string) string {
	var s string
	switch {
	case v >= 100:
		s = fmt.Sprintf("%.0f", v)
	case v >= 10:
		s = fmt.Sprintf("%.1f", v)
	default:
		s = fmt.Sprintf("%.2f", v)
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s + unit
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// FormatMB renders a size in megabytes with two decimals.
func FormatMB(mb float64) string {
	return fmt.Sprintf("%.2f MB", mb)
}
