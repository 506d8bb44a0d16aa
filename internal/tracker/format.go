package tracker

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatDuration renders whole seconds as "1h 2m 3s".
//
// The seconds component is always present; minutes and hours only when non-zero.
// Negative values render with a leading '-'.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "-" + FormatDuration(-seconds)
	}
	parts := make([]string, 0, 3)
	h := seconds / 3600
	m := (seconds / 60) % 60
	s := seconds % 60
	if h > 0 {
		parts = append(parts, strconv.FormatInt(h, 10)+"h")
	}
	if m > 0 {
		parts = append(parts, strconv.FormatInt(m, 10)+"m")
	}
	parts = append(parts, strconv.FormatInt(s, 10)+"s")
	return strings.Join(parts, " ")
}

// wholeSeconds truncates d toward zero.
func wholeSeconds(d time.Duration) int64 { return int64(d / time.Second) }

// roundSeconds rounds d to the nearest second.
func roundSeconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}
