package tracker

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0s"},
		{59, "59s"},
		{75, "1m 15s"},
		{3600, "1h 0s"},
		{3661, "1h 1m 1s"},
		{3 * 3600, "3h 0s"},
		{26*3600 + 5, "26h 5s"},
		{-75, "-1m 15s"},
	}
	for _, tc := range tests {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Errorf("FormatDuration(%d)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSecondsRounding(t *testing.T) {
	if got := wholeSeconds(1999 * time.Millisecond); got != 1 {
		t.Fatalf("wholeSeconds=%d", got)
	}
	if got := roundSeconds(1500 * time.Millisecond); got != 2 {
		t.Fatalf("roundSeconds=%d", got)
	}
	if got := roundSeconds(-1500 * time.Millisecond); got != -2 {
		t.Fatalf("roundSeconds(negative)=%d", got)
	}
}

func TestBonusString(t *testing.T) {
	lv := func(v int) *int { return &v }
	tests := []struct {
		name  string
		level *int
		want  string
	}{
		{"unset", nil, "unknown"},
		{"zero", lv(0), "0.00%"},
		{"six", lv(6), "77.16%"},
		{"eleven", lv(11), "185.31%"},
		{"fifty", lv(50), "11.64K%"},
		{"past cap", lv(230), "82.08B%"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := BonusString(tc.level); got != tc.want {
				t.Fatalf("BonusString=%q want %q", got, tc.want)
			}
		})
	}
}

func TestWithSuffixStopsAtLastSuffix(t *testing.T) {
	got := withSuffix(5e31)
	if want := "50000.00ae"; got != want {
		t.Fatalf("withSuffix=%q want %q", got, want)
	}
}
