package tracker

import (
	"math"
	"strconv"
)

const bonusLevelCap = 200

var bonusSuffixes = []string{"K", "M", "B", "T", "aa", "ab", "ac", "ad", "ae"}

// BonusPercent returns the raw clan bonus percentage for level.
func BonusPercent(level int) float64 {
	if level < 0 {
		level = 0
	}
	eff := level
	over := 0
	if eff > bonusLevelCap {
		over = eff - bonusLevelCap
		eff = bonusLevelCap
	}
	bonus := math.Pow(1.05, float64(over)) * math.Pow(1.10, float64(eff))
	return (bonus - 1) * 100
}

// BonusString formats the bonus for level as e.g. "11.64K%".
// A nil level renders as "unknown".
func BonusString(level *int) string {
	if level == nil {
		return "unknown"
	}
	return withSuffix(BonusPercent(*level)) + "%"
}

func withSuffix(n float64) string {
	pos := -1
	for n > 1000 && pos < len(bonusSuffixes)-1 {
		pos++
		n /= 1000
	}
	out := strconv.FormatFloat(n, 'f', 2, 64)
	if pos >= 0 {
		out += bonusSuffixes[pos]
	}
	return out
}
