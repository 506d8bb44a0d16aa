package tracker

import (
	"sort"
	"time"
)

// AlertScheduler tracks the pre-deadline alert thresholds left in the current
// arming cycle.
//
// Thresholds are lead times before the deadline (e.g. 15m, 5m, 2m). A step pops
// every threshold the remaining time has reached and fires at most once; skipped
// intermediate thresholds are dropped, never queued.
type AlertScheduler struct {
	thresholds []time.Duration // descending, immutable
	pending    []time.Duration
}

func NewAlertScheduler(thresholds []time.Duration) *AlertScheduler {
	cp := make([]time.Duration, 0, len(thresholds))
	for _, t := range thresholds {
		if t > 0 {
			cp = append(cp, t)
		}
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i] > cp[j] })
	return &AlertScheduler{thresholds: cp}
}

// Arm starts a new cycle. Thresholds not strictly below remaining are dropped,
// except the smallest, which is always kept so at least one alert can fire.
func (a *AlertScheduler) Arm(remaining time.Duration) {
	a.pending = a.pending[:0]
	for _, t := range a.thresholds {
		if t < remaining {
			a.pending = append(a.pending, t)
		}
	}
	if len(a.pending) == 0 && len(a.thresholds) > 0 {
		a.pending = append(a.pending, a.thresholds[len(a.thresholds)-1])
	}
}

// Step pops every pending threshold >= remaining and reports whether anything
// was popped.
func (a *AlertScheduler) Step(remaining time.Duration) bool {
	fired := false
	for len(a.pending) > 0 && remaining <= a.pending[0] {
		a.pending = a.pending[1:]
		fired = true
	}
	return fired
}

// Disarm clears the current cycle.
func (a *AlertScheduler) Disarm() { a.pending = a.pending[:0] }

// Pending returns a copy of the thresholds left in the current cycle.
func (a *AlertScheduler) Pending() []time.Duration {
	return append([]time.Duration(nil), a.pending...)
}
