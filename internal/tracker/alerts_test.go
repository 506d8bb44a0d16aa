package tracker

import (
	"reflect"
	"testing"
	"time"
)

var stdThresholds = []time.Duration{2 * time.Minute, 15 * time.Minute, 5 * time.Minute}

func TestAlertSchedulerArm(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		want      []time.Duration
	}{
		{"all ahead", 16 * time.Minute, []time.Duration{15 * time.Minute, 5 * time.Minute, 2 * time.Minute}},
		{"exactly on threshold drops it", 15 * time.Minute, []time.Duration{5 * time.Minute, 2 * time.Minute}},
		{"inside last window keeps floor", 30 * time.Second, []time.Duration{2 * time.Minute}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAlertScheduler(stdThresholds)
			a.Arm(tc.remaining)
			if got := a.Pending(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("pending=%v want %v", got, tc.want)
			}
		})
	}
}

func TestAlertSchedulerFiresOncePerThreshold(t *testing.T) {
	a := NewAlertScheduler(stdThresholds)
	a.Arm(16 * time.Minute)

	steps := []struct {
		remaining time.Duration
		fire      bool
	}{
		{15*time.Minute + 30*time.Second, false},
		{15 * time.Minute, true},
		{14*time.Minute + 59*time.Second, false},
		{14 * time.Minute, false},
		{5 * time.Minute, true},
		{5 * time.Minute, false},
		{4 * time.Minute, false},
		{time.Minute, true},
		{0, false},
	}
	for i, s := range steps {
		if got := a.Step(s.remaining); got != s.fire {
			t.Fatalf("step %d (%s): fired=%v want %v", i, s.remaining, got, s.fire)
		}
	}
}

func TestAlertSchedulerLongGapFiresOnce(t *testing.T) {
	a := NewAlertScheduler(stdThresholds)
	a.Arm(20 * time.Minute)

	if !a.Step(90 * time.Second) {
		t.Fatalf("expected a single alert after a long gap")
	}
	if len(a.Pending()) != 0 {
		t.Fatalf("skipped thresholds must be dropped: %v", a.Pending())
	}
	if a.Step(0) {
		t.Fatalf("nothing left to fire")
	}
}

func TestAlertSchedulerDisarm(t *testing.T) {
	a := NewAlertScheduler(stdThresholds)
	a.Arm(time.Hour)
	a.Disarm()
	if a.Step(0) {
		t.Fatalf("disarmed scheduler fired")
	}
}

func TestAlertSchedulerIgnoresNonPositive(t *testing.T) {
	a := NewAlertScheduler([]time.Duration{0, -time.Minute, time.Minute})
	a.Arm(time.Hour)
	if got, want := a.Pending(), []time.Duration{time.Minute}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pending=%v want %v", got, want)
	}
}
