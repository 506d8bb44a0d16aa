package digest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "bosstracker/pkg/logx"
)

type countingPoster struct {
	n   atomic.Int32
	err error
}

func (p *countingPoster) QueryHistory(ctx context.Context) error {
	p.n.Add(1)
	return p.err
}

func TestParseSchedule(t *testing.T) {
	valid := []string{"@daily", "0 12 * * *", "30 0 12 * * *", "@every 1h"}
	for _, s := range valid {
		if _, err := ParseSchedule(s); err != nil {
			t.Fatalf("ParseSchedule(%q): %v", s, err)
		}
	}
	invalid := []string{"", "   ", "every day", "61 * * * *"}
	for _, s := range invalid {
		if _, err := ParseSchedule(s); err == nil {
			t.Fatalf("ParseSchedule(%q) accepted", s)
		}
	}
}

func TestNext(t *testing.T) {
	s, err := New(Config{Schedule: "0 0 12 * * *", Timezone: "UTC"}, &countingPoster{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Fatalf("Next = %v; want %v", got, want)
	}

	if _, err := New(Config{Schedule: "@daily", Timezone: "Nowhere/Land"}, &countingPoster{}, logx.Nop()); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestRunPosts(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"ok", nil},
		{"failure is logged", errors.New("storage down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &countingPoster{err: tc.err}
			s, err := New(Config{Schedule: "@hourly"}, p, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			s.run(context.Background())
			if got := p.n.Load(); got != 1 {
				t.Fatalf("posts=%d", got)
			}
		})
	}

	p := &countingPoster{}
	s, _ := New(Config{Schedule: "@hourly"}, p, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.run(ctx)
	if got := p.n.Load(); got != 0 {
		t.Fatalf("posted after cancel: %d", got)
	}
}

func TestStartStop(t *testing.T) {
	p := &countingPoster{}
	s, err := New(Config{Schedule: "* * * * * *"}, p, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx) // idempotent

	deadline := time.Now().Add(3 * time.Second)
	for p.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("digest never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	s.Stop(sctx)
	s.Stop(sctx)
}
