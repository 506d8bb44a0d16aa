// Package digest posts the kill history to the channel on a cron schedule.
package digest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "bosstracker/pkg/logx"
)

// Poster publishes the history table to the tracked channel.
type Poster interface {
	QueryHistory(ctx context.Context) error
}

type Config struct {
	// Schedule is a cron spec; 5 fields, 6 fields with seconds, or a descriptor like "@daily".
	Schedule string
	Timezone string
	Timeout  time.Duration
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates spec and returns the cron schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("digest.schedule %q: %w", spec, err)
	}
	return s, nil
}

type Service struct {
	cfg   Config
	sched cron.Schedule
	loc   *time.Location
	post  Poster
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, post Poster, log logx.Logger) (*Service, error) {
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("digest.timezone: %w", err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		sched: sched,
		loc:   loc,
		post:  post,
		log:   log.With(logx.String("comp", "digest")),
	}, nil
}

// Next returns the first run after t.
func (s *Service) Next(t time.Time) time.Time { return s.sched.Next(t.In(s.loc)) }

// Start begins the schedule. Runs are bounded by ctx and cfg.Timeout.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithLocation(s.loc))
	s.c.Schedule(s.sched, cron.FuncJob(func() { s.run(ctx) }))
	s.c.Start()
	s.log.Info("digest scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.Next(time.Now())),
	)
}

// Stop halts the schedule and waits for a running post, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in digest", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := s.post.QueryHistory(ctx); err != nil {
		s.log.Warn("digest failed", logx.Err(err))
		return
	}
	s.log.Debug("digest posted", logx.Duration("dur", time.Since(start)))
}
