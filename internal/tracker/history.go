package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bosstracker/internal/storage"
)

// KillHistory is the channel-scoped view of the durable kill log.
type KillHistory struct {
	store     storage.Store
	channelID string
}

func NewKillHistory(store storage.Store, channelID string) *KillHistory {
	return &KillHistory{store: store, channelID: channelID}
}

func (h *KillHistory) Append(ctx context.Context, at time.Time, level *int) error {
	return h.store.AppendKill(ctx, h.channelID, storage.KillRecord{KilledAt: at, Level: copyInt(level)})
}

// ReplaceLast amends the newest record, or appends when the log is empty.
func (h *KillHistory) ReplaceLast(ctx context.Context, at time.Time, level *int) error {
	return h.store.AmendLastKill(ctx, h.channelID, storage.KillRecord{KilledAt: at, Level: copyInt(level)})
}

// Last returns up to n records, newest first.
func (h *KillHistory) Last(ctx context.Context, n int) ([]storage.KillRecord, error) {
	return h.store.LastKills(ctx, h.channelID, n)
}

// CorrectLastLevel rewrites the newest record's level when it differs from level.
// An empty log is left alone.
func (h *KillHistory) CorrectLastLevel(ctx context.Context, level int) error {
	recs, err := h.Last(ctx, 1)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	last := recs[0]
	if last.Level != nil && *last.Level == level {
		return nil
	}
	return h.store.AmendLastKill(ctx, h.channelID, storage.KillRecord{KilledAt: last.KilledAt, Level: &level})
}

// RenderHistory renders newest-first records as a fixed-width table of fight
// durations. level is the current clan level, used to number the rows.
// ok is false when fewer than two records exist.
func RenderHistory(newestFirst []storage.KillRecord, level *int, fixedDelay time.Duration) (string, bool) {
	n := len(newestFirst)
	if n < 2 {
		return "", false
	}
	var b strings.Builder
	b.WriteString("```\n")
	for i := 1; i < n; i++ {
		prev := newestFirst[n-i]
		curr := newestFirst[n-i-1]
		num := i
		if level != nil {
			num = *level - n + i
		}
		elapsed := roundSeconds(curr.KilledAt.Sub(prev.KilledAt) - fixedDelay)
		fmt.Fprintf(&b, "Boss %3d - %s\n", num, FormatDuration(elapsed))
	}
	b.WriteString("```")
	return b.String(), true
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
