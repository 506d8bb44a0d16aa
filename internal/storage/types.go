package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a postgres URL
//   - "memory": nothing persists across restarts
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Clan is the durable per-channel tracker row.
type Clan struct {
	ChannelID       string
	Level           *int
	NextEncounterAt *time.Time
	StatusMessageID string
}

// KillRecord is one entry of a clan's kill log.
// Level is the level in effect before the kill incremented it.
type KillRecord struct {
	ID       int64
	KilledAt time.Time
	Level    *int
}

// Store is the persistence API used by the tracker.
type Store interface {
	// FetchOrCreateClan returns the clan for channelID, creating an empty row on first use.
	FetchOrCreateClan(ctx context.Context, channelID string) (Clan, error)
	UpdateClan(ctx context.Context, c Clan) error

	AppendKill(ctx context.Context, channelID string, k KillRecord) error
	// LastKills returns up to n records, newest first.
	LastKills(ctx context.Context, channelID string, n int) ([]KillRecord, error)
	// AmendLastKill replaces the most recent record (appends if there is none).
	AmendLastKill(ctx context.Context, channelID string, k KillRecord) error

	Close() error
}

func toMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
