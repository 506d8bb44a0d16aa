package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	closed bool
	clans  map[string]Clan
	kills  map[string][]KillRecord
	nextID int64
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memoryStore{clans: map[string]Clan{}, kills: map[string][]KillRecord{}}
}

func (s *memoryStore) FetchOrCreateClan(ctx context.Context, channelID string) (Clan, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Clan{}, ErrClosed
	}
	c, ok := s.clans[channelID]
	if !ok {
		c = Clan{ChannelID: channelID}
		s.clans[channelID] = c
	}
	return cloneClan(c), nil
}

func (s *memoryStore) UpdateClan(ctx context.Context, c Clan) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.clans[c.ChannelID]; !ok {
		return ErrNotFound
	}
	s.clans[c.ChannelID] = cloneClan(c)
	return nil
}

func (s *memoryStore) AppendKill(ctx context.Context, channelID string, k KillRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.clans[channelID]; !ok {
		return ErrNotFound
	}
	s.nextID++
	k.ID = s.nextID
	s.kills[channelID] = append(s.kills[channelID], cloneKill(k))
	return nil
}

func (s *memoryStore) LastKills(ctx context.Context, channelID string, n int) ([]KillRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	log := s.kills[channelID]
	out := make([]KillRecord, 0, min(n, len(log)))
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneKill(log[i]))
	}
	return out, nil
}

func (s *memoryStore) AmendLastKill(ctx context.Context, channelID string, k KillRecord) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	log := s.kills[channelID]
	if len(log) == 0 {
		s.mu.Unlock()
		return s.AppendKill(ctx, channelID, k)
	}
	k.ID = log[len(log)-1].ID
	log[len(log)-1] = cloneKill(k)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneClan(c Clan) Clan {
	if c.Level != nil {
		v := *c.Level
		c.Level = &v
	}
	if c.NextEncounterAt != nil {
		v := *c.NextEncounterAt
		c.NextEncounterAt = &v
	}
	return c
}

func cloneKill(k KillRecord) KillRecord {
	if k.Level != nil {
		v := *k.Level
		k.Level = &v
	}
	return k
}
