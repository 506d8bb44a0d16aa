package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	logx "bosstracker/pkg/logx"
)

// sqlStore implements Store on database/sql for both sqlite and postgres.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect string

	onClose func() error
}

func (s *sqlStore) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context, schema string) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.onClose != nil {
		if e := s.onClose(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (s *sqlStore) FetchOrCreateClan(ctx context.Context, channelID string) (Clan, error) {
	if s == nil || s.db == nil {
		return Clan{}, ErrClosed
	}
	if _, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO clans(channel_id) VALUES(?) ON CONFLICT(channel_id) DO NOTHING`),
		channelID,
	); err != nil {
		return Clan{}, err
	}

	var (
		level  sql.NullInt64
		next   sql.NullInt64
		status sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT level, next_encounter_at, status_message_id FROM clans WHERE channel_id = ?`),
		channelID,
	).Scan(&level, &next, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Clan{}, ErrNotFound
	}
	if err != nil {
		return Clan{}, err
	}

	c := Clan{ChannelID: channelID, StatusMessageID: status.String}
	if level.Valid {
		v := int(level.Int64)
		c.Level = &v
	}
	if next.Valid {
		t := fromMillis(next.Int64)
		c.NextEncounterAt = &t
	}
	return c, nil
}

func (s *sqlStore) UpdateClan(ctx context.Context, c Clan) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE clans SET level = ?, next_encounter_at = ?, status_message_id = ? WHERE channel_id = ?`),
		nullInt(c.Level), toMillis(c.NextEncounterAt), nullStr(c.StatusMessageID), c.ChannelID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) AppendKill(ctx context.Context, channelID string, k KillRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO kills(channel_id, killed_at, level) VALUES(?,?,?)`),
		channelID, k.KilledAt.UnixMilli(), nullInt(k.Level),
	)
	return err
}

func (s *sqlStore) LastKills(ctx context.Context, channelID string, n int) ([]KillRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, killed_at, level FROM kills WHERE channel_id = ? ORDER BY id DESC LIMIT ?`),
		channelID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]KillRecord, 0, n)
	for rows.Next() {
		var (
			k     KillRecord
			ms    int64
			level sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &ms, &level); err != nil {
			return nil, err
		}
		k.KilledAt = fromMillis(ms)
		if level.Valid {
			v := int(level.Int64)
			k.Level = &v
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *sqlStore) AmendLastKill(ctx context.Context, channelID string, k KillRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var id sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		s.q(`SELECT MAX(id) FROM kills WHERE channel_id = ?`),
		channelID,
	).Scan(&id); err != nil {
		return err
	}
	if id.Valid {
		_, err = tx.ExecContext(ctx,
			s.q(`UPDATE kills SET killed_at = ?, level = ? WHERE id = ?`),
			k.KilledAt.UnixMilli(), nullInt(k.Level), id.Int64,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			s.q(`INSERT INTO kills(channel_id, killed_at, level) VALUES(?,?,?)`),
			channelID, k.KilledAt.UnixMilli(), nullInt(k.Level),
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
