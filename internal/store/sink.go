package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ChuanYuanNotBoat/malody-api/internal/crawl"
)

// Sink upserts extracted record sets into the relational store. Ranking rows
// are append-only; alias history is versioned rather than overwritten.
type Sink struct {
	db     *sql.DB
	clock  crawl.Clock
	logger *zap.Logger
}

// NewSink constructs a Sink.
func NewSink(db *sql.DB, clock crawl.Clock, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{db: db, clock: clock, logger: logger}
}

// Persist writes one record set in a single transaction and records an
// import_metadata row for the observation.
func (s *Sink) Persist(ctx context.Context, records crawl.RecordSet) error {
	observed := records.ObservedAt
	if observed.IsZero() {
		observed = s.clock.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch records.Resource.Kind {
	case crawl.KindChart:
		err = s.persistChart(ctx, tx, records, observed)
	case crawl.KindSong:
		err = s.persistSong(ctx, tx, records, observed)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO import_metadata (resource, record_count, observed_at) VALUES (?, ?, ?)`,
		records.Resource.String(), len(records.Rankings)+len(records.Charts), fmtTime(observed),
	); err != nil {
		return dbErr("record import", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit", err)
	}
	s.logger.Debug("persisted crawl result",
		zap.String("resource", records.Resource.String()),
		zap.Int("rankings", len(records.Rankings)),
		zap.Int("charts", len(records.Charts)),
	)
	return nil
}

func (s *Sink) persistChart(ctx context.Context, tx *sql.Tx, records crawl.RecordSet, observed time.Time) error {
	if info := records.Chart; info != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO charts (cid, sid, last_updated) VALUES (?, ?, ?)
			ON CONFLICT (cid) DO UPDATE SET
				sid = excluded.sid,
				last_updated = excluded.last_updated`,
			info.ChartID, nullableID(info.SongID), fmtTime(observed),
		); err != nil {
			return dbErr("upsert chart", err)
		}
	}

	for _, row := range records.Rankings {
		// New observations are new rows; history is never rewritten.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO player_rankings (player_uid, cid, rank, score, combo, accuracy, judge, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.PlayerUID, records.Resource.ID, row.Rank, row.Score, row.Combo, row.Accuracy, row.Judge, fmtTime(observed),
		); err != nil {
			return dbErr("insert ranking", err)
		}
		if row.PlayerUID > 0 {
			if err := s.upsertAlias(ctx, tx, row.PlayerUID, row.PlayerName, row.AvatarURL, observed); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) persistSong(ctx context.Context, tx *sql.Tx, records crawl.RecordSet, observed time.Time) error {
	if info := records.Song; info != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO songs (sid, title, artist, cover_url, last_updated) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (sid) DO UPDATE SET
				title = excluded.title,
				artist = excluded.artist,
				cover_url = excluded.cover_url,
				last_updated = excluded.last_updated`,
			info.SongID, info.Title, info.Artist, info.CoverURL, fmtTime(observed),
		); err != nil {
			return dbErr("upsert song", err)
		}
	}

	for _, chart := range records.Charts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO charts (cid, sid, mode, status, level, creator, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (cid) DO UPDATE SET
				sid = excluded.sid,
				mode = excluded.mode,
				status = excluded.status,
				level = excluded.level,
				creator = excluded.creator,
				last_updated = excluded.last_updated`,
			chart.ChartID, records.Resource.ID, chart.Mode, chart.Status, chart.Level, chart.Creator, fmtTime(observed),
		); err != nil {
			return dbErr("upsert song chart", err)
		}
	}
	return nil
}

// upsertAlias maintains the alias history: an unchanged display name only
// bumps last_seen, a changed one closes the current alias and opens a new
// one. Exactly one alias per player has no close time.
func (s *Sink) upsertAlias(ctx context.Context, tx *sql.Tx, uid int64, name, avatar string, observed time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_identity (uid, display_name, avatar_url, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			last_seen = excluded.last_seen`,
		uid, name, avatar, fmtTime(observed), fmtTime(observed),
	); err != nil {
		return dbErr("upsert identity", err)
	}

	var (
		aliasID int64
		current string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, display_name FROM player_aliases WHERE uid = ? AND closed_at IS NULL`,
		uid,
	).Scan(&aliasID, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_aliases (uid, display_name, first_seen, last_seen) VALUES (?, ?, ?, ?)`,
			uid, name, fmtTime(observed), fmtTime(observed),
		); err != nil {
			return dbErr("open alias", err)
		}
	case err != nil:
		return dbErr("select alias", err)
	case current == name:
		if _, err := tx.ExecContext(ctx,
			`UPDATE player_aliases SET last_seen = ? WHERE id = ?`,
			fmtTime(observed), aliasID,
		); err != nil {
			return dbErr("touch alias", err)
		}
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE player_aliases SET closed_at = ?, last_seen = ? WHERE id = ?`,
			fmtTime(observed), fmtTime(observed), aliasID,
		); err != nil {
			return dbErr("close alias", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_aliases (uid, display_name, first_seen, last_seen) VALUES (?, ?, ?, ?)`,
			uid, name, fmtTime(observed), fmtTime(observed),
		); err != nil {
			return dbErr("open alias", err)
		}
	}
	return nil
}

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

// fmtTime renders timestamps in the canonical stored form. RFC 3339 UTC
// strings sort chronologically, so range filters compare correctly.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
