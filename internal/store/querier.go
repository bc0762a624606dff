package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ChuanYuanNotBoat/malody-api/internal/query"
)

// Querier executes bound statements from the query builder and the fixed
// lookup queries that fall outside QuerySpec (aggregations).
type Querier struct {
	db *sql.DB
}

// NewQuerier constructs a Querier.
func NewQuerier(db *sql.DB) *Querier {
	return &Querier{db: db}
}

// Select runs a builder-produced statement and returns rows as column-keyed
// maps, suitable for JSON serialization at the boundary.
func (q *Querier) Select(ctx context.Context, stmt query.BoundStatement) ([]map[string]any, error) {
	rows, err := q.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, dbErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dbErr("columns", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dbErr("scan", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("rows", err)
	}
	return out, nil
}

// SongSearchResult is one hit of a song search.
type SongSearchResult struct {
	SongID      int64  `json:"sid"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	ChartCount  int64  `json:"chart_count"`
	StableCount int64  `json:"stable_count"`
}

// SearchSongs matches songs by title or artist substring, ranked by how many
// stable charts they carry.
func (q *Querier) SearchSongs(ctx context.Context, term string, limit int) ([]SongSearchResult, error) {
	pattern := "%" + term + "%"
	rows, err := q.db.QueryContext(ctx, `
		SELECT s.sid, s.title, s.artist,
		       COUNT(DISTINCT c.cid) AS chart_count,
		       COUNT(DISTINCT CASE WHEN c.status = 2 THEN c.cid END) AS stable_count
		FROM songs s
		LEFT JOIN charts c ON s.sid = c.sid
		WHERE s.title LIKE ? OR s.artist LIKE ?
		GROUP BY s.sid, s.title, s.artist
		ORDER BY stable_count DESC, chart_count DESC
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, dbErr("search songs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SongSearchResult
	for rows.Next() {
		var r SongSearchResult
		var title, artist sql.NullString
		if err := rows.Scan(&r.SongID, &title, &artist, &r.ChartCount, &r.StableCount); err != nil {
			return nil, dbErr("scan song", err)
		}
		r.Title = title.String
		r.Artist = artist.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("rows", err)
	}
	return out, nil
}

// RecentSong is one row of the recently-updated listing.
type RecentSong struct {
	SongID      int64     `json:"sid"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	LastUpdated time.Time `json:"last_updated"`
}

// RecentSongs lists songs whose charts were updated most recently.
func (q *Querier) RecentSongs(ctx context.Context, limit int) ([]RecentSong, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT s.sid, s.title, s.artist, MAX(c.last_updated) AS last_updated
		FROM songs s
		JOIN charts c ON s.sid = c.sid
		WHERE c.last_updated IS NOT NULL
		GROUP BY s.sid, s.title, s.artist
		ORDER BY last_updated DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, dbErr("recent songs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecentSong
	for rows.Next() {
		var r RecentSong
		var title, artist, updated sql.NullString
		if err := rows.Scan(&r.SongID, &title, &artist, &updated); err != nil {
			return nil, dbErr("scan recent", err)
		}
		r.Title = title.String
		r.Artist = artist.String
		// Aggregated columns come back untyped; timestamps are stored RFC 3339.
		if updated.Valid {
			if ts, err := time.Parse(time.RFC3339, updated.String); err == nil {
				r.LastUpdated = ts
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("rows", err)
	}
	return out, nil
}
