package store

import (
	"context"
	"database/sql"
)

// Table definitions match the schema registry's static descriptors
// column-for-column.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS player_rankings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_uid INTEGER NOT NULL,
		cid INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		score INTEGER,
		combo INTEGER,
		accuracy REAL,
		judge TEXT,
		observed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_player_rankings_cid ON player_rankings (cid, observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_player_rankings_uid ON player_rankings (player_uid, observed_at)`,
	`CREATE TABLE IF NOT EXISTS player_identity (
		uid INTEGER PRIMARY KEY,
		display_name TEXT NOT NULL,
		avatar_url TEXT,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS player_aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		closed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_player_aliases_uid ON player_aliases (uid)`,
	`CREATE TABLE IF NOT EXISTS charts (
		cid INTEGER PRIMARY KEY,
		sid INTEGER,
		mode INTEGER,
		status INTEGER,
		level TEXT,
		creator TEXT,
		last_updated TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS songs (
		sid INTEGER PRIMARY KEY,
		title TEXT,
		artist TEXT,
		cover_url TEXT,
		last_updated TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS import_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resource TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		observed_at TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates any missing tables. It is safe to run against an
// already-populated database.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return dbErr("ensure schema", err)
		}
	}
	return nil
}
