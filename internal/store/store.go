// Package store provides sqlite-backed persistence: statement execution for
// the query path and the crawl persistence sink.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver
)

// DatabaseError reports a persistence or query execution failure.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func dbErr(op string, err error) *DatabaseError {
	return &DatabaseError{Op: op, Err: err}
}

// Open connects to the sqlite database at path and applies connection
// pragmas. The relational schema is expected to exist already; EnsureSchema
// creates it when starting against a fresh file.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dbErr("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dbErr("ping", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, dbErr("pragma", err)
		}
	}
	return db, nil
}
