// Package sqlite opens the application database and applies the embedded
// schema. A single file holds the report rows, the processed-files log,
// token usage counters and the job history.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

//go:embed migrations/001_initial.sql
var schema string

type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at dsn and brings the schema up.
// The write pattern is one analysis job inserting while HTTP handlers
// read, so WAL mode plus a busy timeout covers it. There is no migration
// versioning; the schema is idempotent CREATE IF NOT EXISTS statements.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Tests run against ":memory:", which in sqlite is per-connection.
	// Pin the pool to one connection there so the schema and later
	// queries hit the same database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{db}, nil
}
