package factstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS answers (
	opcode       TEXT NOT NULL,
	key          TEXT NOT NULL,
	kind         TEXT NOT NULL CHECK (kind IN ('value', 'failure')),
	payload      BLOB,
	truncated    INTEGER NOT NULL DEFAULT 0,
	failure_type TEXT NOT NULL DEFAULT '',
	failure_msg  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (opcode, key)
);
CREATE TABLE IF NOT EXISTS regions (
	space TEXT NOT NULL,
	start INTEGER NOT NULL,
	data  BLOB NOT NULL,
	PRIMARY KEY (space, start)
);
`

// openDB opens a SQLite database at path with WAL journaling and a 5-second
// busy timeout, then verifies the connection.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("factstore: migrate: %w", err)
	}
	return nil
}
