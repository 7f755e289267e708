// Package settings persists the preamble registry and folder bindings in SQLite.
package settings

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS preambles (
	path TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS folder_preambles (
	folder_path   TEXT PRIMARY KEY,
	preamble_path TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_folder_preambles_target ON folder_preambles(preamble_path);
`

// DB wraps a sql.DB with settings-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("settings: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
