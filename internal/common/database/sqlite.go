package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLite opens a file-backed SQLite database with foreign keys and WAL enabled.
func NewSQLite(path string) (*SQLClient, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	return &SQLClient{DB: db, Dialect: DialectSQLite}, nil
}
