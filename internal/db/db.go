// Package db persists completed trajectory analyses in a local SQLite
// database and serves the read side of the HTTP API. The schema is managed
// by golang-migrate from the migrations/ directory.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// Pragmas go in the DSN so that every pooled connection gets them;
// foreign_keys in particular is per-connection state.
const pragmaDSN = "?_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=temp_store(MEMORY)" +
	"&_pragma=foreign_keys(ON)"

// NewDB opens (creating if necessary) the analysis database at path.
func NewDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", "file:"+path+pragmaDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{sqldb}, nil
}
