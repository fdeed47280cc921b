package store

import (
	"database/sql"
	"fmt"
	"runtime"

	_ "modernc.org/sqlite"
)

// OpenDatabase opens one sqlite handle. The write handle is capped at a
// single connection because sqlite allows one writer at a time; read
// handles scale with the CPU count.
func OpenDatabase(dsn string, readonly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))

		return db, nil
	}

	if _, err := db.Exec("PRAGMA temp_store = memory"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set temp_store: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(1)

	return db, nil
}
