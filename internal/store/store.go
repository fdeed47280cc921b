// Package store persists workflow run records in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrRunNotFound indicates a run ID with no record behind it.
var ErrRunNotFound = errors.New("run not found")

// Store reads and writes run records. Reads go through rdb, writes
// through the single-connection rwdb.
type Store struct {
	rdb    *sql.DB
	rwdb   *sql.DB
	logger *slog.Logger
}

func NewStore(rdb, rwdb *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		rdb:    rdb,
		rwdb:   rwdb,
		logger: logger.With("module", "store"),
	}
}

// Open opens the read and write handles for one database and applies
// pending migrations.
func Open(readDSN, writeDSN string, logger *slog.Logger) (*Store, error) {
	rwdb, err := OpenDatabase(writeDSN, false)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(rwdb); err != nil {
		_ = rwdb.Close()

		return nil, err
	}

	rdb, err := OpenDatabase(readDSN, true)
	if err != nil {
		_ = rwdb.Close()

		return nil, err
	}

	return NewStore(rdb, rwdb, logger), nil
}

func (s *Store) Close() error {
	err := s.rdb.Close()

	if werr := s.rwdb.Close(); werr != nil {
		return werr
	}

	return err
}

// HealthCheck reports whether both database handles answer.
func (s *Store) HealthCheck(ctx context.Context) (string, bool) {
	if err := s.rdb.PingContext(ctx); err != nil {
		return fmt.Sprintf("read handle: %v", err), false
	}

	if err := s.rwdb.PingContext(ctx); err != nil {
		return fmt.Sprintf("write handle: %v", err), false
	}

	return "sqlite reachable", true
}

// NewID mints a record ID such as "run-1a2b3c4d".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
