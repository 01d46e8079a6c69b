// Package store persists watermarks, job history and local-org
// opportunities in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyperengineering/oppsync/internal/org"
)

// tsLayout is fixed-width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is one SQLite database. The same schema serves the state
// database (watermarks, job history) and each local org (opportunities).
type SQLiteStore struct {
	db   *sql.DB
	path string

	// Now is the store clock used for LastModifiedDate. Defaults to time.Now.
	Now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath+connPragmas)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, Now: time.Now}, nil
}

// connPragmas are applied by the driver on every pooled connection.
// Transactions begin IMMEDIATE so a writer holds the database write lock
// before it reads anything it derives a write from.
const connPragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextModified returns the LastModifiedDate for a write inside tx: the
// store clock, pushed past the newest stored modification so timestamps
// strictly increase across every handle and process sharing the file.
// tx must hold the write lock.
func (s *SQLiteStore) nextModified(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	now := s.Now().UTC().Truncate(time.Millisecond)

	var newest sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT MAX(last_modified_date) FROM opportunities`).Scan(&newest)
	if err != nil {
		return time.Time{}, fmt.Errorf("read newest modification: %w", classify(err))
	}
	if !newest.Valid {
		return now, nil
	}
	last, err := parseTime(newest.String)
	if err != nil {
		return time.Time{}, err
	}
	if !now.After(last) {
		now = last.Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return now, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		// tolerate values written by hand in RFC 3339
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t, nil
}

// classify marks lock contention as transient so writers retry it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return org.Transient(err)
	}
	return err
}
