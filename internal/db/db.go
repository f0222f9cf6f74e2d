// Package db is the sqlite-backed storage for positions and display
// thresholds.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrConflict reports a write that could not be serialised against a
	// concurrent writer, or a unique-key violation. Callers may retry.
	ErrConflict = errors.New("conflicting concurrent modification")

	// ErrInvalidEntry reports an entry with an empty label or a non-finite
	// value. The store refuses such entries rather than coercing them.
	ErrInvalidEntry = errors.New("invalid entry")
)

// pragmas applied to every pooled connection.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

type DB struct {
	*sql.DB

	path  string
	locks *keyedMutex
	now   func() time.Time
}

// NewDB opens the database at path and brings its schema up to date.
func NewDB(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens the database without touching its schema. The migrate command
// uses it to inspect or repair migration state.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}
	return &DB{
		DB:    sqlDB,
		path:  path,
		locks: newKeyedMutex(),
		now:   time.Now,
	}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// dsn builds a modernc connection string. Transactions begin IMMEDIATE so
// the write lock is taken before the read half of a read-merge-write.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// classify maps sqlite lock contention and uniqueness failures to
// ErrConflict and leaves everything else alone.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(serr.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
	}
	return err
}
