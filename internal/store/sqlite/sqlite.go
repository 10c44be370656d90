// Package sqlite implements store.Store on top of the embedded, pure-Go
// ncruces/go-sqlite3 driver, the way internal/storage/sqlite backs
// storage.Storage in the teacher project.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// SyncStore is the sqlite-backed store.Store implementation.
type SyncStore struct {
	db *sql.DB
}

var _ store.Store = (*SyncStore)(nil)

// Open opens (creating if absent) the state database at path and applies
// the schema. It does not touch PROCESSING rows; crash recovery is a
// separate ResetOrphanedProcessing call made by the daemon at startup.
func Open(ctx context.Context, path string) (*SyncStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// sqlite serializes writers regardless; a single connection avoids
	// SQLITE_BUSY storms between goroutines sharing this *sql.DB.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SyncStore{db: db}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SyncStore) Close() error {
	return s.db.Close()
}

// runInTx runs fn inside a transaction opened with the driver's default
// BEGIN, committing on success and rolling back on error.
func (s *SyncStore) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	// A single open connection (SetMaxOpenConns(1)) already serializes every
	// writer through this *sql.DB, giving BEGIN IMMEDIATE's guarantee
	// without needing the driver to expose an isolation-level knob for it.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
