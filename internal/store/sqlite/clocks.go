package sqlite

import (
	"context"
	"database/sql"
)

// Get implements store.ClockStore (spec §4.1).
func (s *SyncStore) Get(ctx context.Context, watchRoot string) (string, bool, error) {
	var clock string
	err := s.db.QueryRowContext(ctx,
		`SELECT clock FROM clocks WHERE directory = ?`, watchRoot,
	).Scan(&clock)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return clock, true, nil
}

// Set implements store.ClockStore. dryRun makes it a no-op, the property
// reused by the whole sync engine (spec §4.1).
func (s *SyncStore) Set(ctx context.Context, watchRoot, clock string, dryRun bool) error {
	if dryRun {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clocks (directory, clock) VALUES (?, ?)
		ON CONFLICT(directory) DO UPDATE SET clock = excluded.clock
	`, watchRoot, clock)
	return err
}
