package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// SetFlag implements store.FlagBus (spec §4.2).
func (s *SyncStore) SetFlag(ctx context.Context, name store.FlagName, variant string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flags (name, variant, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET variant = excluded.variant, updated_at = excluded.updated_at
	`, string(name), variant, nowMillis())
	return err
}

// ClearFlag removes the flag row entirely, treating "absent" as "not set".
func (s *SyncStore) ClearFlag(ctx context.Context, name store.FlagName) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flags WHERE name = ?`, string(name))
	return err
}

// HasFlag implements store.FlagBus.
func (s *SyncStore) HasFlag(ctx context.Context, name store.FlagName) (bool, error) {
	_, ok, err := s.GetFlagData(ctx, name)
	return ok, err
}

// GetFlagData implements store.FlagBus.
func (s *SyncStore) GetFlagData(ctx context.Context, name store.FlagName) (string, bool, error) {
	var variant string
	err := s.db.QueryRowContext(ctx,
		`SELECT variant FROM flags WHERE name = ?`, string(name),
	).Scan(&variant)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return variant, true, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
