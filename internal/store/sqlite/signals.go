package sqlite

import (
	"context"
	"database/sql"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// SendSignal appends a signal row (spec §3, §4.2).
func (s *SyncStore) SendSignal(ctx context.Context, name store.SignalName) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (signal, created_at) VALUES (?, ?)`,
		string(name), nowMillis(),
	)
	return err
}

// PeekSignal reports whether a signal is queued without consuming it.
func (s *SyncStore) PeekSignal(ctx context.Context, name store.SignalName) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM signals WHERE signal = ? ORDER BY id ASC LIMIT 1`, string(name),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConsumeSignal atomically deletes and reports the oldest matching signal
// row, giving exactly-one delivery among sibling processes racing to
// consume the same signal (spec §4.2).
func (s *SyncStore) ConsumeSignal(ctx context.Context, name store.SignalName) (bool, error) {
	var consumed bool
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM signals WHERE signal = ? ORDER BY id ASC LIMIT 1`, string(name),
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		consumed = n == 1
		return nil
	})
	return consumed, err
}
