package sqlite

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// Enqueue appends a PENDING job, applying the supersedure rules from
// spec §4.3 when a PENDING row already exists for local_path.
func (s *SyncStore) Enqueue(ctx context.Context, job store.NewJob, dryRun bool) error {
	if dryRun {
		return nil
	}
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		now := nowMillis()

		if job.EventType == store.EventMove {
			// MOVE never coalesces with a non-MOVE row for the same path.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sync_jobs (event_type, local_path, remote_path, old_remote_path, status, retry_at, n_retries, created_at)
				VALUES (?, ?, ?, ?, 'PENDING', ?, 0, ?)
			`, string(store.EventMove), job.LocalPath, job.RemotePath, job.OldRemotePath, now, now)
			return err
		}

		var existingID int64
		var existingType store.EventType
		err := tx.QueryRowContext(ctx, `
			SELECT id, event_type FROM sync_jobs
			WHERE local_path = ? AND status = 'PENDING' AND event_type != 'MOVE'
			LIMIT 1
		`, job.LocalPath).Scan(&existingID, &existingType)

		switch {
		case err == sql.ErrNoRows:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sync_jobs (event_type, local_path, remote_path, status, retry_at, n_retries, created_at)
				VALUES (?, ?, ?, 'PENDING', ?, 0, ?)
			`, string(job.EventType), job.LocalPath, job.RemotePath, now, now)
			return err

		case err != nil:
			return err

		default:
			newType := coalesce(existingType, job.EventType)
			_, err := tx.ExecContext(ctx, `
				UPDATE sync_jobs
				SET event_type = ?, remote_path = ?, retry_at = ?, n_retries = 0, last_error = NULL
				WHERE id = ?
			`, string(newType), job.RemotePath, now, existingID)
			return err
		}
	})
}

// coalesce applies the supersedure table from spec §4.3 for two non-MOVE
// event types on the same path.
func coalesce(existing, incoming store.EventType) store.EventType {
	switch {
	case existing == store.EventDelete && (incoming == store.EventCreate || incoming == store.EventUpdate):
		return store.EventUpdate
	case incoming == store.EventDelete:
		// existing CREATE/UPDATE/DELETE + new DELETE -> DELETE
		return store.EventDelete
	default:
		// existing CREATE/UPDATE + new CREATE/UPDATE -> UPDATE
		return store.EventUpdate
	}
}

// GetNextPendingJob claims the oldest-eligible PENDING row by flipping it
// to PROCESSING in the same transaction as selection, so only the caller
// whose UPDATE affects exactly one row wins the job (spec §4.3).
func (s *SyncStore) GetNextPendingJob(ctx context.Context, now time.Time) (*store.Job, error) {
	var job *store.Job
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM sync_jobs
			WHERE status = 'PENDING' AND retry_at <= ?
			ORDER BY retry_at ASC, id ASC
			LIMIT 1
		`, now.UnixMilli()).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sync_jobs SET status = 'PROCESSING' WHERE id = ? AND status = 'PENDING'
		`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			// Lost the race to another claimant; caller retries next tick.
			return nil
		}

		j, err := scanJob(tx.QueryRowContext(ctx, jobSelectSQL+" WHERE id = ?", id))
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// MarkSynced transitions PROCESSING -> SYNCED (spec §4.3).
func (s *SyncStore) MarkSynced(ctx context.Context, id int64, dryRun bool) error {
	if dryRun {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'SYNCED', last_error = NULL WHERE id = ? AND status = 'PROCESSING'
	`, id)
	return err
}

// ScheduleRetry transitions PROCESSING -> PENDING with an exponential
// backoff + jitter retry_at (spec §4.3). jitter defaults to a uniform
// draw over [0, 0.5*base_delay] when nil.
func (s *SyncStore) ScheduleRetry(ctx context.Context, id int64, errMsg string, dryRun bool, jitter func(time.Duration) time.Duration) error {
	if dryRun {
		return nil
	}
	if jitter == nil {
		jitter = defaultJitter
	}
	return s.runInTx(ctx, func(tx *sql.Tx) error {
		var nRetries int
		if err := tx.QueryRowContext(ctx, `SELECT n_retries FROM sync_jobs WHERE id = ?`, id).Scan(&nRetries); err != nil {
			return err
		}
		base := backoffDelay(nRetries)
		retryAt := time.Now().Add(base + jitter(base))
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_jobs
			SET status = 'PENDING', retry_at = ?, n_retries = n_retries + 1, last_error = ?
			WHERE id = ? AND status = 'PROCESSING'
		`, retryAt.UnixMilli(), errMsg, id)
		return err
	})
}

// backoffDelay computes BASE*2^n clipped to [BASE, MAX] (spec §4.3).
func backoffDelay(nRetries int) time.Duration {
	d := time.Duration(float64(store.RetryBase) * math.Pow(2, float64(nRetries)))
	if d > store.RetryMax {
		d = store.RetryMax
	}
	if d < store.RetryBase {
		d = store.RetryBase
	}
	return d
}

func defaultJitter(base time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(base)/2 + 1))
}

// MarkBlocked transitions PROCESSING -> BLOCKED (spec §4.3, §7).
func (s *SyncStore) MarkBlocked(ctx context.Context, id int64, errMsg string, dryRun bool) error {
	if dryRun {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'BLOCKED', last_error = ? WHERE id = ? AND status = 'PROCESSING'
	`, errMsg, id)
	return err
}

// GetCounts implements store.JobStore (spec §4.3).
func (s *SyncStore) GetCounts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch store.JobStatus(status) {
		case store.StatusPending:
			c.Pending = n
		case store.StatusProcessing:
			c.Processing = n
		case store.StatusSynced:
			c.Synced = n
		case store.StatusBlocked:
			c.Blocked = n
		}
	}
	return c, rows.Err()
}

const jobSelectSQL = `
	SELECT id, event_type, local_path, remote_path, old_remote_path, status, retry_at, n_retries, last_error, created_at
	FROM sync_jobs
`

// ListRecentSynced implements store.JobStore.
func (s *SyncStore) ListRecentSynced(ctx context.Context, limit int) ([]store.Job, error) {
	return s.queryJobs(ctx, jobSelectSQL+` WHERE status = 'SYNCED' ORDER BY id DESC LIMIT ?`, limit)
}

// ListBlocked implements store.JobStore.
func (s *SyncStore) ListBlocked(ctx context.Context) ([]store.Job, error) {
	return s.queryJobs(ctx, jobSelectSQL+` WHERE status = 'BLOCKED' ORDER BY id ASC`)
}

// ListProcessing implements store.JobStore.
func (s *SyncStore) ListProcessing(ctx context.Context) ([]store.Job, error) {
	return s.queryJobs(ctx, jobSelectSQL+` WHERE status = 'PROCESSING' ORDER BY id ASC`)
}

// ResetOrphanedProcessing resets PROCESSING rows to PENDING at startup,
// recovering from a crash mid-job (spec §4.3, §4.8).
func (s *SyncStore) ResetOrphanedProcessing(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'PENDING', retry_at = ? WHERE status = 'PROCESSING'
	`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SyncStore) queryJobs(ctx context.Context, query string, args ...interface{}) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []store.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var j store.Job
	var eventType, status string
	var retryAtMs, createdAtMs int64
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &eventType, &j.LocalPath, &j.RemotePath, &j.OldRemotePath,
		&status, &retryAtMs, &j.NRetries, &lastError, &createdAtMs); err != nil {
		return nil, err
	}
	j.EventType = store.EventType(eventType)
	j.Status = store.JobStatus(status)
	j.RetryAt = time.UnixMilli(retryAtMs)
	j.CreatedAt = time.UnixMilli(createdAtMs)
	j.LastError = lastError.String
	return &j, nil
}
