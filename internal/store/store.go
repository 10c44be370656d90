// Package store defines the embedded-store contract shared by the clock
// store, flag/signal bus, and job queue (spec §3, §4.1-4.3, §6).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// EventType is the canonical sync operation derived by the normalizer (G).
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventMove   EventType = "MOVE"
)

// JobStatus is the sync_jobs status machine (spec §4.3).
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSynced     JobStatus = "SYNCED"
	StatusBlocked    JobStatus = "BLOCKED"
)

// Retry policy constants (spec §4.3, §7).
const (
	RetryBase       = 1 * time.Second
	RetryMax        = 5 * time.Minute
	MaxRetries      = 10
	DebounceDefault = 500 * time.Millisecond
)

// NewJob is the payload accepted by Enqueue (spec §4.3).
type NewJob struct {
	EventType     EventType
	LocalPath     string
	RemotePath    string
	OldRemotePath string // only meaningful for EventMove
}

// Job is a persisted sync_jobs row (spec §3).
type Job struct {
	ID            int64
	EventType     EventType
	LocalPath     string
	RemotePath    string
	OldRemotePath string
	Status        JobStatus
	RetryAt       time.Time
	NRetries      int
	LastError     string
	CreatedAt     time.Time
}

// Counts summarizes sync_jobs by status (spec §4.3 get_counts).
type Counts struct {
	Pending    int
	Processing int
	Synced     int
	Blocked    int
}

// FlagName identifies a row in the flags table (spec §3, §4.2).
type FlagName string

const (
	FlagRunning          FlagName = "RUNNING"
	FlagPaused           FlagName = "PAUSED"
	FlagServiceInstalled FlagName = "SERVICE_INSTALLED"
	FlagWatchmanRunning  FlagName = "WATCHMAN_RUNNING"
)

// SignalName identifies a row in the signals table (spec §3, §4.2, §4.9).
type SignalName string

const (
	SignalPauseSync       SignalName = "pause-sync"
	SignalResumeSync      SignalName = "resume-sync"
	SignalStop            SignalName = "stop"
	SignalRefreshDash     SignalName = "refresh-dashboard"
	SignalConfigChanged   SignalName = "config-changed"
)

// Signal is a row in the signals table.
type Signal struct {
	ID        int64
	Name      SignalName
	CreatedAt time.Time
}

// ClockStore is component A.
type ClockStore interface {
	Get(ctx context.Context, watchRoot string) (clock string, ok bool, err error)
	Set(ctx context.Context, watchRoot, clock string, dryRun bool) error
}

// FlagBus is component B's flag half.
type FlagBus interface {
	SetFlag(ctx context.Context, name FlagName, variant string) error
	ClearFlag(ctx context.Context, name FlagName) error
	HasFlag(ctx context.Context, name FlagName) (bool, error)
	GetFlagData(ctx context.Context, name FlagName) (variant string, ok bool, err error)
}

// SignalBus is component B's signal half.
type SignalBus interface {
	SendSignal(ctx context.Context, name SignalName) error
	PeekSignal(ctx context.Context, name SignalName) (bool, error)
	ConsumeSignal(ctx context.Context, name SignalName) (bool, error)
}

// JobStore is component C.
type JobStore interface {
	Enqueue(ctx context.Context, job NewJob, dryRun bool) error
	GetNextPendingJob(ctx context.Context, now time.Time) (*Job, error)
	MarkSynced(ctx context.Context, id int64, dryRun bool) error
	ScheduleRetry(ctx context.Context, id int64, errMsg string, dryRun bool, jitter func(time.Duration) time.Duration) error
	MarkBlocked(ctx context.Context, id int64, errMsg string, dryRun bool) error
	GetCounts(ctx context.Context) (Counts, error)
	ListRecentSynced(ctx context.Context, limit int) ([]Job, error)
	ListBlocked(ctx context.Context) ([]Job, error)
	ListProcessing(ctx context.Context) ([]Job, error)
	// ResetOrphanedProcessing resets any PROCESSING rows left over from a
	// crash back to PENDING with retry_at = now (spec §4.3 crash recovery).
	ResetOrphanedProcessing(ctx context.Context, now time.Time) (int, error)
}

// Store aggregates the three embedded-store contracts plus lifecycle.
type Store interface {
	ClockStore
	FlagBus
	SignalBus
	JobStore
	Close() error
}
