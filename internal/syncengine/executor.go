package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/drive"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// Executor is the single cooperative loop that drains PENDING jobs
// against the drive client, dispatching by event type and transitioning
// each job to SYNCED, a scheduled retry, or BLOCKED (spec §4.8).
type Executor struct {
	jobs     store.JobStore
	resolver *drive.Resolver
	client   drive.Client
	flags    store.FlagBus
	log      *slog.Logger
	dryRun   bool

	// WakeUp is signaled by the normalizer after a flush so the loop does
	// not wait out its full idle sleep before picking up fresh work.
	WakeUp chan struct{}

	// busy is set for the duration of a dispatch call so a graceful
	// shutdown can wait for the in-flight job instead of tearing down the
	// drive client out from under it.
	busy atomic.Bool
}

// NewExecutor constructs an Executor over the given collaborators.
func NewExecutor(jobs store.JobStore, resolver *drive.Resolver, client drive.Client, flags store.FlagBus, log *slog.Logger, dryRun bool) *Executor {
	return &Executor{
		jobs:     jobs,
		resolver: resolver,
		client:   client,
		flags:    flags,
		log:      log,
		dryRun:   dryRun,
		WakeUp:   make(chan struct{}, 1),
	}
}

// Notify wakes the loop if it is sleeping between ticks.
func (e *Executor) Notify() {
	select {
	case e.WakeUp <- struct{}{}:
	default:
	}
}

// Run executes ticks until ctx is canceled (spec §4.8). Each tick checks
// the PAUSED flag, claims at most one job, dispatches it, and, when there
// is nothing to do, sleeps for 1s or until a Notify. The sleep does not
// end early for a job whose retry_at falls inside that second.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		paused, err := e.flags.HasFlag(ctx, store.FlagPaused)
		if err != nil {
			e.log.Error("checking paused flag", "error", err)
			paused = false
		}
		if paused {
			if !sleepOrDone(ctx, 500*time.Millisecond, e.WakeUp) {
				return ctx.Err()
			}
			continue
		}

		job, err := e.jobs.GetNextPendingJob(ctx, time.Now())
		if err != nil {
			e.log.Error("get next pending job", "error", err)
			if !sleepOrDone(ctx, time.Second, e.WakeUp) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepOrDone(ctx, time.Second, e.WakeUp) {
				return ctx.Err()
			}
			continue
		}

		e.busy.Store(true)
		dispatchErr := e.dispatch(ctx, job)
		if dispatchErr != nil {
			e.onFailure(ctx, job, dispatchErr)
			e.busy.Store(false)
			continue
		}
		if err := e.jobs.MarkSynced(ctx, job.ID, e.dryRun); err != nil {
			e.log.Error("mark synced", "job_id", job.ID, "error", err)
		}
		e.busy.Store(false)
	}
}

// WaitIdle blocks until no job is in flight or ctx is done, whichever
// comes first (spec §4.9: shutdown waits up to 15s for the current
// executor job to finish before the drive client is closed).
func (e *Executor) WaitIdle(ctx context.Context) {
	if !e.busy.Load() {
		return
	}
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !e.busy.Load() {
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-wake:
		return true
	}
}

// dispatch routes a job by event type (spec §4.8 step 3).
func (e *Executor) dispatch(ctx context.Context, job *store.Job) error {
	switch job.EventType {
	case store.EventDelete:
		return e.dispatchDelete(ctx, job)
	case store.EventCreate:
		return e.dispatchCreate(ctx, job)
	case store.EventUpdate:
		return e.dispatchUpload(ctx, job)
	case store.EventMove:
		return e.dispatchMove(ctx, job)
	default:
		return nil
	}
}

// dispatchCreate handles a directory CREATE: D.ensure-path for the full
// path, idempotent if the folder already exists remotely (spec §4.8).
func (e *Executor) dispatchCreate(ctx context.Context, job *store.Job) error {
	_, err := e.resolver.EnsurePath(ctx, job.RemotePath)
	return err
}

func (e *Executor) dispatchDelete(ctx context.Context, job *store.Job) error {
	parentPath, base := drive.ParentPath(job.RemotePath)
	parentID, err := e.resolver.ResolvePath(ctx, parentPath)
	if errors.Is(err, drive.ErrPathNotFound) {
		return nil // parent missing: existed=false, treat as success
	}
	if err != nil {
		return err
	}
	child, found, err := e.resolver.FindFileByName(ctx, parentID, base)
	if err != nil {
		return err
	}
	if !found {
		// The target may be a folder rather than a file.
		child, found, err = e.resolver.FindFolderByName(ctx, parentID, base)
		if err != nil {
			return err
		}
	}
	if !found {
		return nil // target missing: existed=false, treat as success
	}
	if e.dryRun {
		return nil
	}
	results, err := e.client.TrashNodes(ctx, []string{child.UID})
	if err != nil {
		return err
	}
	return firstResultError(results)
}

func (e *Executor) dispatchUpload(ctx context.Context, job *store.Job) error {
	parentPath, base := drive.ParentPath(job.RemotePath)
	parentID, err := e.resolver.EnsurePath(ctx, parentPath)
	if err != nil {
		return err
	}
	if e.dryRun {
		return nil
	}

	f, err := os.Open(job.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // file vanished since enqueue: nothing to upload
		}
		return drive.NewError(drive.KindLocalIO, "open", job.LocalPath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return drive.NewError(drive.KindLocalIO, "stat", job.LocalPath, err)
	}
	mtime := stat.ModTime()
	meta := drive.UploadMetadata{ExpectedSize: stat.Size(), ModificationTime: &mtime}

	existing, found, err := e.resolver.FindFileByName(ctx, parentID, base)
	if err != nil {
		return err
	}

	var uploader drive.Uploader
	if found {
		uploader, err = e.client.GetFileRevisionUploader(ctx, existing.UID, meta, f, nil)
	} else {
		uploader, err = e.client.GetFileUploader(ctx, parentID, base, meta, f, nil)
	}
	if err != nil {
		return err
	}
	_, err = uploader.Completion(ctx)
	return err
}

func (e *Executor) dispatchMove(ctx context.Context, job *store.Job) error {
	oldParentPath, oldBase := drive.ParentPath(job.OldRemotePath)
	newParentPath, newBase := drive.ParentPath(job.RemotePath)

	oldParentID, err := e.resolver.ResolvePath(ctx, oldParentPath)
	if err != nil {
		if errors.Is(err, drive.ErrPathNotFound) {
			return nil
		}
		return err
	}
	child, found, err := e.resolver.FindFileByName(ctx, oldParentID, oldBase)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	newParentID, err := e.resolver.EnsurePath(ctx, newParentPath)
	if err != nil {
		return err
	}

	if e.dryRun {
		return nil
	}

	if newParentID != oldParentID {
		results, err := e.client.MoveNodes(ctx, []string{child.UID}, newParentID)
		if err != nil {
			return err
		}
		if err := firstResultError(results); err != nil {
			return err
		}
	}
	if newBase != oldBase {
		return e.client.RenameNode(ctx, child.UID, newBase)
	}
	return nil
}

func firstResultError(results []drive.NodeResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// onFailure applies the retry/block policy from spec §4.8, §7: terminal
// kinds and exhausted retries block the job, everything else retries
// with backoff.
func (e *Executor) onFailure(ctx context.Context, job *store.Job, err error) {
	kind := drive.Kind(err)
	e.log.Warn("job failed", "job_id", job.ID, "event_type", job.EventType, "kind", kind, "error", err)

	// A NotFound surfaced by the actual delete call (e.g. a race against
	// another deleter) still means the target is gone, which is success
	// for a DELETE job, not a block (spec §7).
	if job.EventType == store.EventDelete && kind == drive.KindNotFound {
		if syncedErr := e.jobs.MarkSynced(ctx, job.ID, e.dryRun); syncedErr != nil {
			e.log.Error("mark synced", "job_id", job.ID, "error", syncedErr)
		}
		return
	}

	// AuthExpired gets a single retry (spec §7).
	authRetried := kind == drive.KindAuthExpired && job.NRetries >= 1
	if job.NRetries >= store.MaxRetries || !drive.Retryable(kind) || authRetried {
		if blockErr := e.jobs.MarkBlocked(ctx, job.ID, err.Error(), e.dryRun); blockErr != nil {
			e.log.Error("mark blocked", "job_id", job.ID, "error", blockErr)
		}
		return
	}
	if retryErr := e.jobs.ScheduleRetry(ctx, job.ID, err.Error(), e.dryRun, nil); retryErr != nil {
		e.log.Error("schedule retry", "job_id", job.ID, "error", retryErr)
	}
}
