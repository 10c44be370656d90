package syncengine

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/MiMillieuh/proton-drive-sync/internal/changesource"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// pathState is the latest known state of one relative path within the
// current debounce burst; a later event for the same path overwrites an
// earlier one (spec §4.7).
type pathState struct {
	eventType  store.EventType
	watchRoot  string
	relPath    string
	oldRelPath string // only set for EventMove
}

// Mapping resolves a watch root's configured local directory and its
// corresponding remote-root prefix, so the normalizer can turn a
// change-source relative path into the local_path/remote_path pair a
// sync job carries.
type Mapping struct {
	LocalDir   string
	RemotePath string
}

// Normalizer buffers raw change-source files per relative path, pairs a
// removed file with an added file reported as new that shares its inode
// into a MOVE job, and flushes the
// coalesced result into the job store on debounce timeout (spec §4.7).
//
// It also owns clock persistence (spec §5: "Clock writes happen after
// the enqueue of all events in a batch"). AddBatch only remembers each
// watch root's latest reported clock; Flush writes those clocks only
// after the events they tag have been durably enqueued, so a crash
// between the two re-reads the same events from the change-source on
// restart instead of silently losing them.
type Normalizer struct {
	mu            sync.Mutex
	buffer        map[string]*pathState
	pendingClocks map[string]string // watch root -> latest clock seen since last flush
	jobs          store.JobStore
	clocks        store.ClockStore
	mapping       map[string]Mapping // watch root -> local/remote mapping
	log           *slog.Logger
	dryRun        bool

	debouncer *Debouncer
}

// NewNormalizer constructs a Normalizer that flushes into jobs and clocks,
// using mapping to resolve each watch root's local directory and
// remote-root prefix.
func NewNormalizer(jobs store.JobStore, clocks store.ClockStore, mapping map[string]Mapping, log *slog.Logger, dryRun bool) *Normalizer {
	n := &Normalizer{
		buffer:        map[string]*pathState{},
		pendingClocks: map[string]string{},
		jobs:          jobs,
		clocks:        clocks,
		mapping:       mapping,
		log:           log,
		dryRun:        dryRun,
	}
	return n
}

// AttachDebouncer wires the flush timer; split from construction so
// callers can pass the Normalizer's own Flush method as the callback.
func (n *Normalizer) AttachDebouncer(d *Debouncer) {
	n.debouncer = d
}

// AddBatch folds one change-source batch into the per-path buffer,
// pairing a removed file with an added file that is reported as new and
// shares its non-zero inode into a MOVE (spec
// §4.7: "MOVE is detected when the service delivers a paired (removed,
// added) within a single batch with matching inode"), then restarts the
// debounce timer.
func (n *Normalizer) AddBatch(batch changesource.Batch) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if batch.Clock != "" {
		n.pendingClocks[batch.WatchRoot] = batch.Clock
	}

	var removed, added []changesource.File
	for _, f := range batch.Files {
		if !f.Exists {
			removed = append(removed, f)
		} else {
			added = append(added, f)
		}
	}

	pairedRemoved := map[int]bool{}
	pairedAdded := map[int]bool{}
	for ri, r := range removed {
		if r.Inode == 0 {
			continue
		}
		for ai, a := range added {
			if pairedAdded[ai] || !a.New || a.Inode != r.Inode {
				continue
			}
			n.buffer[a.Name] = &pathState{
				eventType:  store.EventMove,
				watchRoot:  batch.WatchRoot,
				relPath:    a.Name,
				oldRelPath: r.Name,
			}
			pairedRemoved[ri] = true
			pairedAdded[ai] = true
			break
		}
	}

	for i, r := range removed {
		if pairedRemoved[i] {
			continue
		}
		n.buffer[r.Name] = &pathState{eventType: store.EventDelete, watchRoot: batch.WatchRoot, relPath: r.Name}
	}
	for i, a := range added {
		if pairedAdded[i] {
			continue
		}
		// spec §4.7: kind==dir -> CREATE (idempotent in D), kind==file -> UPDATE
		// regardless of the New flag (the not-yet-exists case is handled by
		// E.upload-file's create-or-revision check, not by the event type).
		ev := store.EventUpdate
		if a.IsDir {
			ev = store.EventCreate
		}
		n.buffer[a.Name] = &pathState{eventType: ev, watchRoot: batch.WatchRoot, relPath: a.Name}
	}

	if n.debouncer != nil {
		n.debouncer.Trigger()
	}
}

// Flush drains the buffer into the job store's enqueue/coalesce path
// (spec §4.3's supersedure rules apply on the store side too), then
// persists each watch root's pending clock once its events have been
// durably enqueued (spec §5). It is the debouncer's fire callback.
func (n *Normalizer) Flush(ctx context.Context) {
	n.mu.Lock()
	pending := n.buffer
	n.buffer = map[string]*pathState{}
	clocks := n.pendingClocks
	n.pendingClocks = map[string]string{}
	n.mu.Unlock()

	failedRoots := map[string]bool{}
	for _, st := range pending {
		mapping, ok := n.mapping[st.watchRoot]
		if !ok {
			n.log.Warn("dropping event for unmapped watch root", "watch_root", st.watchRoot, "path", st.relPath)
			continue
		}
		job := store.NewJob{
			EventType:  st.eventType,
			LocalPath:  filepath.Join(mapping.LocalDir, st.relPath),
			RemotePath: toRemotePath(mapping.RemotePath, st.relPath),
		}
		if st.eventType == store.EventMove {
			job.OldRemotePath = toRemotePath(mapping.RemotePath, st.oldRelPath)
		}
		if err := n.jobs.Enqueue(ctx, job, n.dryRun); err != nil {
			n.log.Error("enqueue failed", "local_path", job.LocalPath, "error", err)
			failedRoots[st.watchRoot] = true
		}
	}

	for root, clock := range clocks {
		if failedRoots[root] {
			// Leave the clock unadvanced so a retry of this flush (or the
			// next restart) re-reads the events that failed to enqueue.
			continue
		}
		if err := n.clocks.Set(ctx, root, clock, n.dryRun); err != nil {
			n.log.Error("persisting clock", "watch_root", root, "error", err)
		}
	}
}

func toRemotePath(remoteRootPrefix, relPath string) string {
	return path.Join(remoteRootPrefix, filepath.ToSlash(relPath))
}
