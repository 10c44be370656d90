package syncengine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/changesource"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// fakeJobStore implements store.JobStore, recording only what Enqueue
// receives; every other method is unused by the normalizer and stubbed.
type fakeJobStore struct {
	enqueued []store.NewJob
}

func (f *fakeJobStore) Enqueue(ctx context.Context, job store.NewJob, dryRun bool) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeJobStore) GetNextPendingJob(ctx context.Context, now time.Time) (*store.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) MarkSynced(ctx context.Context, id int64, dryRun bool) error { return nil }
func (f *fakeJobStore) ScheduleRetry(ctx context.Context, id int64, errMsg string, dryRun bool, jitter func(time.Duration) time.Duration) error {
	return nil
}
func (f *fakeJobStore) MarkBlocked(ctx context.Context, id int64, errMsg string, dryRun bool) error {
	return nil
}
func (f *fakeJobStore) GetCounts(ctx context.Context) (store.Counts, error) { return store.Counts{}, nil }
func (f *fakeJobStore) ListRecentSynced(ctx context.Context, limit int) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) ListBlocked(ctx context.Context) ([]store.Job, error)    { return nil, nil }
func (f *fakeJobStore) ListProcessing(ctx context.Context) ([]store.Job, error) { return nil, nil }
func (f *fakeJobStore) ResetOrphanedProcessing(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// fakeClockStore implements store.ClockStore, recording every Set call so
// tests can assert on clock persistence ordering relative to Enqueue.
type fakeClockStore struct {
	sets map[string]string
}

func newFakeClockStore() *fakeClockStore {
	return &fakeClockStore{sets: map[string]string{}}
}

func (f *fakeClockStore) Get(ctx context.Context, watchRoot string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeClockStore) Set(ctx context.Context, watchRoot, clock string, dryRun bool) error {
	if dryRun {
		return nil
	}
	f.sets[watchRoot] = clock
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestNormalizerPairsMoveByInode(t *testing.T) {
	jobs := &fakeJobStore{}
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, newFakeClockStore(), mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files: []changesource.File{
			{Name: "old.txt", Exists: false, Inode: 42},
			{Name: "new.txt", Exists: true, New: true, Inode: 42},
		},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.enqueued))
	}
	job := jobs.enqueued[0]
	if job.EventType != store.EventMove {
		t.Fatalf("expected MOVE, got %s", job.EventType)
	}
	if job.OldRemotePath != "remote/old.txt" || job.RemotePath != "remote/new.txt" {
		t.Fatalf("unexpected paths: old=%s new=%s", job.OldRemotePath, job.RemotePath)
	}
}

func TestNormalizerUnpairedRemovedBecomesDelete(t *testing.T) {
	jobs := &fakeJobStore{}
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, newFakeClockStore(), mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files:     []changesource.File{{Name: "gone.txt", Exists: false, Inode: 7}},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 || jobs.enqueued[0].EventType != store.EventDelete {
		t.Fatalf("expected a single DELETE job, got %+v", jobs.enqueued)
	}
}

func TestNormalizerDirectoryBecomesCreate(t *testing.T) {
	jobs := &fakeJobStore{}
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, newFakeClockStore(), mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files:     []changesource.File{{Name: "subdir", Exists: true, IsDir: true, New: true}},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 || jobs.enqueued[0].EventType != store.EventCreate {
		t.Fatalf("expected a single CREATE job for the directory, got %+v", jobs.enqueued)
	}
}

func TestNormalizerExistingFileStillBecomesUpdate(t *testing.T) {
	jobs := &fakeJobStore{}
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, newFakeClockStore(), mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files:     []changesource.File{{Name: "a.txt", Exists: true, New: false, IsDir: false}},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 || jobs.enqueued[0].EventType != store.EventUpdate {
		t.Fatalf("expected a single UPDATE job for the file, got %+v", jobs.enqueued)
	}
}

func TestNormalizerLaterEventOverwritesBufferedOne(t *testing.T) {
	jobs := &fakeJobStore{}
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, newFakeClockStore(), mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files:     []changesource.File{{Name: "a.txt", Exists: true, New: true}},
	})
	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Files:     []changesource.File{{Name: "a.txt", Exists: true, New: false}},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 || jobs.enqueued[0].EventType != store.EventUpdate {
		t.Fatalf("expected the later UPDATE to win, got %+v", jobs.enqueued)
	}
}

func TestNormalizerPersistsClockOnlyAfterEnqueue(t *testing.T) {
	jobs := &fakeJobStore{}
	clocks := newFakeClockStore()
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, clocks, mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Clock:     "c:123",
		Files:     []changesource.File{{Name: "a.txt", Exists: true}},
	})

	if clocks.sets["/local"] != "" {
		t.Fatalf("clock must not be persisted before Flush enqueues the batch's events, got %q", clocks.sets["/local"])
	}

	n.Flush(context.Background())

	if len(jobs.enqueued) != 1 {
		t.Fatalf("expected the event to be enqueued before the clock advances, got %d jobs", len(jobs.enqueued))
	}
	if clocks.sets["/local"] != "c:123" {
		t.Fatalf("expected clock c:123 persisted after flush, got %q", clocks.sets["/local"])
	}
}

// failingJobStore makes every Enqueue call fail, for testing that a clock
// is not advanced when its batch's events could not be durably enqueued.
type failingJobStore struct {
	fakeJobStore
}

func (f *failingJobStore) Enqueue(ctx context.Context, job store.NewJob, dryRun bool) error {
	return context.DeadlineExceeded
}

func TestNormalizerDoesNotAdvanceClockWhenEnqueueFails(t *testing.T) {
	jobs := &failingJobStore{}
	clocks := newFakeClockStore()
	mapping := map[string]Mapping{"/local": {LocalDir: "/local", RemotePath: "remote"}}
	n := NewNormalizer(jobs, clocks, mapping, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/local",
		Clock:     "c:456",
		Files:     []changesource.File{{Name: "a.txt", Exists: true}},
	})
	n.Flush(context.Background())

	if _, ok := clocks.sets["/local"]; ok {
		t.Fatalf("expected the clock to stay unpersisted after a failed enqueue, got %q", clocks.sets["/local"])
	}
}

func TestNormalizerDropsUnmappedWatchRoot(t *testing.T) {
	jobs := &fakeJobStore{}
	n := NewNormalizer(jobs, newFakeClockStore(), map[string]Mapping{}, testLogger(), false)

	n.AddBatch(changesource.Batch{
		WatchRoot: "/unmapped",
		Files:     []changesource.File{{Name: "a.txt", Exists: true, New: true}},
	})
	n.Flush(context.Background())

	if len(jobs.enqueued) != 0 {
		t.Fatalf("expected no jobs for an unmapped watch root, got %+v", jobs.enqueued)
	}
}
