package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

func newTestStore(t *testing.T) *SyncStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueCoalescesDuplicateUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := store.NewJob{EventType: store.EventUpdate, LocalPath: "/a/b.txt", RemotePath: "root/b.txt"}
	if err := s.Enqueue(ctx, job, false); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, job, false); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	counts, err := s.GetCounts(ctx)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts.Pending != 1 {
		t.Fatalf("expected exactly one PENDING row, got %d", counts.Pending)
	}
}

func TestEnqueueSupersedureDeleteThenCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := "/a/x.txt"
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventDelete, LocalPath: path, RemotePath: "root/x.txt"}, false); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventCreate, LocalPath: path, RemotePath: "root/x.txt"}, false); err != nil {
		t.Fatalf("enqueue create: %v", err)
	}

	job, err := s.GetNextPendingJob(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetNextPendingJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.EventType != store.EventUpdate {
		t.Fatalf("expected coalesced event_type UPDATE, got %s", job.EventType)
	}
}

func TestEnqueueSupersedureUpdateThenDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "/a/y.txt"

	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: path, RemotePath: "root/y.txt"}, false); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventDelete, LocalPath: path, RemotePath: "root/y.txt"}, false); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	job, err := s.GetNextPendingJob(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetNextPendingJob: %v", err)
	}
	if job == nil || job.EventType != store.EventDelete {
		t.Fatalf("expected DELETE, got %+v", job)
	}
}

func TestMoveNeverCoalescesWithNonMove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := "/a/z.txt"

	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: path, RemotePath: "root/z.txt"}, false); err != nil {
		t.Fatalf("enqueue update: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventMove, LocalPath: path, RemotePath: "root/z2.txt", OldRemotePath: "root/z.txt"}, false); err != nil {
		t.Fatalf("enqueue move: %v", err)
	}

	counts, err := s.GetCounts(ctx)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts.Pending != 2 {
		t.Fatalf("expected MOVE to enqueue as a distinct row, got %d pending", counts.Pending)
	}
}

func TestGetNextPendingJobClaimsExactlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: "/a/w.txt", RemotePath: "root/w.txt"}, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	type result struct {
		job *store.Job
		err error
	}
	results := make(chan result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			j, err := s.GetNextPendingJob(ctx, time.Now())
			results <- result{j, err}
		}()
	}

	wins := 0
	for i := 0; i < 4; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("GetNextPendingJob: %v", r.err)
		}
		if r.job != nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner across concurrent claims, got %d", wins)
	}
}

func TestScheduleRetryIncrementsAndBlocksAfterMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: "/a/v.txt", RemotePath: "root/v.txt"}, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	noJitter := func(time.Duration) time.Duration { return 0 }

	for i := 0; i < store.MaxRetries; i++ {
		job, err := s.GetNextPendingJob(ctx, time.Now().Add(10*time.Minute))
		if err != nil {
			t.Fatalf("GetNextPendingJob: %v", err)
		}
		if job == nil {
			t.Fatalf("expected job at retry %d", i)
		}
		if err := s.ScheduleRetry(ctx, job.ID, "network blip", false, noJitter); err != nil {
			t.Fatalf("ScheduleRetry: %v", err)
		}
	}

	job, err := s.GetNextPendingJob(ctx, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("GetNextPendingJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected job still pending at MAX_RETRIES")
	}
	if job.NRetries != store.MaxRetries {
		t.Fatalf("expected n_retries == MAX_RETRIES, got %d", job.NRetries)
	}
	if err := s.MarkBlocked(ctx, job.ID, "NameConflict", false); err != nil {
		t.Fatalf("MarkBlocked: %v", err)
	}

	blocked, err := s.ListBlocked(ctx)
	if err != nil {
		t.Fatalf("ListBlocked: %v", err)
	}
	if len(blocked) != 1 {
		t.Fatalf("expected one blocked row, got %d", len(blocked))
	}
}

func TestResetOrphanedProcessingOnCrashRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: "/a/u.txt", RemotePath: "root/u.txt"}, false); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := s.GetNextPendingJob(ctx, time.Now())
	if err != nil || job == nil {
		t.Fatalf("GetNextPendingJob: job=%v err=%v", job, err)
	}

	n, err := s.ResetOrphanedProcessing(ctx, time.Now())
	if err != nil {
		t.Fatalf("ResetOrphanedProcessing: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one orphaned row reset, got %d", n)
	}

	counts, err := s.GetCounts(ctx)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts.Processing != 0 || counts.Pending != 1 {
		t.Fatalf("expected recovery to PENDING, got %+v", counts)
	}
}

func TestDryRunEnqueueIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Enqueue(ctx, store.NewJob{EventType: store.EventUpdate, LocalPath: "/a/dry.txt", RemotePath: "root/dry.txt"}, true); err != nil {
		t.Fatalf("enqueue dry-run: %v", err)
	}
	counts, err := s.GetCounts(ctx)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts.Pending != 0 {
		t.Fatalf("expected dry-run to persist nothing, got %d pending", counts.Pending)
	}
}
