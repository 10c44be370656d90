package syncengine_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MiMillieuh/proton-drive-sync/internal/drive"
	"github.com/MiMillieuh/proton-drive-sync/internal/drive/drivetest"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
	"github.com/MiMillieuh/proton-drive-sync/internal/store/sqlite"
	"github.com/MiMillieuh/proton-drive-sync/internal/syncengine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newHarness(t *testing.T) (*sqlite.SyncStore, *drivetest.Client, *syncengine.Executor) {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	client := drivetest.New()
	resolver := drive.NewResolver(client)
	exec := syncengine.NewExecutor(s, resolver, client, s, discardLogger(), false)
	return s, client, exec
}

func runOneTick(t *testing.T, s *sqlite.SyncStore, exec *syncengine.Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = exec.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		counts, err := s.GetCounts(context.Background())
		if err != nil {
			t.Fatalf("GetCounts: %v", err)
		}
		if counts.Pending == 0 && counts.Processing == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestExecutorUploadsNewFile(t *testing.T) {
	s, client, exec := newHarness(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(localPath, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "docs/hello.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runOneTick(t, s, exec)

	synced, err := s.ListRecentSynced(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentSynced: %v", err)
	}
	if len(synced) != 1 {
		t.Fatalf("expected 1 synced job, got %d", len(synced))
	}

	root, _ := client.GetRootFolder(ctx)
	resolver := drive.NewResolver(client)
	id, err := resolver.ResolvePath(ctx, "docs/hello.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if id == root {
		t.Fatal("uploaded file resolved to the root, expected a distinct node")
	}
}

func TestExecutorCreateEnsuresFolderWithoutUpload(t *testing.T) {
	s, client, exec := newHarness(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventCreate,
		LocalPath:  filepath.Join(t.TempDir(), "dir"),
		RemotePath: "docs/newdir",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runOneTick(t, s, exec)

	synced, err := s.ListRecentSynced(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentSynced: %v", err)
	}
	if len(synced) != 1 {
		t.Fatalf("expected 1 synced job, got %d", len(synced))
	}

	resolver := drive.NewResolver(client)
	if _, err := resolver.ResolvePath(ctx, "docs/newdir"); err != nil {
		t.Fatalf("ResolvePath: expected the folder to have been created, got %v", err)
	}
}

func TestExecutorTransientFailureRetriesThenSucceeds(t *testing.T) {
	s, client, exec := newHarness(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "flaky.txt")
	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	client.ScriptedUploadErrors["flaky.txt"] = []error{
		drive.NewError(drive.KindNetworkTransient, "upload", "flaky.txt", nil),
	}

	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "flaky.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctxRun, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = exec.Run(ctxRun)
		close(done)
	}()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		synced, err := s.ListRecentSynced(ctx, 10)
		if err != nil {
			t.Fatalf("ListRecentSynced: %v", err)
		}
		if len(synced) == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	<-done

	synced, err := s.ListRecentSynced(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentSynced: %v", err)
	}
	if len(synced) != 1 {
		t.Fatalf("expected the job to eventually succeed after one transient failure, got %d synced", len(synced))
	}
}

func TestExecutorPermanentFailureBlocksWithoutRetry(t *testing.T) {
	s, client, exec := newHarness(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "conflict.txt")
	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	client.ScriptedUploadErrors["conflict.txt"] = []error{
		drive.NewError(drive.KindNameConflict, "upload", "conflict.txt", nil),
	}

	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "conflict.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	runOneTick(t, s, exec)

	blocked, err := s.ListBlocked(ctx)
	if err != nil {
		t.Fatalf("ListBlocked: %v", err)
	}
	if len(blocked) != 1 {
		t.Fatalf("expected the job to be blocked immediately (non-retryable kind), got %d blocked", len(blocked))
	}
	if blocked[0].NRetries != 0 {
		t.Fatalf("expected a non-retryable failure to block without incrementing retries, got n_retries=%d", blocked[0].NRetries)
	}
}

func TestExecutorDeleteNotFoundDuringTrashIsSynced(t *testing.T) {
	s, client, exec := newHarness(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "racy.txt")
	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "racy.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runOneTick(t, s, exec)

	resolver := drive.NewResolver(client)
	nodeID, err := resolver.ResolvePath(ctx, "racy.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}

	// Simulate another deleter winning the race between dispatchDelete's
	// pre-check and the actual TrashNodes call.
	client.ScriptedDeleteErrors[nodeID] = []error{
		drive.NewError(drive.KindNotFound, "Delete", nodeID, nil),
	}

	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventDelete,
		LocalPath:  localPath,
		RemotePath: "racy.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	runOneTick(t, s, exec)

	synced, err := s.ListRecentSynced(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentSynced: %v", err)
	}
	// The earlier UPDATE is synced too; ListRecentSynced returns newest first.
	if len(synced) != 2 || synced[0].EventType != store.EventDelete {
		t.Fatalf("expected the DELETE job to be marked synced despite a racing NotFound, got %+v", synced)
	}
	blocked, err := s.ListBlocked(ctx)
	if err != nil {
		t.Fatalf("ListBlocked: %v", err)
	}
	if len(blocked) != 0 {
		t.Fatalf("expected no blocked jobs, got %+v", blocked)
	}
}

func TestExecutorWaitIdleReturnsPromptlyWhenIdle(t *testing.T) {
	s, _, exec := newHarness(t)
	ctx := context.Background()

	localPath := filepath.Join(t.TempDir(), "slow.txt")
	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "slow.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctxRun, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = exec.Run(ctxRun)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if synced, _ := s.ListRecentSynced(ctx, 10); len(synced) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	exec.WaitIdle(waitCtx)
	if waitCtx.Err() != nil {
		t.Fatal("WaitIdle should return promptly once the loop is no longer busy")
	}
}

func TestExecutorPauseBlocksDispatch(t *testing.T) {
	s, _, exec := newHarness(t)
	ctx := context.Background()

	if err := s.SetFlag(ctx, store.FlagPaused, ""); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}

	localPath := filepath.Join(t.TempDir(), "paused.txt")
	if err := os.WriteFile(localPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.Enqueue(ctx, store.NewJob{
		EventType:  store.EventUpdate,
		LocalPath:  localPath,
		RemotePath: "paused.txt",
	}, false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctxRun, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_ = exec.Run(ctxRun)

	counts, err := s.GetCounts(ctx)
	if err != nil {
		t.Fatalf("GetCounts: %v", err)
	}
	if counts.Pending != 1 {
		t.Fatalf("expected job to remain PENDING while paused, got pending=%d", counts.Pending)
	}
}
