package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MiMillieuh/proton-drive-sync/internal/changesource"
	"github.com/MiMillieuh/proton-drive-sync/internal/config"
	"github.com/MiMillieuh/proton-drive-sync/internal/controlplane"
	"github.com/MiMillieuh/proton-drive-sync/internal/daemonlog"
	"github.com/MiMillieuh/proton-drive-sync/internal/drive"
	"github.com/MiMillieuh/proton-drive-sync/internal/drive/drivetest"
	"github.com/MiMillieuh/proton-drive-sync/internal/lockfile"
	"github.com/MiMillieuh/proton-drive-sync/internal/paths"
	"github.com/MiMillieuh/proton-drive-sync/internal/store"
	"github.com/MiMillieuh/proton-drive-sync/internal/syncengine"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// newDriveClient is the daemon's only seam onto the remote drive backend.
// Credential handling, transport, and the API surface itself live outside
// this repository's scope; the in-memory fake stands in for it so the
// rest of the wiring below is exercised end to end.
func newDriveClient() drive.Client {
	return drivetest.New()
}

func runDaemon(parentCtx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logPath, err := paths.LogPath()
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	logger := daemonlog.New(daemonlog.Config{Path: logPath, Level: level})
	defer logger.Close()
	log := logger.Logger

	s, err := openStore(parentCtx)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer s.Close()

	pidPath, err := paths.PIDFilePath()
	if err != nil {
		return err
	}
	lock := lockfile.New(pidPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock file: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another instance holds %s", pidPath)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cp := controlplane.New(s, s, log, nil, lockfile.IsProcessAlive)
	if err := cp.ClaimRunning(ctx); err != nil {
		if errors.Is(err, controlplane.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("claiming RUNNING flag: %w", err)
	}
	defer cp.ReleaseRunning(context.Background())

	if n, err := s.ResetOrphanedProcessing(ctx, time.Now()); err != nil {
		log.Error("resetting orphaned jobs", "error", err)
	} else if n > 0 {
		log.Warn("reset orphaned PROCESSING jobs after presumed crash", "count", n)
	}

	driveClient := newDriveClient()
	resolver := drive.NewResolver(driveClient)
	executor := syncengine.NewExecutor(s, resolver, driveClient, s, log, cfg.DryRun)

	mapping := map[string]syncengine.Mapping{}
	var watchRoots []string
	for _, dir := range cfg.SyncDirs {
		remote := dir.Remote
		if remote == "" {
			remote = cfg.RemoteRoot
		}
		mapping[dir.Local] = syncengine.Mapping{LocalDir: dir.Local, RemotePath: remote}
		watchRoots = append(watchRoots, dir.Local)
	}

	normalizer := syncengine.NewNormalizer(s, s, mapping, log, cfg.DryRun)
	normalizer.AttachDebouncer(syncengine.NewDebouncer(store.DebounceDefault, func() {
		normalizer.Flush(ctx)
		executor.Notify()
	}))

	sockPath := cfg.ChangeSourceSocket
	if sockPath == "" {
		stateDir, err := paths.StateDir()
		if err != nil {
			return err
		}
		sockPath = filepath.Join(stateDir, "changesource.sock")
	}
	client, spawnMode, err := changesource.Dial(ctx, cfg.ChangeSourceBin, sockPath)
	if err != nil {
		return fmt.Errorf("dialing file-change service: %w", err)
	}
	log.Info("connected to file-change service", "spawn_mode", spawnMode)

	// The reader must run before Negotiate: every reply reaches call()
	// through Listen.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Listen(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("file-change service connection closed", "error", err)
		}
		return nil
	})

	adapter := changesource.NewAdapter(client, s, log)
	if err := adapter.Negotiate(ctx); err != nil {
		return err
	}

	configPath, err := paths.ConfigFilePath()
	if err != nil {
		return err
	}
	watcher, err := controlplane.NewConfigWatcher(configPath, s, log)
	if err != nil {
		log.Warn("could not start config watcher", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Close()
	}

	shutdown := func(shutdownCtx context.Context) error {
		normalizer.Flush(shutdownCtx)
		executor.WaitIdle(shutdownCtx)
		return client.Close()
	}
	cp = controlplane.New(s, s, log, shutdown, lockfile.IsProcessAlive)

	g.Go(func() error { return cp.Run(gctx) })
	g.Go(func() error { return executor.Run(gctx) })
	g.Go(func() error { return runChangeSource(gctx, adapter, watchRoots, normalizer, log) })

	log.Info("daemon started", "sync_dirs", len(cfg.SyncDirs))
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runChangeSource drives the adapter: it tries subscription mode first,
// falling back to a 1s one-shot polling loop if the negotiated protocol
// is too old (spec §4.6).
func runChangeSource(ctx context.Context, adapter *changesource.Adapter, watchRoots []string, normalizer *syncengine.Normalizer, log *slog.Logger) error {
	if adapter.CanSubscribe() {
		initial, err := adapter.Subscribe(ctx, watchRoots)
		if err != nil {
			return fmt.Errorf("subscribing to watch roots: %w", err)
		}
		for _, b := range initial {
			normalizer.AddBatch(b)
		}
		return adapter.PumpSubscriptions(ctx, normalizer.AddBatch)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batches, err := adapter.OneShotSweep(ctx, watchRoots)
			if err != nil {
				log.Error("one-shot sweep failed", "error", err)
				continue
			}
			for _, b := range batches {
				normalizer.AddBatch(b)
			}
			// spec §4.7: one-shot mode "bypasses the timer and flushes
			// synchronously once all watch roots have been queried."
			normalizer.Flush(ctx)
		}
	}
}
