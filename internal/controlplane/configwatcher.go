package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// ConfigWatcher watches the daemon's config file for changes and fires a
// config-changed signal, debounced the same way the daemon's FileWatcher
// debounces JSONL writes. Ported file-for-file from that watcher's parent-
// dir-plus-direct-file strategy and exponential-backoff re-establish loop
// (cmd/bd/daemon_watcher.go), generalized from a JSONL path to an
// arbitrary config file path.
type ConfigWatcher struct {
	watcher      *fsnotify.Watcher
	configPath   string
	parentDir    string
	signals      store.SignalBus
	log          *slog.Logger
	debounceMS   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConfigWatcher constructs a watcher over configPath.
func NewConfigWatcher(configPath string, signals store.SignalBus, log *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configwatcher: new watcher: %w", err)
	}
	cw := &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		parentDir:  filepath.Dir(configPath),
		signals:    signals,
		log:        log,
		debounceMS: 500 * time.Millisecond,
	}
	if err := watcher.Add(cw.parentDir); err != nil {
		cw.log.Warn("failed to watch config parent directory", "dir", cw.parentDir, "error", err)
	}
	if err := watcher.Add(configPath); err != nil && !os.IsNotExist(err) {
		cw.log.Warn("failed to watch config file", "path", configPath, "error", err)
	}
	return cw, nil
}

// Start begins monitoring in a background goroutine until ctx is canceled.
func (cw *ConfigWatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	cw.cancel = cancel

	debouncer := func() func() {
		var timer *time.Timer
		var mu sync.Mutex
		fire := func() {
			if err := cw.signals.SendSignal(context.Background(), store.SignalConfigChanged); err != nil {
				cw.log.Error("send config-changed signal", "error", err)
			}
		}
		return func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounceMS, fire)
		}
	}()

	cw.wg.Add(1)
	go func() {
		defer cw.wg.Done()
		base := filepath.Base(cw.configPath)
		for {
			select {
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				if event.Name == filepath.Join(cw.parentDir, base) && event.Op&fsnotify.Create != 0 {
					cw.log.Info("config file created", "path", event.Name)
					_ = cw.watcher.Add(cw.configPath)
					debouncer()
					continue
				}
				if event.Name == cw.configPath && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0 {
					cw.log.Info("config file changed", "path", event.Name)
					debouncer()
					continue
				}
				if event.Name == cw.configPath && (event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0) {
					cw.log.Info("config file removed/renamed, re-establishing watch")
					_ = cw.watcher.Remove(cw.configPath)
					cw.reEstablishWatch(ctx)
					continue
				}
			case err, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				cw.log.Error("config watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (cw *ConfigWatcher) reEstablishWatch(ctx context.Context) {
	delays := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for _, delay := range delays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			if err := cw.watcher.Add(cw.configPath); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				cw.log.Error("failed to re-watch config file", "delay", delay, "error", err)
				return
			}
			cw.log.Info("re-established config file watch", "delay", delay)
			return
		}
	}
	cw.log.Warn("failed to re-establish config file watch after all retries")
}

// Close stops the watcher and releases resources.
func (cw *ConfigWatcher) Close() error {
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.wg.Wait()
	return cw.watcher.Close()
}
