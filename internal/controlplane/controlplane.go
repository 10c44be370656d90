// Package controlplane implements component I: the signal-bus poller
// that drives pause/resume/stop/refresh, RUNNING-flag PID lifecycle, and
// a config file watcher that records a config-changed signal. Grounded on the daemon's signal-channel
// event loop (cmd/bd/daemon_event_loop.go's runEventDrivenLoop) adapted
// from OS signals to the embedded store's signal bus.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// PollInterval is how often the control plane checks the signal bus
// (spec §4.9: "Polls the signal bus every 1 s").
const PollInterval = 1 * time.Second

// ErrAlreadyRunning is returned by ClaimRunning when RUNNING already
// names a live PID (spec §4.9: "refuses to start if RUNNING is already
// set to a live PID").
var ErrAlreadyRunning = fmt.Errorf("controlplane: daemon already running")

// ShutdownFunc performs the graceful-shutdown sequence when a `stop`
// signal is consumed: stop accepting new change-source events, drain the
// debouncer, wait for the in-flight job, tear down subscriptions,
// disconnect (spec §4.9).
type ShutdownFunc func(ctx context.Context) error

// ControlPlane polls the signal bus and mutates the PAUSED/RUNNING flags
// accordingly.
type ControlPlane struct {
	flags    store.FlagBus
	signals  store.SignalBus
	log      *slog.Logger
	shutdown ShutdownFunc
	isAlive  func(pid int) bool

	parser *when.Parser
}

// New constructs a ControlPlane. isAlive probes whether a recorded PID
// still belongs to a live process (lockfile.IsProcessAlive).
func New(flags store.FlagBus, signals store.SignalBus, log *slog.Logger, shutdown ShutdownFunc, isAlive func(pid int) bool) *ControlPlane {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &ControlPlane{flags: flags, signals: signals, log: log, shutdown: shutdown, isAlive: isAlive, parser: w}
}

// ClaimRunning writes RUNNING with the current PID, refusing if another
// live PID already holds it (spec §4.9 startup check).
func (cp *ControlPlane) ClaimRunning(ctx context.Context) error {
	variant, ok, err := cp.flags.GetFlagData(ctx, store.FlagRunning)
	if err != nil {
		return err
	}
	if ok {
		if pid, perr := strconv.Atoi(variant); perr == nil && cp.isAlive(pid) {
			return ErrAlreadyRunning
		}
		cp.log.Warn("clearing stale RUNNING flag", "recorded_pid", variant)
	}
	return cp.flags.SetFlag(ctx, store.FlagRunning, strconv.Itoa(os.Getpid()))
}

// ReleaseRunning clears the RUNNING flag on clean shutdown.
func (cp *ControlPlane) ReleaseRunning(ctx context.Context) error {
	return cp.flags.ClearFlag(ctx, store.FlagRunning)
}

// ParsePauseDuration resolves a natural-language duration like "30 minutes"
// or "2h" into an absolute resume time, used by `pdsyncd pause --for`.
func (cp *ControlPlane) ParsePauseDuration(ctx context.Context, text string) (time.Time, error) {
	r, err := cp.parser.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("controlplane: parse duration %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("controlplane: could not understand duration %q", text)
	}
	return r.Time, nil
}

// Run polls the signal bus until ctx is canceled, applying spec §4.9's
// signal handling. The config-changed signal sent by ConfigWatcher is not
// consumed here; it stays queued in the signals table.
func (cp *ControlPlane) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := cp.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (cp *ControlPlane) tick(ctx context.Context) error {
	if err := cp.AutoResumeCheck(ctx); err != nil {
		cp.log.Error("auto-resume check", "error", err)
	}

	if consumed, err := cp.signals.ConsumeSignal(ctx, store.SignalPauseSync); err != nil {
		cp.log.Error("consume pause-sync", "error", err)
	} else if consumed {
		// Keep a resume time already recorded by PauseForDuration.
		variant, _, _ := cp.flags.GetFlagData(ctx, store.FlagPaused)
		if err := cp.flags.SetFlag(ctx, store.FlagPaused, variant); err != nil {
			cp.log.Error("set PAUSED flag", "error", err)
		} else {
			cp.log.Info("sync paused")
		}
	}

	if consumed, err := cp.signals.ConsumeSignal(ctx, store.SignalResumeSync); err != nil {
		cp.log.Error("consume resume-sync", "error", err)
	} else if consumed {
		if err := cp.flags.ClearFlag(ctx, store.FlagPaused); err != nil {
			cp.log.Error("clear PAUSED flag", "error", err)
		} else {
			cp.log.Info("sync resumed")
		}
	}

	if consumed, err := cp.signals.ConsumeSignal(ctx, store.SignalStop); err != nil {
		cp.log.Error("consume stop", "error", err)
	} else if consumed {
		cp.log.Info("stop signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := cp.shutdown(shutdownCtx); err != nil {
			cp.log.Error("graceful shutdown", "error", err)
		}
		if err := cp.ReleaseRunning(context.Background()); err != nil {
			cp.log.Error("release RUNNING flag", "error", err)
		}
		os.Exit(0)
	}

	// refresh-dashboard is forwarded to the dashboard collaborator, which
	// is out of the core's scope (spec §4.9); the core only needs to not
	// let it pile up unconsumed.
	if consumed, err := cp.signals.ConsumeSignal(ctx, store.SignalRefreshDash); err != nil {
		cp.log.Error("consume refresh-dashboard", "error", err)
	} else if consumed {
		cp.log.Info("refresh-dashboard signal consumed (forwarded to dashboard collaborator)")
	}

	return nil
}

// PauseForDuration sends pause-sync and records the resume time as the
// PAUSED flag's variant, reusing the flag's existing slot rather than a
// new table (spec §4.9 expansion). A background check in Run observes
// the elapsed duration and auto-resumes (see AutoResumeCheck).
func (cp *ControlPlane) PauseForDuration(ctx context.Context, resumeAt time.Time) error {
	if err := cp.signals.SendSignal(ctx, store.SignalPauseSync); err != nil {
		return err
	}
	return cp.flags.SetFlag(ctx, store.FlagPaused, resumeAt.Format(time.RFC3339))
}

// AutoResumeCheck clears PAUSED once its recorded resume time has
// passed; Run calls it at the start of every poll.
func (cp *ControlPlane) AutoResumeCheck(ctx context.Context) error {
	variant, ok, err := cp.flags.GetFlagData(ctx, store.FlagPaused)
	if err != nil || !ok || variant == "" {
		return err
	}
	resumeAt, err := time.Parse(time.RFC3339, variant)
	if err != nil {
		return nil // manually paused (no duration recorded), leave alone
	}
	if time.Now().Before(resumeAt) {
		return nil
	}
	cp.log.Info("pause duration elapsed, auto-resuming")
	return cp.flags.ClearFlag(ctx, store.FlagPaused)
}
