// Package lockfile backs the RUNNING flag's liveness guarantee with an
// OS-level advisory lock, grounded on the daemon's flock-based "immune to
// PID reuse" authoritative liveness check (cmd/bd/sync.go, daemon_autostart.go)
// and its isProcessRunning/signal-0 PID probe (daemon_server.go).
package lockfile

import (
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// Lock wraps an advisory file lock at path, used to make the RUNNING
// flag's PID immune to PID reuse: a stale PID that still matches a dead
// process's old slot is distinguished from a live daemon by whether the
// lock can be acquired.
type Lock struct {
	flock *flock.Flock
	path  string
}

// New constructs a Lock at path without acquiring it.
func New(path string) *Lock {
	return &Lock{flock: flock.New(path), path: path}
}

// TryLock attempts a non-blocking exclusive lock, reporting whether it
// was acquired. A failed acquisition means another live process holds it.
func (l *Lock) TryLock() (bool, error) {
	return l.flock.TryLock()
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.flock.Unlock()
}

// IsProcessAlive probes pid with signal 0, the standard zero-cost
// liveness check (daemon_server.go's isProcessRunning).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(unix.Signal(0))
	return err == nil
}

