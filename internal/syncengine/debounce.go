package syncengine

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid Trigger calls into a single fn invocation,
// firing delay after the last Trigger. Grounded on the daemon's watcher
// debounce call shape (NewDebouncer(delay, fn), Trigger, Cancel): a timer
// restarted on every incoming activity, fired once activity stops.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
}

// NewDebouncer constructs a Debouncer that calls fn delay after the last
// Trigger call, with no timer running until the first Trigger.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the debounce timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Cancel stops any pending timer without firing fn. Safe to call even if
// no timer is running.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
