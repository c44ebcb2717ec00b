package watcher

import (
	"slices"
	"time"
)

// debouncer coalesces bursts of events into one batch. A batch is released
// delay after the last event, or maxDelay after the first one, whichever
// comes first. It is owned by the watch loop and not safe for concurrent
// use.
type debouncer struct {
	delay    time.Duration
	maxDelay time.Duration

	pending map[string]struct{}
	first   time.Time
	timer   *time.Timer
}

func newDebouncer(delay, maxDelay time.Duration) *debouncer {
	if maxDelay < delay {
		maxDelay = delay
	}
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &debouncer{
		delay:    delay,
		maxDelay: maxDelay,
		pending:  make(map[string]struct{}),
		timer:    t,
	}
}

// add records path and re-arms the timer.
func (d *debouncer) add(path string, now time.Time) {
	if len(d.pending) == 0 {
		d.first = now
	}
	d.pending[path] = struct{}{}

	wait := d.delay
	if rest := d.maxDelay - now.Sub(d.first); rest < wait {
		wait = max(rest, 0)
	}
	d.timer.Reset(wait)
}

// C fires when the pending batch is due.
func (d *debouncer) C() <-chan time.Time { return d.timer.C }

// flush returns the pending paths, sorted, and starts a new batch.
func (d *debouncer) flush() []string {
	batch := make([]string, 0, len(d.pending))
	for p := range d.pending {
		batch = append(batch, p)
	}
	clear(d.pending)
	slices.Sort(batch)
	return batch
}

func (d *debouncer) stop() { d.timer.Stop() }
