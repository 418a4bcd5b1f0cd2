package service

import (
	"context"
	"time"
)

// Debouncer coalesces bursts of signals: fire runs once the signal stream
// has been quiet for the debounce interval. Every Signal restarts the wait.
type Debouncer struct {
	interval time.Duration
	notify   chan struct{}
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

// Signal records activity. It never blocks.
func (d *Debouncer) Signal() {
	select {
	case d.notify <- struct{}{}:
	default:
		// Already signaled; the loop hasn't consumed it yet.
	}
}

// Run calls fire after each quiet period until ctx is canceled. A pending
// fire is dropped on cancellation.
func (d *Debouncer) Run(ctx context.Context, fire func()) {
	timer := time.NewTimer(d.interval)
	timer.Stop() // idle until the first signal
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-d.notify:
			if !timer.Stop() && timerActive {
				<-timer.C
			}
			timer.Reset(d.interval)
			timerActive = true

		case <-timer.C:
			timerActive = false
			fire()
		}
	}
}
