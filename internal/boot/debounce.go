package boot

import (
	"context"
	"time"
)

// Debouncer coalesces bursts of Notify calls into one fn invocation,
// fired after the burst has been quiet for the configured delay. Edits
// arrive in flurries; pushing once per flurry keeps the bus traffic
// proportional to editing sessions, not keystrokes.
type Debouncer struct {
	delay  time.Duration
	fn     func(ctx context.Context)
	notify chan struct{}
}

// NewDebouncer builds a debouncer around fn.
func NewDebouncer(delay time.Duration, fn func(ctx context.Context)) *Debouncer {
	return &Debouncer{
		delay:  delay,
		fn:     fn,
		notify: make(chan struct{}, 1),
	}
}

// Notify signals that work is pending. Never blocks; signals during an
// open window collapse into the pending invocation.
func (d *Debouncer) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run services notifications until the context is cancelled. Each
// notification opens (or extends) a quiet window of the configured
// delay; fn runs when the window closes.
func (d *Debouncer) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-d.notify:
			if timer == nil {
				timer = time.NewTimer(d.delay)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.delay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			timer = nil
			d.fn(ctx)
		}
	}
}
