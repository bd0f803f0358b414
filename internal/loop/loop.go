// Package loop runs a node on a single goroutine. The tick function and every
// injected command execute on that goroutine, so node state needs no locking.
package loop

import (
	"context"
	"time"
)

type command struct {
	fn   func(now time.Time)
	done chan struct{}
}

type Loop struct {
	interval time.Duration
	tick     func(now time.Time)
	cmds     chan command

	// Now is the loop's clock.
	Now func() time.Time
}

func New(interval time.Duration, tick func(now time.Time)) *Loop {
	return &Loop{
		interval: interval,
		tick:     tick,
		cmds:     make(chan command),
		Now:      time.Now,
	}
}

// Run ticks until ctx is cancelled. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(l.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick(l.Now())
		case c := <-l.cmds:
			c.fn(l.Now())
			close(c.done)
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func(now time.Time)) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case l.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
