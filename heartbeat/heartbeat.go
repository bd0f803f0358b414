// Package heartbeat holds the liveness timing shared by both ends of a link: the bridge
// paces heartbeats, the receiver watches for them.
package heartbeat

import "time"

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// Pacer decides when the bridge owes its receivers a heartbeat.
type Pacer struct {
	Interval time.Duration
	last     time.Time
	started  bool
}

func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pacer{Interval: interval}
}

// Due reports whether a heartbeat should go out at now and, if so, records it as sent.
// The first call is always due.
func (p *Pacer) Due(now time.Time) bool {
	if p.started && now.Sub(p.last) < p.Interval {
		return false
	}
	p.Reset(now)
	return true
}

// Reset records an out-of-band heartbeat sent at now.
func (p *Pacer) Reset(now time.Time) {
	p.last = now
	p.started = true
}

// Watchdog tracks the last sign of life from the bridge.
type Watchdog struct {
	Timeout time.Duration
	last    time.Time
	fed     bool
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{Timeout: timeout}
}

func (w *Watchdog) Feed(now time.Time) {
	w.last = now
	w.fed = true
}

// Expired reports whether more than Timeout elapsed since the last Feed. An unfed
// watchdog never expires.
func (w *Watchdog) Expired(now time.Time) bool {
	return w.fed && now.Sub(w.last) > w.Timeout
}

// Age is the time since the last Feed, zero when never fed.
func (w *Watchdog) Age(now time.Time) time.Duration {
	if !w.fed {
		return 0
	}
	return now.Sub(w.last)
}

func (w *Watchdog) Last() (time.Time, bool) { return w.last, w.fed }
