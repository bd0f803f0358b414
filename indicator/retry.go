package indicator

import "time"

// RetryPolicy paces scans started from DISCONNECTED: a fixed interval while below
// MaxAttempts, then a single cooldown of Interval*CooldownFactor after which the
// counter resets.
type RetryPolicy struct {
	Interval       time.Duration
	MaxAttempts    int
	CooldownFactor int

	attempts int
	last     time.Time
	started  bool
}

// Ready reports whether a new attempt may start at now. Once the cooldown has elapsed
// it clears the attempt counter.
func (p *RetryPolicy) Ready(now time.Time) bool {
	if !p.started {
		return true
	}
	elapsed := now.Sub(p.last)
	if p.attempts < p.MaxAttempts {
		return elapsed >= p.Interval
	}
	if elapsed >= p.Interval*time.Duration(p.CooldownFactor) {
		p.attempts = 0
		return true
	}
	return false
}

// Record counts an attempt started at now.
func (p *RetryPolicy) Record(now time.Time) {
	p.started = true
	p.attempts++
	p.last = now
}

// Reset clears the counter and allows an immediate attempt.
func (p *RetryPolicy) Reset() {
	p.started = false
	p.attempts = 0
}

func (p *RetryPolicy) Attempts() int { return p.attempts }

// CoolingDown reports whether the cap has been reached and the cooldown is running.
func (p *RetryPolicy) CoolingDown() bool { return p.started && p.attempts >= p.MaxAttempts }
