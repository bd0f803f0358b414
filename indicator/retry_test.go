package indicator

import (
	"testing"
	"time"
)

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Interval: 10 * time.Second, MaxAttempts: 2, CooldownFactor: 3}
	start := time.Unix(0, 0)

	if !p.Ready(start) {
		t.Fatal("fresh policy not ready")
	}
	p.Record(start)
	if p.Ready(start.Add(9 * time.Second)) {
		t.Error("ready before the interval")
	}
	if !p.Ready(start.Add(10 * time.Second)) {
		t.Error("not ready after the interval")
	}
	p.Record(start.Add(10 * time.Second))

	if !p.CoolingDown() {
		t.Error("CoolingDown() = false at the cap")
	}
	if p.Ready(start.Add(39 * time.Second)) {
		t.Error("ready during cooldown")
	}
	if !p.Ready(start.Add(40 * time.Second)) {
		t.Error("not ready after cooldown")
	}
	if p.Attempts() != 0 || p.CoolingDown() {
		t.Errorf("Attempts() = %v after cooldown, want 0", p.Attempts())
	}

	p.Record(start.Add(40 * time.Second))
	p.Reset()
	if !p.Ready(start.Add(40 * time.Second)) || p.Attempts() != 0 {
		t.Error("Reset() did not allow an immediate attempt")
	}
}
