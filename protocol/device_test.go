package protocol

import (
	"testing"
	"time"
)

func TestPeerLiveness(t *testing.T) {
	start := time.Unix(100, 0)
	p := NewPeer(0xC1, RoleReceiver, start)

	tests := []struct {
		name string
		at   time.Duration
		want bool
	}{
		{"just seen", 0, true},
		{"inside timeout", PeerTimeout*time.Millisecond - time.Millisecond, true},
		{"at timeout", PeerTimeout * time.Millisecond, false},
		{"long silent", time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsAliveAt(start.Add(tt.at)); got != tt.want {
				t.Errorf("IsAliveAt(+%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}

	p.UpdateLastSeen(start.Add(time.Minute))
	if !p.IsAliveAt(start.Add(time.Minute + time.Second)) {
		t.Error("peer not alive right after UpdateLastSeen")
	}
}
