package protocol

import "time"

// Role distinguishes the two ends of a link.
type Role uint8

const (
	RoleBridge   Role = 1
	RoleReceiver Role = 2
)

// Peer is the link-level view of the remote end of a connection.
type Peer struct {
	ID         DeviceID
	Name       string
	Role       Role
	SessionKey uint32
	Connected  bool
	LastSeen   int64 // unix milli
}

func NewPeer(id DeviceID, role Role, now time.Time) *Peer {
	return &Peer{ID: id, Role: role, LastSeen: now.UnixMilli()}
}

func (p *Peer) UpdateLastSeen(now time.Time) { p.LastSeen = now.UnixMilli() }

// IsAliveAt reports whether the peer was heard from within PeerTimeout of now.
func (p *Peer) IsAliveAt(now time.Time) bool { return now.UnixMilli()-p.LastSeen < PeerTimeout }
