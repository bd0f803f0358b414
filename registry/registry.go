// Package registry tracks which receiver identity drives which camera and fans encoded
// tally messages out to the live ones.
package registry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

const DefaultCapacity = 4

// Sender delivers one encoded message to one connection.
type Sender interface {
	Send(conn transport.ConnID, data []byte) error
}

// StateSource answers what a camera currently shows. The tally engine implements it.
type StateSource interface {
	State(cameraID uint8) protocol.DisplayState
	SourceConnected() bool
}

// Record is one fixed slot. Slots are claimed once and never freed; LinkUp=false only
// takes a slot out of routing.
type Record struct {
	Slot       int              `json:"slot"`
	Identity   string           `json:"identity"`
	CameraID   uint8            `json:"camera_id"`
	LastSeenAt time.Time        `json:"last_seen_at"`
	Registered bool             `json:"registered"`
	LinkUp     bool             `json:"link_up"`
	Conn       transport.ConnID `json:"conn_id,omitempty"`
}

func (r Record) routable() bool { return r.Registered && r.LinkUp }

// Stats counts registry traffic since start.
type Stats struct {
	MessagesSent  uint64 `json:"messages_sent"`
	Heartbeats    uint64 `json:"heartbeats_sent"`
	SendErrors    uint64 `json:"send_errors"`
	Registrations uint64 `json:"registrations"`
	Rejected      uint64 `json:"rejected"`
}

// Registry is owned by the bridge loop and is not safe for concurrent use.
type Registry struct {
	slots    []Record
	bridgeID uint8
	epoch    time.Time
	sender   Sender
	state    StateSource
	stats    Stats
	log      zerolog.Logger
}

// New creates a registry with capacity slots. Message timestamps are milliseconds
// since epoch.
func New(capacity int, bridgeID uint8, epoch time.Time, sender Sender, state StateSource) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	slots := make([]Record, capacity)
	for i := range slots {
		slots[i].Slot = i
	}
	return &Registry{
		slots:    slots,
		bridgeID: bridgeID,
		epoch:    epoch,
		sender:   sender,
		state:    state,
		log:      pkglog.Component("registry"),
	}
}

// Register claims or reuses a slot for identity and immediately sends the camera's
// current state to it. An identity already on file keeps its slot; otherwise the first
// unregistered slot is claimed, and ErrRegistryFull is returned when there is none.
// delivered reports whether the current state went out.
func (r *Registry) Register(now time.Time, conn transport.ConnID, identity string, cameraID uint8) (slot int, delivered bool, err error) {
	if cameraID == protocol.HeartbeatCameraID {
		return -1, false, protocol.ErrInvalidCamera
	}

	slot = r.find(identity)
	if slot < 0 {
		r.stats.Rejected++
		r.log.Warn().Str(pkglog.FieldIdentity, identity).Uint8(pkglog.FieldCameraID, cameraID).Msg("registry full, registration rejected")
		return -1, false, fmt.Errorf("%w: %d slots in use", protocol.ErrRegistryFull, len(r.slots))
	}

	// A connection carries one identity at a time.
	for i := range r.slots {
		if i != slot && r.slots[i].Conn == conn && r.slots[i].LinkUp {
			r.slots[i].LinkUp = false
		}
	}

	rec := &r.slots[slot]
	resumed := rec.Registered
	rec.Identity = identity
	rec.CameraID = cameraID
	rec.LastSeenAt = now
	rec.Registered = true
	rec.LinkUp = true
	rec.Conn = conn
	r.stats.Registrations++

	r.log.Info().
		Int(pkglog.FieldSlot, slot).
		Str(pkglog.FieldIdentity, identity).
		Uint8(pkglog.FieldCameraID, cameraID).
		Str(pkglog.FieldConnID, string(conn)).
		Bool("resumed", resumed).
		Msg("device registered")

	if state := r.state.State(cameraID); state.Valid() {
		delivered = r.send(rec, protocol.NewStateMessage(cameraID, state, r.Timestamp(now), r.bridgeID, protocol.SourceStatusOf(r.state.SourceConnected())))
	}
	return slot, delivered, nil
}

func (r *Registry) find(identity string) int {
	for i, rec := range r.slots {
		if rec.Registered && rec.Identity == identity {
			return i
		}
	}
	for i, rec := range r.slots {
		if !rec.Registered {
			return i
		}
	}
	return -1
}

// MarkLinkDown takes a slot out of routing. Identity and camera assignment survive.
func (r *Registry) MarkLinkDown(slot int) {
	if slot < 0 || slot >= len(r.slots) || !r.slots[slot].LinkUp {
		return
	}
	r.slots[slot].LinkUp = false
	r.log.Info().Int(pkglog.FieldSlot, slot).Str(pkglog.FieldIdentity, r.slots[slot].Identity).Msg("device link down")
}

// MarkConnDown marks every slot bound to conn as down and returns how many were.
func (r *Registry) MarkConnDown(conn transport.ConnID) int {
	n := 0
	for i := range r.slots {
		if r.slots[i].Conn == conn && r.slots[i].LinkUp {
			r.MarkLinkDown(i)
			n++
		}
	}
	return n
}

// Touch refreshes lastSeenAt for the slots bound to conn.
func (r *Registry) Touch(now time.Time, conn transport.ConnID) {
	for i := range r.slots {
		if r.slots[i].Conn == conn && r.slots[i].LinkUp {
			r.slots[i].LastSeenAt = now
		}
	}
}

// RouteStateChange sends state to every live, registered slot assigned to cameraID and
// returns the number of slots it was sent to. Down slots are skipped, not queued.
func (r *Registry) RouteStateChange(now time.Time, cameraID uint8, state protocol.DisplayState) int {
	msg := protocol.NewStateMessage(cameraID, state, r.Timestamp(now), r.bridgeID, protocol.SourceStatusOf(r.state.SourceConnected()))
	n := 0
	for i := range r.slots {
		rec := &r.slots[i]
		if rec.routable() && rec.CameraID == cameraID && r.send(rec, msg) {
			n++
		}
	}
	return n
}

// RouteHeartbeat sends a heartbeat to every live, registered slot regardless of camera.
func (r *Registry) RouteHeartbeat(now time.Time, sourceConnected bool) int {
	msg := protocol.NewHeartbeatMessage(sourceConnected, r.Timestamp(now), r.bridgeID)
	n := 0
	for i := range r.slots {
		rec := &r.slots[i]
		if rec.routable() && r.send(rec, msg) {
			n++
		}
	}
	if n > 0 {
		r.stats.Heartbeats++
	}
	return n
}

func (r *Registry) send(rec *Record, msg protocol.TallyMessage) bool {
	if err := r.sender.Send(rec.Conn, protocol.EncodeMessage(msg)); err != nil {
		r.stats.SendErrors++
		r.log.Warn().Err(err).Int(pkglog.FieldSlot, rec.Slot).Str(pkglog.FieldIdentity, rec.Identity).Msg("send failed")
		return false
	}
	r.stats.MessagesSent++
	r.log.Debug().Int(pkglog.FieldSlot, rec.Slot).Stringer("msg", msg).Msg("sent")
	return true
}

// Timestamp is the message clock: milliseconds since the registry epoch, wrapping at 2^32.
func (r *Registry) Timestamp(now time.Time) uint32 {
	return uint32(now.Sub(r.epoch).Milliseconds())
}

// Records returns a copy of every slot in index order.
func (r *Registry) Records() []Record {
	out := make([]Record, len(r.slots))
	copy(out, r.slots)
	return out
}

// Active is the number of slots currently eligible for routing.
func (r *Registry) Active() int {
	n := 0
	for _, rec := range r.slots {
		if rec.routable() {
			n++
		}
	}
	return n
}

func (r *Registry) Capacity() int { return len(r.slots) }

func (r *Registry) Stats() Stats { return r.stats }
