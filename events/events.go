// Package events publishes what the bridge does to its receivers so other systems can
// follow tally activity.
package events

import (
	"strconv"
	"time"

	"github.com/ystepanoff/tallycomm/protocol"
)

type Kind string

const (
	KindStateChange  Kind = "state_change"
	KindOverride     Kind = "override"
	KindSource       Kind = "source"
	KindRegistration Kind = "registration"
	KindRejected     Kind = "registration_rejected"
)

// TallyEvent is one published record, encoded as JSON.
type TallyEvent struct {
	Kind            Kind                  `json:"kind"`
	Bridge          string                `json:"bridge"`
	Instance        string                `json:"instance"`
	CameraID        uint8                 `json:"camera_id,omitempty"`
	State           protocol.DisplayState `json:"state,omitempty"`
	Previous        protocol.DisplayState `json:"previous,omitempty"`
	Identity        string                `json:"identity,omitempty"`
	Slot            *int                  `json:"slot,omitempty"`
	SourceConnected bool                  `json:"source_connected"`
	Delivered       int                   `json:"delivered"`
	At              time.Time             `json:"at"`
}

// Key groups a camera's events on one partition.
func (e TallyEvent) Key() string {
	if e.CameraID == 0 {
		return e.Bridge
	}
	return e.Bridge + "/" + strconv.Itoa(int(e.CameraID))
}

// Publisher must not block the caller for long; the bridge loop publishes inline.
type Publisher interface {
	Publish(ev TallyEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(TallyEvent) error { return nil }
func (Nop) Close() error             { return nil }
