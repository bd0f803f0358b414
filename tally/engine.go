// Package tally derives per-camera display states from raw switcher flags.
package tally

import (
	"time"

	"github.com/ystepanoff/tallycomm/protocol"
)

// Flags are the raw switcher bits for one camera. Live takes precedence over Preview.
type Flags struct {
	Live    bool `json:"live"`
	Preview bool `json:"preview"`
}

// FlagsFunc reads the current raw flags of a camera.
type FlagsFunc func(cameraID uint8) Flags

// Derive computes a camera's display state. anyLive is whether any camera, at any index,
// is currently live.
func Derive(f Flags, sourceConnected, standbyAsPreview, anyLive bool) protocol.DisplayState {
	switch {
	case !sourceConnected:
		return protocol.StateNoSource
	case f.Live:
		return protocol.StateProgram
	case f.Preview:
		return protocol.StatePreview
	case standbyAsPreview && anyLive:
		return protocol.StateStandby
	default:
		return protocol.StateOff
	}
}

// Change is emitted when a camera's derived state differs from the last emitted one.
type Change struct {
	CameraID uint8
	State    protocol.DisplayState
	Previous protocol.DisplayState
}

// Camera is a read-only view of one camera's slot.
type Camera struct {
	ID            uint8                 `json:"id"`
	Flags         Flags                 `json:"flags"`
	State         protocol.DisplayState `json:"state"`
	LastChangedAt time.Time             `json:"last_changed_at"`
}

// Engine owns the per-camera table. It is not safe for concurrent use; the owning node
// loop is its only caller.
type Engine struct {
	standbyAsPreview bool
	sourceConnected  bool
	raw              []Flags
	states           []protocol.DisplayState
	changedAt        []time.Time
}

// NewEngine creates an engine for cameras 1..cameras. Every camera starts in
// StateUnknown so the first Update reports all of them.
func NewEngine(cameras int, standbyAsPreview bool) *Engine {
	if cameras < 1 {
		cameras = protocol.DefaultCameras
	}
	if cameras > protocol.MaxCameras {
		cameras = protocol.MaxCameras
	}
	return &Engine{
		standbyAsPreview: standbyAsPreview,
		raw:              make([]Flags, cameras),
		states:           make([]protocol.DisplayState, cameras),
		changedAt:        make([]time.Time, cameras),
	}
}

func (e *Engine) Cameras() int { return len(e.raw) }

func (e *Engine) StandbyAsPreview() bool { return e.standbyAsPreview }

// SetStandbyAsPreview toggles the standby rule. The next Update re-derives every camera.
func (e *Engine) SetStandbyAsPreview(on bool) { e.standbyAsPreview = on }

func (e *Engine) SourceConnected() bool { return e.sourceConnected }

// Update snapshots the raw flags, re-derives every camera and returns the cameras whose
// state changed. rawChanged reports whether any raw flag differs from the last snapshot.
func (e *Engine) Update(now time.Time, sourceConnected bool, flags FlagsFunc) (changes []Change, rawChanged bool) {
	e.sourceConnected = sourceConnected
	for i := range e.raw {
		f := flags(uint8(i + 1))
		if f != e.raw[i] {
			e.raw[i] = f
			rawChanged = true
		}
	}

	anyLive := e.AnyLive()
	for i, f := range e.raw {
		next := Derive(f, sourceConnected, e.standbyAsPreview, anyLive)
		if next == e.states[i] {
			continue
		}
		changes = append(changes, Change{CameraID: uint8(i + 1), State: next, Previous: e.states[i]})
		e.states[i] = next
		e.changedAt[i] = now
	}
	return changes, rawChanged
}

// AnyLive reports whether any camera in the current snapshot is live.
func (e *Engine) AnyLive() bool {
	for _, f := range e.raw {
		if f.Live {
			return true
		}
	}
	return false
}

// State returns the last derived state of a camera, or StateUnknown when out of range.
func (e *Engine) State(cameraID uint8) protocol.DisplayState {
	if !e.valid(cameraID) {
		return protocol.StateUnknown
	}
	return e.states[cameraID-1]
}

func (e *Engine) Camera(cameraID uint8) (Camera, bool) {
	if !e.valid(cameraID) {
		return Camera{}, false
	}
	i := int(cameraID) - 1
	return Camera{ID: cameraID, Flags: e.raw[i], State: e.states[i], LastChangedAt: e.changedAt[i]}, true
}

// Snapshot returns every camera in index order.
func (e *Engine) Snapshot() []Camera {
	out := make([]Camera, 0, len(e.raw))
	for i := range e.raw {
		c, _ := e.Camera(uint8(i + 1))
		out = append(out, c)
	}
	return out
}

func (e *Engine) valid(cameraID uint8) bool {
	return cameraID >= 1 && int(cameraID) <= len(e.raw)
}
