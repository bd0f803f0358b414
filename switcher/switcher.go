// Package switcher provides the video-switcher side of the bridge: whether a source is
// connected, and the raw program/preview flags of every camera.
package switcher

import (
	"sync"

	"github.com/ystepanoff/tallycomm/tally"
)

// Client is polled by the bridge loop. Implementations must be safe for concurrent use.
type Client interface {
	IsConnected() bool
	TallyFlags(cameraID uint8) tally.Flags
}

// Snapshot is a complete switcher state as published on the feed.
type Snapshot struct {
	Connected bool  `json:"connected"`
	Program   []int `json:"program"`
	Preview   []int `json:"preview"`
}

// Manual is a settable switcher.
type Manual struct {
	mu        sync.RWMutex
	connected bool
	flags     map[uint8]tally.Flags
}

func NewManual() *Manual {
	return &Manual{flags: make(map[uint8]tally.Flags)}
}

func (m *Manual) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Manual) TallyFlags(cameraID uint8) tally.Flags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[cameraID]
}

func (m *Manual) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

func (m *Manual) SetFlags(cameraID uint8, f tally.Flags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == (tally.Flags{}) {
		delete(m.flags, cameraID)
		return
	}
	m.flags[cameraID] = f
}

// Cut puts program on air and preview in preview, clearing every other camera.
func (m *Manual) Cut(program, preview uint8) {
	m.Apply(Snapshot{Connected: m.IsConnected(), Program: []int{int(program)}, Preview: []int{int(preview)}})
}

// Apply replaces the whole state with s. Ids outside 1..255 are ignored.
func (m *Manual) Apply(s Snapshot) {
	flags := make(map[uint8]tally.Flags, len(s.Program)+len(s.Preview))
	for _, id := range s.Program {
		if id > 0 && id <= 255 {
			f := flags[uint8(id)]
			f.Live = true
			flags[uint8(id)] = f
		}
	}
	for _, id := range s.Preview {
		if id > 0 && id <= 255 {
			f := flags[uint8(id)]
			f.Preview = true
			flags[uint8(id)] = f
		}
	}

	m.mu.Lock()
	m.connected = s.Connected
	m.flags = flags
	m.mu.Unlock()
}

// Snapshot returns the current state with ids in ascending order.
func (m *Manual) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{Connected: m.connected, Program: []int{}, Preview: []int{}}
	for id := 1; id <= 255; id++ {
		f, ok := m.flags[uint8(id)]
		if !ok {
			continue
		}
		if f.Live {
			s.Program = append(s.Program, id)
		}
		if f.Preview {
			s.Preview = append(s.Preview, id)
		}
	}
	return s
}
