package protocol

import "fmt"

// DisplayState is the per-camera state shown by an indicator.
type DisplayState uint8

const (
	StateUnknown DisplayState = iota
	StateProgram
	StatePreview
	StateStandby
	StateOff
	StateNoSource
)

// Wire names. HeartbeatState is carried only by heartbeat messages.
const (
	wireProgram    = "PROGRAM"
	wirePreview    = "PREVIEW"
	wireStandby    = "STANDBY"
	wireOff        = "OFF"
	wireNoSource   = "NO_SOURCE"
	HeartbeatState = "HEARTBEAT"
)

var displayStateNames = map[DisplayState]string{
	StateProgram:  wireProgram,
	StatePreview:  wirePreview,
	StateStandby:  wireStandby,
	StateOff:      wireOff,
	StateNoSource: wireNoSource,
}

func (s DisplayState) String() string {
	if name, ok := displayStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether s is one of the wire display states.
func (s DisplayState) Valid() bool {
	_, ok := displayStateNames[s]
	return ok
}

// ParseDisplayState maps a wire name back to its DisplayState.
func ParseDisplayState(name string) (DisplayState, error) {
	for s, n := range displayStateNames {
		if n == name {
			return s, nil
		}
	}
	return StateUnknown, fmt.Errorf("%w: %q", ErrInvalidState, name)
}

func (s DisplayState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *DisplayState) UnmarshalText(b []byte) error {
	v, err := ParseDisplayState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SourceStatus reports whether the bridge holds a live switcher session.
type SourceStatus uint8

const (
	SourceNone      SourceStatus = 0
	SourceConnected SourceStatus = 1
)

func SourceStatusOf(connected bool) SourceStatus {
	if connected {
		return SourceConnected
	}
	return SourceNone
}

func (s SourceStatus) Connected() bool { return s == SourceConnected }

func (s SourceStatus) String() string {
	if s == SourceConnected {
		return "SOURCE_CONNECTED"
	}
	return "NO_SOURCE"
}
