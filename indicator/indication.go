package indicator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ystepanoff/tallycomm/protocol"
)

type Color uint8

const (
	ColorOff Color = iota
	ColorRed
	ColorGreen
	ColorBlue
	ColorYellow
	ColorOrange
	ColorPurple
	ColorMagenta
	ColorWhite
)

var colorNames = [...]string{"off", "red", "green", "blue", "yellow", "orange", "purple", "magenta", "white"}

func (c Color) String() string {
	if int(c) < len(colorNames) {
		return colorNames[c]
	}
	return "unknown"
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

type Pattern uint8

const (
	PatternSolid Pattern = iota
	PatternBlink
	PatternPulse
	PatternFlash
)

var patternNames = [...]string{"solid", "blink", "pulse", "flash"}

func (p Pattern) String() string {
	if int(p) < len(patternNames) {
		return patternNames[p]
	}
	return "unknown"
}

func (p Pattern) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Indication is what the light should show.
type Indication struct {
	Color   Color   `json:"color"`
	Pattern Pattern `json:"pattern"`
}

// TestStep is how long each colour of the lamp test is shown.
const TestStep = 2 * time.Second

// TestSequence is the lamp test: each colour the light uses for a state, in order.
var TestSequence = []Indication{
	{ColorRed, PatternSolid},
	{ColorGreen, PatternSolid},
	{ColorBlue, PatternSolid},
	{ColorYellow, PatternSolid},
	{ColorOrange, PatternSolid},
	{ColorPurple, PatternSolid},
	{ColorMagenta, PatternSolid},
}

// Indicate maps connection and tally state to an indication. STANDBY renders like
// PREVIEW.
func Indicate(state State, tally protocol.DisplayState, sourceConnected, lostLink bool) Indication {
	switch state {
	case StateScanning, StateConnecting:
		return Indication{ColorOrange, PatternBlink}
	case StateError:
		return Indication{ColorPurple, PatternSolid}
	case StateDisconnected:
		if lostLink {
			return Indication{ColorMagenta, PatternSolid}
		}
		return Indication{ColorOff, PatternSolid}
	case StateConnected:
		return Indication{ColorBlue, PatternSolid}
	}

	if !sourceConnected {
		return Indication{ColorYellow, PatternPulse}
	}
	switch tally {
	case protocol.StateProgram:
		return Indication{ColorRed, PatternSolid}
	case protocol.StatePreview, protocol.StateStandby:
		return Indication{ColorGreen, PatternSolid}
	case protocol.StateNoSource:
		return Indication{ColorYellow, PatternPulse}
	default:
		return Indication{ColorBlue, PatternSolid}
	}
}

// Renderer drives the physical output.
type Renderer interface {
	Render(Indication)
}

type RendererFunc func(Indication)

func (f RendererFunc) Render(i Indication) { f(i) }

// LogRenderer writes every indication change to a logger.
type LogRenderer struct {
	Log zerolog.Logger
}

func (r LogRenderer) Render(i Indication) {
	r.Log.Info().Stringer("color", i.Color).Stringer("pattern", i.Pattern).Msg("indication")
}
