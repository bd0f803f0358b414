package indicator

// State is the receiver connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateRegistered
	StateError
)

var stateNames = [...]string{
	StateDisconnected: "DISCONNECTED",
	StateScanning:     "SCANNING",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateRegistered:   "REGISTERED",
	StateError:        "ERROR",
}

// States lists every state in declaration order.
var States = []State{StateDisconnected, StateScanning, StateConnecting, StateConnected, StateRegistered, StateError}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Online reports whether the transport link is up in this state.
func (s State) Online() bool { return s == StateConnected || s == StateRegistered }
