package transport

// ConnID identifies one logical connection (server side) or one discovered bridge
// (client side).
type ConnID string

// EventKind enumerates what a link reports to its node loop.
type EventKind uint8

const (
	EventFound EventKind = iota + 1
	EventConnected
	EventConnectFailed
	EventDisconnected
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventFound:
		return "found"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Event is delivered on a link's Events channel and consumed by the node loop.
type Event struct {
	Kind EventKind
	Conn ConnID
	Data []byte
}

// Server is the bridge end of a link: many receivers, one send primitive per connection.
type Server interface {
	Send(conn ConnID, data []byte) error
	Events() <-chan Event
	Close() error
}

// Client is the receiver end of a link. Connect is asynchronous; its outcome arrives as
// EventConnected or EventConnectFailed.
type Client interface {
	StartScan(target string) error
	StopScan()
	Connect(conn ConnID) error
	Disconnect() error
	Send(data []byte) error
	Events() <-chan Event
	Close() error
}

// EventBuffer is the channel depth used by the bundled links.
const EventBuffer = 64

// Emit queues ev without blocking. When the consumer is not keeping up the event is
// dropped and false is returned; the protocol tolerates loss.
func Emit(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Drain calls fn for every event already queued on ch and returns without waiting.
func Drain(ch <-chan Event, fn func(Event)) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fn(ev)
		default:
			return
		}
	}
}
