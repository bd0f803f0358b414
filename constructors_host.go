package tallycomm

import (
	"sync"
	"time"

	"github.com/ystepanoff/tallycomm/driver/stub"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

// Network is an in-process radio channel. Links created on the same Network hear each
// other through a shared stub.Ether, so a bridge and several lights can run in one
// process without hardware.
type Network struct {
	ether *stub.Ether

	mu     sync.Mutex
	nextID DeviceID
}

func NewNetwork() *Network {
	return &Network{ether: stub.NewEther(), nextID: 0x100}
}

// Ether returns the shared medium, e.g. to install a loss function.
func (n *Network) Ether() *stub.Ether { return n.ether }

func (n *Network) allocID() DeviceID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return n.nextID
}

// BridgeLink attaches a radio server advertising name and starts it listening.
func (n *Network) BridgeLink(name string, channel uint8) (*transport.RadioServer, error) {
	s := transport.NewRadioServer(n.allocID(), name, n.ether.Attach())
	s.Initialise()
	if channel != protocol.DefaultChannel {
		if err := s.SetChannel(channel); err != nil {
			return nil, err
		}
	}
	s.Listen()
	return s, nil
}

// LightLink attaches a radio client for identity and starts it listening.
func (n *Network) LightLink(identity string, channel uint8, connectTimeout time.Duration) (*transport.RadioClient, error) {
	c := transport.NewRadioClient(n.allocID(), identity, n.ether.Attach())
	if connectTimeout > 0 {
		c.ConnectTimeout = connectTimeout
	}
	c.Initialise()
	if channel != protocol.DefaultChannel {
		if err := c.SetChannel(channel); err != nil {
			return nil, err
		}
	}
	c.Listen()
	return c, nil
}
