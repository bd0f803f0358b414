package transport

import (
	"fmt"
	"strconv"
	"time"

	proto "github.com/ystepanoff/tallycomm/protocol"
)

// RadioDriver is the raw packet radio under RadioServer and RadioClient. Rx returns
// proto.ErrTimeout when nothing arrives within timeout.
type RadioDriver interface {
	StartHFCLK()
	Configure(address uint32, prefix byte, channel uint8) error
	SetChannel(channel uint8) error
	Tx(data []byte) error
	Rx(timeout time.Duration) ([]byte, error)
}

// RadioConnID renders a link address as a connection id.
func RadioConnID(id proto.DeviceID) ConnID { return ConnID(fmt.Sprintf("%08x", uint32(id))) }

func ParseRadioConnID(conn ConnID) (proto.DeviceID, error) {
	v, err := strconv.ParseUint(string(conn), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", proto.ErrUnknownPeer, conn)
	}
	return proto.DeviceID(v), nil
}
