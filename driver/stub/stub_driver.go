// Package stub provides a host-side radio driver. Drivers attached to the same Ether
// hear each other's transmissions, which lets a bridge and several lights share one
// simulated channel inside a single process.
package stub

import (
	"sync"
	"time"

	proto "github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

// Ether is a shared broadcast medium.
type Ether struct {
	mu      sync.Mutex
	drivers []*Driver
	// Loss, when set, is consulted for every delivery; returning true drops the frame.
	Loss func(data []byte) bool
}

func NewEther() *Ether { return &Ether{} }

// Attach creates a driver on the medium.
func (e *Ether) Attach() *Driver {
	d := &Driver{ether: e, channel: proto.DefaultChannel}
	e.mu.Lock()
	e.drivers = append(e.drivers, d)
	e.mu.Unlock()
	return d
}

func (e *Ether) deliver(from *Driver, data []byte) {
	e.mu.Lock()
	targets := make([]*Driver, 0, len(e.drivers))
	for _, d := range e.drivers {
		if d != from {
			targets = append(targets, d)
		}
	}
	loss := e.Loss
	e.mu.Unlock()

	if loss != nil && loss(data) {
		return
	}
	for _, d := range targets {
		if d.Channel() == from.Channel() {
			d.InjectRx(data)
		}
	}
}

// Driver implements transport.RadioDriver for host-side testing and simulation.
type Driver struct {
	ether   *Ether
	mu      sync.Mutex
	channel uint8
	rxBuf   ringBuffer
	txBuf   ringBuffer
}

// New returns a driver not attached to any medium; transmissions are only logged.
func New() transport.RadioDriver { return &Driver{channel: proto.DefaultChannel} }

func (d *Driver) StartHFCLK() {}

func (d *Driver) Configure(address uint32, prefix byte, channel uint8) error {
	return d.SetChannel(channel)
}

func (d *Driver) SetChannel(channel uint8) error {
	if channel > proto.MaxChannel {
		return proto.ErrInvalidChannel
	}
	d.mu.Lock()
	d.channel = channel
	d.mu.Unlock()
	return nil
}

func (d *Driver) Channel() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

func (d *Driver) Tx(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)

	d.mu.Lock()
	d.txBuf.push(frame)
	d.mu.Unlock()

	if d.ether != nil {
		d.ether.deliver(d, frame)
	}
	return nil
}

func (d *Driver) Rx(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		frame, ok := d.rxBuf.pop()
		d.mu.Unlock()
		if ok {
			out := make([]byte, len(frame))
			copy(out, frame)
			return out, nil
		}

		if time.Now().After(deadline) {
			return nil, proto.ErrTimeout
		}
		time.Sleep(1 * time.Millisecond)
	}
}

func (d *Driver) InjectRx(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	d.rxBuf.push(frame)
}

func (d *Driver) GetTxLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txBuf.snapshot()
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = next pop, tail = next push
	count      int
}

// push overwrites the oldest frame when full.
func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		rb.data[rb.head] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return frame, true
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, 0, rb.count)
	for c, i := 0, rb.head; c < rb.count; c, i = c+1, (i+1)%ringCapacity {
		cp := make([]byte, len(rb.data[i]))
		copy(cp, rb.data[i])
		out = append(out, cp)
	}
	return out
}
