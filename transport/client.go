package transport

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	proto "github.com/ystepanoff/tallycomm/protocol"
)

// RadioClient is the receiver end of the radio link.
type RadioClient struct {
	id      proto.DeviceID
	name    string
	driver  RadioDriver
	channel uint8
	log     zerolog.Logger

	// ConnectTimeout bounds a connect attempt before EventConnectFailed is reported.
	ConnectTimeout time.Duration
	// Now is the link clock used for deadlines and server liveness.
	Now func() time.Time

	mu         sync.Mutex
	seq        uint32
	target     string // advert name being scanned for, empty when idle
	server     *proto.Peer
	connected  bool
	connecting bool
	deadline   time.Time
	lastTx     time.Time

	events chan Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewRadioClient(id proto.DeviceID, name string, d RadioDriver) *RadioClient {
	return &RadioClient{
		id:             id,
		name:           name,
		driver:         d,
		channel:        proto.DefaultChannel,
		log:            pkglog.Component("radio_client").With().Str(pkglog.FieldIdentity, name).Logger(),
		ConnectTimeout: 10 * time.Second,
		Now:            time.Now,
		events:         make(chan Event, EventBuffer),
		stop:           make(chan struct{}),
	}
}

func (c *RadioClient) Initialise() {
	c.driver.StartHFCLK()
	_ = c.driver.Configure(uint32(c.id), byte(c.id), c.channel)
}

func (c *RadioClient) SetChannel(ch uint8) error {
	if ch > proto.MaxChannel {
		return proto.ErrInvalidChannel
	}
	c.channel = ch
	return c.driver.SetChannel(ch)
}

// Listen starts the receive loop and the connect/keepalive task.
func (c *RadioClient) Listen() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stop:
				return
			default:
			}
			if frame := c.ReceiveFrame(100 * time.Millisecond); frame != nil {
				c.ProcessFrame(frame)
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.housekeeping(c.Now())
			}
		}
	}()
}

func (c *RadioClient) ReceiveFrame(timeout time.Duration) *proto.Frame {
	data, err := c.driver.Rx(timeout)
	if err != nil {
		return nil
	}
	return proto.DecodeFrame(data)
}

func (c *RadioClient) ProcessFrame(frame *proto.Frame) {
	if frame == nil || frame.SenderID == c.id || !frame.Addressed(c.id) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.Now()
	fromServer := c.server != nil && c.server.ID == frame.SenderID

	switch frame.Type {
	case proto.FrameTypeAdvertise:
		if c.target != "" && string(frame.Payload) == c.target {
			c.target = ""
			Emit(c.events, Event{Kind: EventFound, Conn: RadioConnID(frame.SenderID)})
		}
	case proto.FrameTypeAccept:
		key, ok := proto.SessionKey(frame.Payload)
		if !fromServer || !c.connecting || !ok || key != c.server.SessionKey {
			return
		}
		c.connecting = false
		c.connected = true
		c.server.Connected = true
		c.server.UpdateLastSeen(now)
		c.log.Info().Str(pkglog.FieldConnID, string(RadioConnID(frame.SenderID))).Msg("connected")
		Emit(c.events, Event{Kind: EventConnected, Conn: RadioConnID(frame.SenderID)})
	case proto.FrameTypeKeepalive:
		if fromServer && c.connected {
			c.server.UpdateLastSeen(now)
		}
	case proto.FrameTypeData:
		if fromServer && c.connected {
			c.server.UpdateLastSeen(now)
			Emit(c.events, Event{Kind: EventReceived, Conn: RadioConnID(frame.SenderID), Data: frame.Payload})
		}
	case proto.FrameTypeDisconnect:
		if fromServer && (c.connected || c.connecting) {
			c.dropLocked()
		}
	}
}

func (c *RadioClient) housekeeping(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.connecting && now.After(c.deadline):
		c.log.Warn().Msg("connect timed out")
		conn := RadioConnID(c.server.ID)
		c.connecting = false
		c.server = nil
		Emit(c.events, Event{Kind: EventConnectFailed, Conn: conn})
	case c.connecting && now.Sub(c.lastTx) >= proto.AdvertiseInterval*time.Millisecond:
		// Connect requests are resent until accepted; the radio drops frames.
		c.lastTx = now
		_ = c.txLocked(c.server.ID, proto.FrameTypeConnect, proto.ConnectPayload(c.server.SessionKey, c.name))
	case c.connected && !c.server.IsAliveAt(now):
		c.log.Warn().Msg("server silent, dropping link")
		c.dropLocked()
	case c.connected && now.Sub(c.lastTx) >= proto.KeepaliveInterval*time.Millisecond:
		c.lastTx = now
		_ = c.txLocked(c.server.ID, proto.FrameTypeKeepalive, nil)
	}
}

func (c *RadioClient) dropLocked() {
	conn := RadioConnID(c.server.ID)
	wasConnecting := c.connecting
	c.connected = false
	c.connecting = false
	c.server = nil
	if wasConnecting {
		Emit(c.events, Event{Kind: EventConnectFailed, Conn: conn})
		return
	}
	Emit(c.events, Event{Kind: EventDisconnected, Conn: conn})
}

func (c *RadioClient) StartScan(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
	return nil
}

func (c *RadioClient) StopScan() {
	c.mu.Lock()
	c.target = ""
	c.mu.Unlock()
}

// Connect starts a handshake with the bridge found by a scan. Any previous link is
// abandoned.
func (c *RadioClient) Connect(conn ConnID) error {
	id, err := ParseRadioConnID(conn)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil && (c.connected || c.connecting) {
		_ = c.txLocked(c.server.ID, proto.FrameTypeDisconnect, nil)
	}
	now := c.Now()
	c.server = proto.NewPeer(id, proto.RoleBridge, now)
	c.server.SessionKey = proto.GenerateSessionKey()
	c.connected = false
	c.connecting = true
	c.deadline = now.Add(c.ConnectTimeout)
	c.lastTx = now
	return c.txLocked(id, proto.FrameTypeConnect, proto.ConnectPayload(c.server.SessionKey, c.name))
}

// Disconnect tears the link down locally. It does not report EventDisconnected: the
// caller already knows.
func (c *RadioClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		return nil
	}
	err := c.txLocked(c.server.ID, proto.FrameTypeDisconnect, nil)
	c.connected = false
	c.connecting = false
	c.server = nil
	return err
}

func (c *RadioClient) Send(data []byte) error {
	if len(data) > proto.MaxPayloadSize {
		return proto.ErrInvalidPayload
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return proto.ErrNotConnected
	}
	return c.txLocked(c.server.ID, proto.FrameTypeData, data)
}

func (c *RadioClient) txLocked(to proto.DeviceID, frameType byte, payload []byte) error {
	frame := &proto.Frame{
		SenderID: c.id,
		TargetID: to,
		Type:     frameType,
		Seq:      c.seq,
		Payload:  payload,
	}
	c.seq++
	return c.driver.Tx(proto.EncodeFrame(frame))
}

func (c *RadioClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *RadioClient) Events() <-chan Event { return c.events }

func (c *RadioClient) Close() error {
	_ = c.Disconnect()
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}
