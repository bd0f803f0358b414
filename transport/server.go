package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	proto "github.com/ystepanoff/tallycomm/protocol"
)

// RadioServer is the bridge end of the radio link. It advertises its name, accepts
// connect requests and tracks connected peers until they leave or go silent.
type RadioServer struct {
	id      proto.DeviceID
	name    string
	driver  RadioDriver
	channel uint8
	log     zerolog.Logger

	// Now is the link clock used for peer liveness.
	Now func() time.Time

	mu    sync.Mutex
	seq   uint32
	peers map[proto.DeviceID]*proto.Peer

	events chan Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewRadioServer(id proto.DeviceID, name string, d RadioDriver) *RadioServer {
	return &RadioServer{
		id:      id,
		name:    name,
		driver:  d,
		channel: proto.DefaultChannel,
		log:     pkglog.Component("radio_server").With().Str(pkglog.FieldLink, name).Logger(),
		Now:     time.Now,
		peers:   make(map[proto.DeviceID]*proto.Peer),
		events:  make(chan Event, EventBuffer),
		stop:    make(chan struct{}),
	}
}

func (s *RadioServer) Initialise() {
	s.driver.StartHFCLK()
	_ = s.driver.Configure(uint32(s.id), byte(s.id), s.channel)
}

func (s *RadioServer) SetChannel(ch uint8) error {
	if ch > proto.MaxChannel {
		return proto.ErrInvalidChannel
	}
	s.channel = ch
	return s.driver.SetChannel(ch)
}

// Listen starts the receive loop and the advertise/expiry task.
func (s *RadioServer) Listen() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			default:
			}
			if frame := s.ReceiveFrame(100 * time.Millisecond); frame != nil {
				s.ProcessFrame(frame)
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(proto.AdvertiseInterval * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				_ = s.Advertise()
				s.CleanupDeadPeers()
			}
		}
	}()
}

func (s *RadioServer) ReceiveFrame(timeout time.Duration) *proto.Frame {
	data, err := s.driver.Rx(timeout)
	if err != nil {
		return nil
	}
	return proto.DecodeFrame(data)
}

func (s *RadioServer) ProcessFrame(frame *proto.Frame) {
	if frame == nil || frame.SenderID == s.id || !frame.Addressed(s.id) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	peer, known := s.peers[frame.SenderID]
	conn := RadioConnID(frame.SenderID)

	switch frame.Type {
	case proto.FrameTypeConnect:
		key, ok := proto.SessionKey(frame.Payload)
		if !ok {
			return
		}
		if known && peer.Connected && peer.SessionKey != key {
			// The client restarted its session without us seeing the disconnect.
			Emit(s.events, Event{Kind: EventDisconnected, Conn: conn})
			known = false
		}
		if peer == nil {
			peer = proto.NewPeer(frame.SenderID, proto.RoleReceiver, now)
			s.peers[frame.SenderID] = peer
		}
		peer.Name = string(frame.Payload[4:])
		peer.SessionKey = key
		peer.UpdateLastSeen(now)
		_ = s.txLocked(frame.SenderID, proto.FrameTypeAccept, proto.AcceptPayload(key))
		if !known || !peer.Connected {
			peer.Connected = true
			s.log.Info().Str(pkglog.FieldConnID, string(conn)).Str(pkglog.FieldIdentity, peer.Name).Msg("peer connected")
			Emit(s.events, Event{Kind: EventConnected, Conn: conn})
		}
	case proto.FrameTypeKeepalive:
		if known {
			peer.UpdateLastSeen(now)
			_ = s.txLocked(frame.SenderID, proto.FrameTypeKeepalive, nil)
		}
	case proto.FrameTypeData:
		if known {
			peer.UpdateLastSeen(now)
			Emit(s.events, Event{Kind: EventReceived, Conn: conn, Data: frame.Payload})
		}
	case proto.FrameTypeDisconnect:
		if known {
			delete(s.peers, frame.SenderID)
			s.log.Info().Str(pkglog.FieldConnID, string(conn)).Msg("peer disconnected")
			Emit(s.events, Event{Kind: EventDisconnected, Conn: conn})
		}
	}
}

// Advertise broadcasts the server name so scanning clients can find it.
func (s *RadioServer) Advertise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txLocked(proto.BroadcastID, proto.FrameTypeAdvertise, []byte(s.name))
}

func (s *RadioServer) Send(conn ConnID, data []byte) error {
	id, err := ParseRadioConnID(conn)
	if err != nil {
		return err
	}
	if len(data) > proto.MaxPayloadSize {
		return proto.ErrInvalidPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[id]; !ok {
		return fmt.Errorf("%w: %s", proto.ErrUnknownPeer, conn)
	}
	return s.txLocked(id, proto.FrameTypeData, data)
}

func (s *RadioServer) txLocked(to proto.DeviceID, frameType byte, payload []byte) error {
	frame := &proto.Frame{
		SenderID: s.id,
		TargetID: to,
		Type:     frameType,
		Seq:      s.seq,
		Payload:  payload,
	}
	s.seq++
	return s.driver.Tx(proto.EncodeFrame(frame))
}

// CleanupDeadPeers drops peers silent for longer than PeerTimeout and reports them
// disconnected.
func (s *RadioServer) CleanupDeadPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for id, peer := range s.peers {
		if !peer.IsAliveAt(now) {
			s.log.Warn().Str(pkglog.FieldConnID, string(RadioConnID(id))).Msg("peer timed out")
			delete(s.peers, id)
			Emit(s.events, Event{Kind: EventDisconnected, Conn: RadioConnID(id)})
		}
	}
}

// Peers returns a copy of every connected peer.
func (s *RadioServer) Peers() []proto.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]proto.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	return out
}

func (s *RadioServer) Events() <-chan Event { return s.events }

func (s *RadioServer) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}
