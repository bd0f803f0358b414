// Package ws carries the tally link over WebSocket, for receivers that reach the bridge
// over a network instead of radio.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

var ErrQueueFull = errors.New("send queue full")

// Advert is served on the discovery endpoint.
type Advert struct {
	Name string `json:"name"`
}

type ServerConfig struct {
	Name         string
	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendQueue    int
}

func DefaultServerConfig(name string) ServerConfig {
	return ServerConfig{
		Name:         name,
		ReadLimit:    512,
		PingInterval: 5 * time.Second,
		PongWait:     15 * time.Second,
		WriteTimeout: 2 * time.Second,
		SendQueue:    32,
	}
}

type conn struct {
	id   transport.ConnID
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Server implements transport.Server. ServeHTTP accepts receiver connections.
type Server struct {
	cfg      ServerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
	events   chan transport.Event

	mu     sync.Mutex
	conns  map[transport.ConnID]*conn
	closed bool
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:    pkglog.Component("ws_server"),
		events: make(chan transport.Event, transport.EventBuffer),
		conns:  make(map[transport.ConnID]*conn),
	}
}

// AdvertHandler answers discovery probes with the bridge name.
func (s *Server) AdvertHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Advert{Name: s.cfg.Name})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   transport.ConnID(uuid.NewString()),
		ws:   ws,
		send: make(chan []byte, s.cfg.SendQueue),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.Info().Str(pkglog.FieldConnID, string(c.id)).Str(pkglog.FieldClientIP, r.RemoteAddr).Msg("receiver connected")
	transport.Emit(s.events, transport.Event{Kind: transport.EventConnected, Conn: c.id})

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *conn) {
	defer s.drop(c)

	c.ws.SetReadLimit(s.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str(pkglog.FieldConnID, string(c.id)).Msg("read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		transport.Emit(s.events, transport.Event{Kind: transport.EventReceived, Conn: c.id, Data: data})
	}
}

func (s *Server) writePump(c *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) drop(c *conn) {
	c.close()

	s.mu.Lock()
	_, ok := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	if ok {
		s.log.Info().Str(pkglog.FieldConnID, string(c.id)).Msg("receiver disconnected")
		transport.Emit(s.events, transport.Event{Kind: transport.EventDisconnected, Conn: c.id})
	}
}

// Send queues data for conn without blocking.
func (s *Server) Send(id transport.ConnID, data []byte) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return protocol.ErrUnknownPeer
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.send <- buf:
		return nil
	case <-c.done:
		return protocol.ErrNotConnected
	default:
		return ErrQueueFull
	}
}

// Conns lists the open connections.
func (s *Server) Conns() []transport.ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.ConnID, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

func (s *Server) Events() <-chan transport.Event { return s.events }

// Close drops every connection. Disconnect events are not reported for them.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := s.conns
	s.conns = make(map[transport.ConnID]*conn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		c.close()
	}
	return nil
}
