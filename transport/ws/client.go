package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

var ErrBusy = errors.New("connection already in progress")

const probeTimeout = 2 * time.Second

type ClientConfig struct {
	// URL is the bridge link endpoint, e.g. ws://host:8080/link.
	URL string
	// AdvertURL is probed while scanning, e.g. http://host:8080/advert.
	AdvertURL      string
	ProbeInterval  time.Duration
	ConnectTimeout time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
}

func DefaultClientConfig(url, advertURL string) ClientConfig {
	return ClientConfig{
		URL:            url,
		AdvertURL:      advertURL,
		ProbeInterval:  500 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
		PongWait:       15 * time.Second,
		WriteTimeout:   2 * time.Second,
	}
}

// Client implements transport.Client. Discovery polls the advert endpoint; the
// connection ID of a found bridge is its link URL.
type Client struct {
	cfg    ClientConfig
	http   *resty.Client
	dialer *websocket.Dialer
	log    zerolog.Logger
	events chan transport.Event

	mu         sync.Mutex
	stopScan   context.CancelFunc
	cancelDial context.CancelFunc
	conn       *websocket.Conn
	gen        uint64
	closed     bool

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:    cfg,
		http:   resty.New().SetTimeout(probeTimeout).SetHeader("Accept", "application/json"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		log:    pkglog.Component("ws_client").With().Str(pkglog.FieldLink, cfg.URL).Logger(),
		events: make(chan transport.Event, transport.EventBuffer),
	}
}

func (c *Client) StartScan(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrNotConnected
	}
	if c.stopScan != nil {
		c.stopScan()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopScan = cancel
	go c.scan(ctx, target)
	return nil
}

func (c *Client) scan(ctx context.Context, target string) {
	ticker := time.NewTicker(c.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		if c.probe(ctx, target) {
			transport.Emit(c.events, transport.Event{Kind: transport.EventFound, Conn: transport.ConnID(c.cfg.URL)})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) probe(ctx context.Context, target string) bool {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&Advert{}).
		Get(c.cfg.AdvertURL)
	if err != nil || !resp.IsSuccess() {
		return false
	}
	advert, ok := resp.Result().(*Advert)
	return ok && advert.Name == target && ctx.Err() == nil
}

func (c *Client) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopScan != nil {
		c.stopScan()
		c.stopScan = nil
	}
}

// Connect dials in the background; the outcome arrives as an event.
func (c *Client) Connect(id transport.ConnID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrNotConnected
	}
	if c.conn != nil || c.cancelDial != nil {
		return ErrBusy
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.cancelDial = cancel
	go c.dial(ctx, gen, string(id))
	return nil
}

func (c *Client) dial(ctx context.Context, gen uint64, url string) {
	ws, _, err := c.dialer.DialContext(ctx, url, nil)

	c.mu.Lock()
	current := gen == c.gen && !c.closed
	if current {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		c.mu.Unlock()
		if current {
			c.log.Debug().Err(err).Msg("dial failed")
			transport.Emit(c.events, transport.Event{Kind: transport.EventConnectFailed, Conn: transport.ConnID(url)})
		}
		return
	}
	if !current {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.conn = ws
	c.mu.Unlock()

	transport.Emit(c.events, transport.Event{Kind: transport.EventConnected, Conn: transport.ConnID(url)})
	c.readPump(ws, gen, url)
}

func (c *Client) readPump(ws *websocket.Conn, gen uint64, url string) {
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		transport.Emit(c.events, transport.Event{Kind: transport.EventReceived, Conn: transport.ConnID(url), Data: data})
	}

	c.mu.Lock()
	current := gen == c.gen && c.conn == ws
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = ws.Close()

	if current {
		c.log.Info().Msg("bridge connection lost")
		transport.Emit(c.events, transport.Event{Kind: transport.EventDisconnected, Conn: transport.ConnID(url)})
	}
}

// Disconnect closes the link or abandons a pending dial. It reports no event.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.gen++
	ws := c.conn
	c.conn = nil
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Close()
}

func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	ws := c.conn
	c.mu.Unlock()
	if ws == nil {
		return protocol.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Events() <-chan transport.Event { return c.events }

func (c *Client) Close() error {
	c.StopScan()
	err := c.Disconnect()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
