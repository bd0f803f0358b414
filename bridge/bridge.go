// Package bridge runs the bridge node: it polls the switcher, derives camera states,
// and routes them to registered receivers over a transport.Server.
package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ystepanoff/tallycomm/events"
	"github.com/ystepanoff/tallycomm/heartbeat"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/registry"
	"github.com/ystepanoff/tallycomm/switcher"
	"github.com/ystepanoff/tallycomm/tally"
	"github.com/ystepanoff/tallycomm/transport"
)

type Config struct {
	ID                uint8
	Name              string
	Cameras           int
	MaxDevices        int
	StandbyAsPreview  bool
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ID:                protocol.DefaultBridgeID,
		Name:              "ATEM_Bridge_BLE",
		Cameras:           protocol.DefaultCameras,
		MaxDevices:        registry.DefaultCapacity,
		StandbyAsPreview:  true,
		CheckInterval:     100 * time.Millisecond,
		HeartbeatInterval: heartbeat.DefaultInterval,
	}
}

// Status is the operator view of the bridge.
type Status struct {
	Name             string            `json:"name"`
	BridgeID         uint8             `json:"bridge_id"`
	Instance         string            `json:"instance"`
	SourceConnected  bool              `json:"source_connected"`
	StandbyAsPreview bool              `json:"standby_as_preview"`
	Cameras          []tally.Camera    `json:"cameras"`
	Devices          []registry.Record `json:"devices"`
	ActiveDevices    int               `json:"active_devices"`
	Stats            registry.Stats    `json:"stats"`
	Overrides        uint64            `json:"overrides"`
	Uptime           time.Duration     `json:"uptime_ns"`
}

// Bridge is driven by a single loop goroutine and is not safe for concurrent use.
type Bridge struct {
	cfg      Config
	link     transport.Server
	switcher switcher.Client
	engine   *tally.Engine
	registry *registry.Registry
	pacer    *heartbeat.Pacer
	events   events.Publisher
	metrics  *metrics.Bridge
	log      zerolog.Logger

	instance   string
	startedAt  time.Time
	lastCheck  time.Time
	checked    bool
	recheck    bool
	lastSource bool
	overrides  uint64
}

// New creates a bridge whose message clock starts at now. pub and m may be nil.
func New(cfg Config, now time.Time, link transport.Server, sw switcher.Client, pub events.Publisher, m *metrics.Bridge) *Bridge {
	if pub == nil {
		pub = events.Nop{}
	}
	engine := tally.NewEngine(cfg.Cameras, cfg.StandbyAsPreview)
	return &Bridge{
		cfg:       cfg,
		link:      link,
		switcher:  sw,
		engine:    engine,
		registry:  registry.New(cfg.MaxDevices, cfg.ID, now, link, engine),
		pacer:     heartbeat.NewPacer(cfg.HeartbeatInterval),
		events:    pub,
		metrics:   m,
		log:       pkglog.Component("bridge").With().Str(pkglog.FieldNode, cfg.Name).Logger(),
		instance:  uuid.NewString(),
		startedAt: now,
	}
}

// Step consumes every queued link event, then runs the timers.
func (b *Bridge) Step(now time.Time) {
	transport.Drain(b.link.Events(), func(ev transport.Event) { b.HandleEvent(now, ev) })
	b.Tick(now)
}

func (b *Bridge) HandleEvent(now time.Time, ev transport.Event) {
	b.metrics.LinkEvent(ev.Kind.String())

	switch ev.Kind {
	case transport.EventConnected:
		b.log.Debug().Str(pkglog.FieldConnID, string(ev.Conn)).Msg("link opened")

	case transport.EventDisconnected:
		if n := b.registry.MarkConnDown(ev.Conn); n > 0 {
			b.log.Info().Str(pkglog.FieldConnID, string(ev.Conn)).Msg("receiver link down")
		}

	case transport.EventReceived:
		if !protocol.IsRegistration(ev.Data) {
			b.registry.Touch(now, ev.Conn)
			return
		}
		b.register(now, ev.Conn, ev.Data)
	}

	b.metrics.DevicesActive(b.registry.Active())
}

func (b *Bridge) register(now time.Time, conn transport.ConnID, data []byte) {
	reg, err := protocol.ParseRegistration(data)
	if err == nil && int(reg.CameraID) > b.engine.Cameras() {
		err = fmt.Errorf("%w: camera %d out of range", protocol.ErrRegistrationParse, reg.CameraID)
	}
	if err != nil {
		b.log.Debug().Err(err).Str(pkglog.FieldConnID, string(conn)).Msg("ignored registration")
		return
	}

	slot, delivered, err := b.registry.Register(now, conn, reg.Identity, reg.CameraID)
	ev := events.TallyEvent{
		Kind:            events.KindRegistration,
		CameraID:        reg.CameraID,
		Identity:        reg.Identity,
		SourceConnected: b.engine.SourceConnected(),
	}
	switch {
	case errors.Is(err, protocol.ErrRegistryFull):
		b.metrics.Registration("rejected")
		ev.Kind = events.KindRejected
	case err != nil:
		b.log.Debug().Err(err).Msg("ignored registration")
		return
	default:
		b.metrics.Registration("accepted")
		ev.Slot = &slot
		ev.State = b.engine.State(reg.CameraID)
		if delivered {
			ev.Delivered = 1
		}
	}
	b.publish(now, ev)
}

// Tick polls the switcher every CheckInterval and sends the periodic heartbeat.
func (b *Bridge) Tick(now time.Time) {
	if !b.checked || b.recheck || now.Sub(b.lastCheck) >= b.cfg.CheckInterval {
		b.check(now)
	}
	if b.pacer.Due(now) {
		n := b.registry.RouteHeartbeat(now, b.engine.SourceConnected())
		b.metrics.MessagesSent("heartbeat", n)
	}
}

func (b *Bridge) check(now time.Time) {
	connected := b.switcher.IsConnected()
	changes, rawChanged := b.engine.Update(now, connected, b.switcher.TallyFlags)

	if b.checked && connected != b.lastSource {
		b.log.Info().Bool("source_connected", connected).Msg("switcher source changed")
		n := b.registry.RouteHeartbeat(now, connected)
		b.pacer.Reset(now)
		b.metrics.MessagesSent("heartbeat", n)
		b.publish(now, events.TallyEvent{Kind: events.KindSource, SourceConnected: connected, Delivered: n})
	}
	if !b.checked || connected != b.lastSource {
		b.metrics.SourceConnected(connected)
	}
	b.checked = true
	b.recheck = false
	b.lastSource = connected
	b.lastCheck = now

	delivered := make(map[uint8]int, len(changes))
	if b.engine.StandbyAsPreview() && rawChanged && connected {
		// Standby depends on every camera's live flag, so a raw change resends them all.
		for cam := 1; cam <= b.engine.Cameras(); cam++ {
			delivered[uint8(cam)] = b.route(now, uint8(cam), b.engine.State(uint8(cam)))
		}
	} else {
		for _, c := range changes {
			delivered[c.CameraID] = b.route(now, c.CameraID, c.State)
		}
	}

	for _, c := range changes {
		previous := ""
		if c.Previous.Valid() {
			previous = c.Previous.String()
		}
		b.metrics.CameraState(c.CameraID, previous, c.State.String())
		b.log.Debug().Uint8(pkglog.FieldCameraID, c.CameraID).Stringer(pkglog.FieldState, c.State).Stringer("previous", c.Previous).Msg("camera state")
		b.publish(now, events.TallyEvent{
			Kind:            events.KindStateChange,
			CameraID:        c.CameraID,
			State:           c.State,
			Previous:        c.Previous,
			SourceConnected: connected,
			Delivered:       delivered[c.CameraID],
		})
	}
}

func (b *Bridge) route(now time.Time, cam uint8, state protocol.DisplayState) int {
	n := b.registry.RouteStateChange(now, cam, state)
	b.metrics.MessagesSent("state", n)
	return n
}

// Override sends state to camera cam's receivers without touching the derived state.
// The next change of that camera overwrites it.
func (b *Bridge) Override(now time.Time, cam uint8, state protocol.DisplayState) (int, error) {
	if cam < 1 || int(cam) > b.engine.Cameras() {
		return 0, fmt.Errorf("%w: %d", protocol.ErrInvalidCamera, cam)
	}
	if !state.Valid() {
		return 0, fmt.Errorf("%w: %v", protocol.ErrInvalidState, state)
	}

	n := b.registry.RouteStateChange(now, cam, state)
	b.overrides++
	b.metrics.MessagesSent("override", n)
	b.log.Info().Uint8(pkglog.FieldCameraID, cam).Stringer(pkglog.FieldState, state).Int("delivered", n).Msg("manual override")
	b.publish(now, events.TallyEvent{
		Kind:            events.KindOverride,
		CameraID:        cam,
		State:           state,
		Previous:        b.engine.State(cam),
		SourceConnected: b.engine.SourceConnected(),
		Delivered:       n,
	})
	return n, nil
}

// SetStandbyAsPreview toggles the standby rule; states are re-derived on the next check.
func (b *Bridge) SetStandbyAsPreview(on bool) {
	b.engine.SetStandbyAsPreview(on)
	b.recheck = true
	b.log.Info().Bool("standby_as_preview", on).Msg("standby rule changed")
}

func (b *Bridge) Status(now time.Time) Status {
	return Status{
		Name:             b.cfg.Name,
		BridgeID:         b.cfg.ID,
		Instance:         b.instance,
		SourceConnected:  b.engine.SourceConnected(),
		StandbyAsPreview: b.engine.StandbyAsPreview(),
		Cameras:          b.engine.Snapshot(),
		Devices:          b.registry.Records(),
		ActiveDevices:    b.registry.Active(),
		Stats:            b.registry.Stats(),
		Overrides:        b.overrides,
		Uptime:           now.Sub(b.startedAt),
	}
}

func (b *Bridge) publish(now time.Time, ev events.TallyEvent) {
	ev.Bridge = b.cfg.Name
	ev.Instance = b.instance
	ev.At = now
	if err := b.events.Publish(ev); err != nil {
		b.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("event publish failed")
	}
}
