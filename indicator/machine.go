// Package indicator implements the receiver side of the link: discovery, connection,
// registration and heartbeat-based liveness, plus the mapping from state to light.
package indicator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ystepanoff/tallycomm/heartbeat"
	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

// DataFlash is how long a valid message lights the white flash.
const DataFlash = 100 * time.Millisecond

var ErrBusy = errors.New("link already active")

type Config struct {
	CameraID   uint8
	Identity   string
	BridgeName string

	ScanWindow        time.Duration
	ConnectTimeout    time.Duration
	RetryInterval     time.Duration
	MaxRetries        int
	CooldownFactor    int
	RegistrationRetry time.Duration
	HeartbeatTimeout  time.Duration
	// MessageTimeout tears down a link stuck in CONNECTED.
	MessageTimeout time.Duration
	ErrorFlash     time.Duration
}

func DefaultConfig() Config {
	return Config{
		CameraID:          1,
		Identity:          "Tally_CAM_1",
		BridgeName:        "ATEM_Bridge_BLE",
		ScanWindow:        5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		RetryInterval:     15 * time.Second,
		MaxRetries:        5,
		CooldownFactor:    3,
		RegistrationRetry: 5 * time.Second,
		HeartbeatTimeout:  heartbeat.DefaultTimeout,
		MessageTimeout:    60 * time.Second,
		ErrorFlash:        500 * time.Millisecond,
	}
}

// Stats counts receiver activity since start.
type Stats struct {
	MessagesReceived   uint64 `json:"messages_received"`
	Heartbeats         uint64 `json:"heartbeats"`
	Corrupt            uint64 `json:"corrupt"`
	Invalid            uint64 `json:"invalid"`
	HeartbeatTimeouts  uint64 `json:"heartbeat_timeouts"`
	ConnectionAttempts uint64 `json:"connection_attempts"`
	Registrations      uint64 `json:"registrations_sent"`
}

// Status is a point-in-time view for operators.
type Status struct {
	CameraID        uint8                 `json:"camera_id"`
	Identity        string                `json:"identity"`
	State           State                 `json:"state"`
	Tally           protocol.DisplayState `json:"tally"`
	SourceConnected bool                  `json:"source_connected"`
	Held            bool                  `json:"held"`
	RetryAttempts   int                   `json:"retry_attempts"`
	MaxRetries      int                   `json:"max_retries"`
	InState         time.Duration         `json:"in_state_ns"`
	HeartbeatAge    time.Duration         `json:"heartbeat_age_ns"`
	LastMessageAge  time.Duration         `json:"last_message_age_ns"`
	SessionOnline   time.Duration         `json:"session_online_ns"`
	TotalOnline     time.Duration         `json:"total_online_ns"`
	Uptime          time.Duration         `json:"uptime_ns"`
	Indication      Indication            `json:"indication"`
	Testing         bool                  `json:"testing"`
	Stats           Stats                 `json:"stats"`
}

// Machine is the receiver connection state machine. Every method must be called from
// the node loop; it is not safe for concurrent use.
type Machine struct {
	cfg      Config
	link     transport.Client
	renderer Renderer
	metrics  *metrics.Indicator
	log      zerolog.Logger

	state     State
	enteredAt time.Time
	startedAt time.Time
	retry     RetryPolicy
	watchdog  *heartbeat.Watchdog
	held      bool

	bridge             transport.ConnID
	lastMessageAt      time.Time
	lastRegistrationAt time.Time
	acknowledged       bool

	tally           protocol.DisplayState
	sourceConnected bool
	lostLink        bool
	errorFlashUntil time.Time
	dataFlashUntil  time.Time
	testStart       time.Time
	shown           Indication
	rendered        bool

	onlineSince time.Time
	totalOnline time.Duration
	stats       Stats
}

// New creates a machine in DISCONNECTED. renderer and m may be nil.
func New(cfg Config, link transport.Client, renderer Renderer, m *metrics.Indicator) *Machine {
	if renderer == nil {
		renderer = RendererFunc(func(Indication) {})
	}
	return &Machine{
		cfg:      cfg,
		link:     link,
		renderer: renderer,
		metrics:  m,
		log:      pkglog.Component("indicator").With().Uint8(pkglog.FieldCameraID, cfg.CameraID).Logger(),
		retry: RetryPolicy{
			Interval:       cfg.RetryInterval,
			MaxAttempts:    cfg.MaxRetries,
			CooldownFactor: cfg.CooldownFactor,
		},
		watchdog: heartbeat.NewWatchdog(cfg.HeartbeatTimeout),
	}
}

// Start stamps the initial state; call it once before the first Tick.
func (m *Machine) Start(now time.Time) {
	m.startedAt = now
	m.enteredAt = now
	m.metrics.State(m.state.String(), stateLabels())
	m.render(now)
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Tally() protocol.DisplayState { return m.tally }

func (m *Machine) transition(now time.Time, next State, reason string) {
	prev := m.state
	if prev.Online() && !next.Online() && !m.onlineSince.IsZero() {
		m.totalOnline += now.Sub(m.onlineSince)
		m.onlineSince = time.Time{}
	}
	if !prev.Online() && next.Online() {
		m.onlineSince = now
	}

	m.state = next
	m.enteredAt = now
	m.metrics.State(next.String(), stateLabels())
	m.log.Info().Stringer("from", prev).Stringer("to", next).Str("reason", reason).Msg("state change")
}

// Step drains every queued link event and then runs the timers.
func (m *Machine) Step(now time.Time) {
	transport.Drain(m.link.Events(), func(ev transport.Event) { m.HandleEvent(now, ev) })
	m.Tick(now)
}

// HandleEvent applies one transport event.
func (m *Machine) HandleEvent(now time.Time, ev transport.Event) {
	switch ev.Kind {
	case transport.EventFound:
		if m.state != StateScanning {
			return
		}
		m.link.StopScan()
		m.bridge = ev.Conn
		if err := m.link.Connect(ev.Conn); err != nil {
			m.log.Warn().Err(err).Msg("connect request failed")
			m.transition(now, StateError, "connect request failed")
			return
		}
		m.transition(now, StateConnecting, "bridge found")

	case transport.EventConnected:
		if m.state.Online() {
			// Repeated completion of the link already in use.
			m.log.Debug().Str(pkglog.FieldConnID, string(ev.Conn)).Msg("ignored duplicate connect")
			return
		}
		if m.state != StateConnecting {
			// Late completion of an attempt already abandoned.
			_ = m.link.Disconnect()
			return
		}
		m.retry.Reset()
		m.lostLink = false
		m.transition(now, StateConnected, "link up")
		if m.sendRegistration(now) {
			m.enterRegistered(now)
		}

	case transport.EventConnectFailed:
		if m.state == StateConnecting {
			m.transition(now, StateError, "connect failed")
		}

	case transport.EventDisconnected:
		switch {
		case m.state == StateConnecting:
			m.transition(now, StateError, "link dropped while connecting")
		case m.state.Online():
			m.goOffline(now, "link lost")
		}

	case transport.EventReceived:
		if m.state.Online() {
			m.handleData(now, ev.Data)
		}
	}
}

func (m *Machine) handleData(now time.Time, data []byte) {
	msg, err := protocol.ParseMessage(data)
	switch {
	case errors.Is(err, protocol.ErrInvalidFormat):
		m.stats.Invalid++
		m.metrics.Message("invalid")
		m.log.Debug().Err(err).Int("bytes", len(data)).Msg("dropped message")
		return
	case errors.Is(err, protocol.ErrChecksumMismatch):
		m.stats.Corrupt++
		m.metrics.Message("corrupt")
		m.errorFlashUntil = now.Add(m.cfg.ErrorFlash)
		m.log.Warn().Err(err).Msg("dropped corrupt message")
		return
	}

	m.stats.MessagesReceived++
	m.metrics.Message("valid")
	m.lastMessageAt = now
	m.watchdog.Feed(now)
	m.dataFlashUntil = now.Add(DataFlash)
	m.sourceConnected = msg.SourceStatus.Connected()

	if m.state == StateConnected {
		m.enterRegistered(now)
	}

	if msg.IsHeartbeat() {
		m.stats.Heartbeats++
		return
	}
	if msg.CameraID != m.cfg.CameraID {
		m.log.Debug().Uint8("for_camera", msg.CameraID).Msg("ignored message for another camera")
		return
	}
	state, err := msg.DisplayState()
	if err != nil {
		m.log.Debug().Err(err).Msg("ignored unknown state")
		return
	}
	m.acknowledged = true
	if state != m.tally {
		m.log.Info().Stringer(pkglog.FieldState, state).Msg("tally")
		m.tally = state
	}
}

func (m *Machine) enterRegistered(now time.Time) {
	m.acknowledged = false
	m.watchdog.Feed(now)
	m.transition(now, StateRegistered, "registration sent")
}

func (m *Machine) sendRegistration(now time.Time) bool {
	m.lastRegistrationAt = now
	reg := protocol.FormatRegistration(protocol.Registration{CameraID: m.cfg.CameraID, Identity: m.cfg.Identity})
	if err := m.link.Send(reg); err != nil {
		m.log.Warn().Err(err).Msg("registration send failed")
		return false
	}
	m.stats.Registrations++
	m.metrics.RegistrationSent()
	m.log.Debug().Str(pkglog.FieldIdentity, m.cfg.Identity).Msg("registration sent")
	return true
}

// goOffline moves to DISCONNECTED after losing an established link and allows an
// immediate rescan.
func (m *Machine) goOffline(now time.Time, reason string) {
	m.lostLink = true
	m.retry.Reset()
	m.transition(now, StateDisconnected, reason)
}

func (m *Machine) teardown(now time.Time, reason string) {
	if err := m.link.Disconnect(); err != nil {
		m.log.Debug().Err(err).Msg("disconnect")
	}
	m.goOffline(now, reason)
}

// Tick runs every timer of the current state and refreshes the light.
func (m *Machine) Tick(now time.Time) {
	elapsed := now.Sub(m.enteredAt)

	switch m.state {
	case StateDisconnected:
		if !m.held && m.retry.Ready(now) {
			m.retry.Record(now)
			m.stats.ConnectionAttempts++
			m.metrics.ConnectAttempt()
			m.log.Info().Int("attempt", m.retry.Attempts()).Int("max", m.cfg.MaxRetries).Msg("reconnection attempt")
			m.startScan(now)
		}

	case StateScanning:
		if elapsed >= m.cfg.ScanWindow {
			m.link.StopScan()
			m.transition(now, StateDisconnected, "scan window expired")
		}

	case StateConnecting:
		if elapsed >= m.cfg.ConnectTimeout {
			_ = m.link.Disconnect()
			m.transition(now, StateError, "connect timeout")
		}

	case StateConnected:
		switch {
		case elapsed >= m.cfg.MessageTimeout:
			m.teardown(now, "message timeout")
		case now.Sub(m.lastRegistrationAt) >= m.cfg.RegistrationRetry:
			if m.sendRegistration(now) {
				m.enterRegistered(now)
			}
		}

	case StateRegistered:
		switch {
		case m.watchdog.Expired(now):
			m.stats.HeartbeatTimeouts++
			m.metrics.HeartbeatTimeout()
			m.log.Warn().Dur("silent", m.watchdog.Age(now)).Msg("heartbeat timeout")
			m.teardown(now, "heartbeat timeout")
		case !m.acknowledged && now.Sub(m.lastRegistrationAt) >= m.cfg.RegistrationRetry:
			m.sendRegistration(now)
		}

	case StateError:
		if elapsed >= m.cfg.RetryInterval {
			m.startScan(now)
		}
	}

	m.render(now)
}

func (m *Machine) startScan(now time.Time) {
	if err := m.link.StartScan(m.cfg.BridgeName); err != nil {
		m.log.Warn().Err(err).Msg("scan failed to start")
		m.transition(now, StateError, "scan failed")
		return
	}
	m.transition(now, StateScanning, "scanning for "+m.cfg.BridgeName)
}

func (m *Machine) indication(now time.Time) Indication {
	if m.testing(now) {
		return TestSequence[now.Sub(m.testStart)/TestStep]
	}
	switch {
	case now.Before(m.errorFlashUntil):
		return Indication{ColorPurple, PatternFlash}
	case now.Before(m.dataFlashUntil):
		return Indication{ColorWhite, PatternFlash}
	}
	return Indicate(m.state, m.tally, m.sourceConnected, m.lostLink)
}

func (m *Machine) render(now time.Time) {
	ind := m.indication(now)
	if m.rendered && ind == m.shown {
		return
	}
	m.shown = ind
	m.rendered = true
	m.renderer.Render(ind)
}

func (m *Machine) testing(now time.Time) bool {
	if m.testStart.IsZero() || now.Before(m.testStart) {
		return false
	}
	return now.Sub(m.testStart) < time.Duration(len(TestSequence))*TestStep
}

// Test runs the lamp test. The link keeps running underneath and the light returns
// to normal indication once the sequence ends.
func (m *Machine) Test(now time.Time) error {
	m.testStart = now
	m.log.Info().Dur("duration", time.Duration(len(TestSequence))*TestStep).Msg("lamp test")
	m.render(now)
	return nil
}

// Connect clears the retry counter and any hold, then scans immediately when idle.
func (m *Machine) Connect(now time.Time) error {
	m.held = false
	m.retry.Reset()
	if m.state != StateDisconnected && m.state != StateError {
		return fmt.Errorf("%w: %s", ErrBusy, m.state)
	}
	m.retry.Record(now)
	m.stats.ConnectionAttempts++
	m.metrics.ConnectAttempt()
	m.startScan(now)
	return nil
}

// Disconnect drops the link and holds the machine in DISCONNECTED until Connect.
func (m *Machine) Disconnect(now time.Time) error {
	m.held = true
	switch m.state {
	case StateScanning:
		m.link.StopScan()
	case StateConnecting, StateConnected, StateRegistered:
		_ = m.link.Disconnect()
	default:
		return nil
	}
	m.transition(now, StateDisconnected, "operator disconnect")
	return nil
}

// Register resends the registration over an open link.
func (m *Machine) Register(now time.Time) error {
	if !m.state.Online() {
		return protocol.ErrNotConnected
	}
	if !m.sendRegistration(now) {
		return fmt.Errorf("registration: %w", protocol.ErrNotConnected)
	}
	if m.state == StateConnected {
		m.enterRegistered(now)
	}
	return nil
}

func (m *Machine) Status(now time.Time) Status {
	st := Status{
		CameraID:        m.cfg.CameraID,
		Identity:        m.cfg.Identity,
		State:           m.state,
		Tally:           m.tally,
		SourceConnected: m.sourceConnected,
		Held:            m.held,
		RetryAttempts:   m.retry.Attempts(),
		MaxRetries:      m.cfg.MaxRetries,
		InState:         now.Sub(m.enteredAt),
		TotalOnline:     m.totalOnline,
		Uptime:          now.Sub(m.startedAt),
		Indication:      m.indication(now),
		Testing:         m.testing(now),
		Stats:           m.stats,
	}
	if m.state.Online() {
		st.HeartbeatAge = m.watchdog.Age(now)
		st.SessionOnline = now.Sub(m.onlineSince)
		st.TotalOnline += st.SessionOnline
	}
	if !m.lastMessageAt.IsZero() {
		st.LastMessageAge = now.Sub(m.lastMessageAt)
	}
	return st
}

func stateLabels() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = s.String()
	}
	return out
}
