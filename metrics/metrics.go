// Package metrics exposes Prometheus collectors for the bridge and indicator nodes.
// Every method is safe on a nil receiver so nodes can run without metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures collector registration.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry sets the registerer. Default: prometheus.DefaultRegisterer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func newConfig(opts []Option) Config {
	cfg := Config{Namespace: "tally", Registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Bridge holds the bridge node collectors.
type Bridge struct {
	messagesSent    *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	devicesActive   prometheus.Gauge
	sourceConnected prometheus.Gauge
	cameraState     *prometheus.GaugeVec
	linkEvents      *prometheus.CounterVec
}

func NewBridge(opts ...Option) *Bridge {
	cfg := newConfig(opts)
	factory := promauto.With(cfg.Registry)

	return &Bridge{
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "messages_sent_total",
			Help:        "Tally messages delivered to receivers, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "registrations_total",
			Help:        "Registration attempts by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		devicesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "devices_active",
			Help:        "Registered receivers with an open link",
			ConstLabels: cfg.ConstLabels,
		}),

		sourceConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "source_connected",
			Help:        "1 while the switcher is reachable",
			ConstLabels: cfg.ConstLabels,
		}),

		cameraState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "camera_state",
			Help:        "1 for the display state each camera currently derives",
			ConstLabels: cfg.ConstLabels,
		}, []string{"camera", "state"}),

		linkEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "bridge",
			Name:        "link_events_total",
			Help:        "Transport events consumed by the bridge loop",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
	}
}

func (m *Bridge) MessagesSent(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesSent.WithLabelValues(kind).Add(float64(n))
}

func (m *Bridge) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Bridge) DevicesActive(n int) {
	if m == nil {
		return
	}
	m.devicesActive.Set(float64(n))
}

func (m *Bridge) SourceConnected(connected bool) {
	if m == nil {
		return
	}
	m.sourceConnected.Set(boolValue(connected))
}

// CameraState moves a camera's 1 from previous to state.
func (m *Bridge) CameraState(cameraID uint8, previous, state string) {
	if m == nil {
		return
	}
	cam := strconv.Itoa(int(cameraID))
	if previous != "" && previous != state {
		m.cameraState.WithLabelValues(cam, previous).Set(0)
	}
	m.cameraState.WithLabelValues(cam, state).Set(1)
}

func (m *Bridge) LinkEvent(kind string) {
	if m == nil {
		return
	}
	m.linkEvents.WithLabelValues(kind).Inc()
}

// Indicator holds the receiver node collectors.
type Indicator struct {
	state             *prometheus.GaugeVec
	messages          *prometheus.CounterVec
	heartbeatTimeouts prometheus.Counter
	connectAttempts   prometheus.Counter
	registrationsSent prometheus.Counter
}

func NewIndicator(opts ...Option) *Indicator {
	cfg := newConfig(opts)
	factory := promauto.With(cfg.Registry)

	return &Indicator{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "indicator",
			Name:        "connection_state",
			Help:        "1 for the current connection state",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "indicator",
			Name:        "messages_received_total",
			Help:        "Messages received from the bridge by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "indicator",
			Name:        "heartbeat_timeouts_total",
			Help:        "Links torn down after the bridge went silent",
			ConstLabels: cfg.ConstLabels,
		}),

		connectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "indicator",
			Name:        "connect_attempts_total",
			Help:        "Scans started from DISCONNECTED",
			ConstLabels: cfg.ConstLabels,
		}),

		registrationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   "indicator",
			Name:        "registrations_sent_total",
			Help:        "Registration messages sent to the bridge",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// State sets the gauge for current to 1 and every other listed state to 0.
func (m *Indicator) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.state.WithLabelValues(s).Set(boolValue(s == current))
	}
}

func (m *Indicator) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

func (m *Indicator) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Indicator) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Indicator) RegistrationSent() {
	if m == nil {
		return
	}
	m.registrationsSent.Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
