package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ystepanoff/tallycomm/events"
	"github.com/ystepanoff/tallycomm/metrics"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/switcher"
	"github.com/ystepanoff/tallycomm/tally"
	"github.com/ystepanoff/tallycomm/transport"
)

type fakeServer struct {
	events chan transport.Event
	sent   map[transport.ConnID][]protocol.TallyMessage
	fail   map[transport.ConnID]bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		events: make(chan transport.Event, transport.EventBuffer),
		sent:   make(map[transport.ConnID][]protocol.TallyMessage),
		fail:   make(map[transport.ConnID]bool),
	}
}

func (s *fakeServer) Send(conn transport.ConnID, data []byte) error {
	if s.fail[conn] {
		return protocol.ErrNotConnected
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}
	s.sent[conn] = append(s.sent[conn], msg)
	return nil
}

func (s *fakeServer) Events() <-chan transport.Event { return s.events }
func (s *fakeServer) Close() error                   { return nil }

func (s *fakeServer) take(conn transport.ConnID) []protocol.TallyMessage {
	out := s.sent[conn]
	delete(s.sent, conn)
	return out
}

type recorder struct{ log []events.TallyEvent }

func (r *recorder) Publish(ev events.TallyEvent) error {
	r.log = append(r.log, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds(kind events.Kind) []events.TallyEvent {
	var out []events.TallyEvent
	for _, ev := range r.log {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

var t0 = time.Unix(2000, 0)

func newTestBridge(cameras int) (*Bridge, *fakeServer, *switcher.Manual, *recorder) {
	cfg := DefaultConfig()
	cfg.Cameras = cameras
	srv := newFakeServer()
	sw := switcher.NewManual()
	rec := &recorder{}
	return New(cfg, t0, srv, sw, rec, nil), srv, sw, rec
}

func registration(conn transport.ConnID, cam uint8, identity string) transport.Event {
	return transport.Event{
		Kind: transport.EventReceived,
		Conn: conn,
		Data: protocol.FormatRegistration(protocol.Registration{CameraID: cam, Identity: identity}),
	}
}

func states(msgs []protocol.TallyMessage) (state []string, heartbeats []protocol.TallyMessage) {
	for _, m := range msgs {
		if m.IsHeartbeat() {
			heartbeats = append(heartbeats, m)
			continue
		}
		state = append(state, m.StateName())
	}
	return state, heartbeats
}

func TestBridge_ProgramStandbyThenSourceLoss(t *testing.T) {
	b, srv, sw, _ := newTestBridge(2)
	b.HandleEvent(t0, registration("c1", 1, "Tally_CAM_1"))
	b.HandleEvent(t0, registration("c2", 2, "Tally_CAM_2"))

	sw.SetConnected(true)
	sw.SetFlags(1, tally.Flags{Live: true})
	b.Tick(t0)

	if got, _ := states(srv.take("c1")); len(got) != 1 || got[0] != "PROGRAM" {
		t.Errorf("camera 1 receiver got %v, want [PROGRAM]", got)
	}
	if got, _ := states(srv.take("c2")); len(got) != 1 || got[0] != "STANDBY" {
		t.Errorf("camera 2 receiver got %v, want [STANDBY]", got)
	}

	sw.SetConnected(false)
	now := t0.Add(100 * time.Millisecond)
	b.Tick(now)

	for _, conn := range []transport.ConnID{"c1", "c2"} {
		got, hb := states(srv.take(conn))
		if len(got) != 1 || got[0] != "NO_SOURCE" {
			t.Errorf("%s got %v, want [NO_SOURCE]", conn, got)
		}
		if len(hb) != 1 || hb[0].SourceStatus != protocol.SourceNone {
			t.Errorf("%s heartbeats = %v, want one with source status NO_SOURCE", conn, hb)
		}
	}
	if b.Status(now).SourceConnected {
		t.Error("Status().SourceConnected = true after source loss")
	}
}

func TestBridge_ReconnectRestoresAssignment(t *testing.T) {
	b, srv, sw, _ := newTestBridge(4)
	sw.SetConnected(true)
	sw.SetFlags(1, tally.Flags{Preview: true})
	b.Tick(t0)

	b.HandleEvent(t0, registration("c1", 1, "Tally_CAM_1"))
	if got, _ := states(srv.take("c1")); len(got) != 1 || got[0] != "PREVIEW" {
		t.Fatalf("initial registration got %v, want [PREVIEW]", got)
	}

	b.HandleEvent(t0, transport.Event{Kind: transport.EventDisconnected, Conn: "c1"})
	dev := b.Status(t0).Devices[0]
	if dev.LinkUp || !dev.Registered || dev.CameraID != 1 {
		t.Fatalf("device after disconnect = %+v, want registered camera 1 with link down", dev)
	}

	// Changes while down are not queued.
	sw.SetFlags(1, tally.Flags{Live: true})
	b.Tick(t0.Add(time.Second))
	if got := srv.take("c1"); len(got) != 0 {
		t.Errorf("down receiver got %v", got)
	}

	b.HandleEvent(t0.Add(2*time.Second), registration("c9", 1, "Tally_CAM_1"))
	if got, _ := states(srv.take("c9")); len(got) != 1 || got[0] != "PROGRAM" {
		t.Errorf("re-registration got %v, want [PROGRAM]", got)
	}
	st := b.Status(t0)
	if st.Devices[0].Conn != "c9" || st.ActiveDevices != 1 {
		t.Errorf("status = %+v, want slot 0 on c9", st.Devices[0])
	}
}

func TestBridge_DiffOnlyWithoutStandby(t *testing.T) {
	b, srv, sw, _ := newTestBridge(3)
	b.SetStandbyAsPreview(false)
	sw.SetConnected(true)
	b.Tick(t0)
	b.HandleEvent(t0, registration("c1", 1, "a"))
	b.HandleEvent(t0, registration("c2", 2, "b"))
	srv.take("c1")
	srv.take("c2")

	sw.SetFlags(2, tally.Flags{Live: true})
	b.Tick(t0.Add(time.Second))
	if got := srv.take("c1"); len(got) != 0 {
		t.Errorf("unchanged camera 1 got %v", got)
	}
	if got, _ := states(srv.take("c2")); len(got) != 1 || got[0] != "PROGRAM" {
		t.Errorf("camera 2 got %v, want [PROGRAM]", got)
	}
}

func TestBridge_FullResendWithStandby(t *testing.T) {
	b, srv, sw, _ := newTestBridge(3)
	sw.SetConnected(true)
	sw.SetFlags(1, tally.Flags{Live: true})
	sw.SetFlags(3, tally.Flags{Preview: true})
	b.Tick(t0)
	b.HandleEvent(t0, registration("c3", 3, "c"))
	srv.take("c3")

	// Camera 1 goes off air and camera 2 live: camera 3 is unchanged but resent.
	sw.Apply(switcher.Snapshot{Connected: true, Program: []int{2}, Preview: []int{3}})
	b.Tick(t0.Add(time.Second))
	if got, _ := states(srv.take("c3")); len(got) != 1 || got[0] != "PREVIEW" {
		t.Errorf("camera 3 got %v, want [PREVIEW] resent", got)
	}
}

func TestBridge_CheckInterval(t *testing.T) {
	b, srv, sw, _ := newTestBridge(2)
	sw.SetConnected(true)
	b.Tick(t0)
	b.HandleEvent(t0, registration("c1", 1, "a"))
	srv.take("c1")

	sw.SetFlags(1, tally.Flags{Live: true})
	b.Tick(t0.Add(50 * time.Millisecond))
	if got, _ := states(srv.take("c1")); len(got) != 0 {
		t.Errorf("checked early: %v", got)
	}
	b.Tick(t0.Add(100 * time.Millisecond))
	if got, _ := states(srv.take("c1")); len(got) != 1 {
		t.Errorf("got %v, want one state after the interval", got)
	}
}

func TestBridge_PeriodicHeartbeat(t *testing.T) {
	b, srv, sw, _ := newTestBridge(2)
	sw.SetConnected(true)
	b.HandleEvent(t0, registration("c1", 1, "a"))
	b.Tick(t0)

	count := func() int {
		_, hb := states(srv.take("c1"))
		return len(hb)
	}
	if n := count(); n != 1 {
		t.Fatalf("heartbeats at start = %v, want 1", n)
	}
	b.Tick(t0.Add(4 * time.Second))
	if n := count(); n != 0 {
		t.Errorf("heartbeats before interval = %v, want 0", n)
	}
	b.Tick(t0.Add(5 * time.Second))
	if n := count(); n != 1 {
		t.Errorf("heartbeats at interval = %v, want 1", n)
	}
}

func TestBridge_SourceFlipResetsPacer(t *testing.T) {
	b, srv, sw, rec := newTestBridge(2)
	sw.SetConnected(true)
	b.HandleEvent(t0, registration("c1", 1, "a"))
	b.Tick(t0)
	srv.take("c1")

	sw.SetConnected(false)
	b.Tick(t0.Add(3 * time.Second))
	if _, hb := states(srv.take("c1")); len(hb) != 1 || hb[0].StateName() != "NO_SOURCE" {
		t.Fatalf("heartbeats = %v, want one NO_SOURCE heartbeat", hb)
	}
	b.Tick(t0.Add(5 * time.Second))
	if _, hb := states(srv.take("c1")); len(hb) != 0 {
		t.Errorf("periodic heartbeat not deferred after flip: %v", hb)
	}
	if got := rec.kinds(events.KindSource); len(got) != 1 || got[0].SourceConnected || got[0].Delivered != 1 {
		t.Errorf("source events = %+v, want one disconnected event delivered once", got)
	}
}

func TestBridge_RegistrationErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cameras = 4
	cfg.MaxDevices = 1
	reg := prometheus.NewRegistry()
	m := metrics.NewBridge(metrics.WithRegistry(reg))
	srv := newFakeServer()
	rec := &recorder{}
	b := New(cfg, t0, srv, switcher.NewManual(), rec, m)

	b.HandleEvent(t0, transport.Event{Kind: transport.EventReceived, Conn: "x", Data: []byte("TALLY_REG:9:far")})
	b.HandleEvent(t0, transport.Event{Kind: transport.EventReceived, Conn: "x", Data: []byte("TALLY_REG:one:bad")})
	if st := b.Status(t0); st.Stats.Registrations != 0 || st.Stats.Rejected != 0 {
		t.Errorf("stats = %+v after malformed registrations, want untouched", st.Stats)
	}

	b.HandleEvent(t0, registration("c1", 1, "a"))
	b.HandleEvent(t0, registration("c2", 2, "b"))

	if got := rec.kinds(events.KindRejected); len(got) != 1 || got[0].Identity != "b" {
		t.Errorf("rejected events = %+v, want one for b", got)
	}
	accepted := rec.kinds(events.KindRegistration)
	if len(accepted) != 1 || accepted[0].Slot == nil || *accepted[0].Slot != 0 {
		t.Errorf("registration events = %+v, want slot 0", accepted)
	}
	if got, err := testutil.GatherAndCount(reg, "tally_bridge_registrations_total"); err != nil || got != 2 {
		t.Errorf("registration series = %v, %v, want 2", got, err)
	}
}

func TestBridge_RegistrationEventCountsDelivery(t *testing.T) {
	b, srv, sw, rec := newTestBridge(2)
	sw.SetConnected(true)
	sw.Cut(1, 2)
	b.Tick(t0)

	srv.fail["c1"] = true
	b.HandleEvent(t0, registration("c1", 1, "a"))
	b.HandleEvent(t0, registration("c2", 1, "b"))

	got := rec.kinds(events.KindRegistration)
	if len(got) != 2 {
		t.Fatalf("registration events = %+v, want 2", got)
	}
	if got[0].Delivered != 0 || got[0].State != protocol.StateProgram {
		t.Errorf("failed send event = %+v, want PROGRAM with nothing delivered", got[0])
	}
	if got[1].Delivered != 1 {
		t.Errorf("Delivered = %v, want 1", got[1].Delivered)
	}
}

func TestBridge_Override(t *testing.T) {
	b, srv, sw, rec := newTestBridge(4)
	sw.SetConnected(true)
	b.Tick(t0)
	b.HandleEvent(t0, registration("c1", 3, "a"))
	srv.take("c1")

	n, err := b.Override(t0, 3, protocol.StateProgram)
	if err != nil || n != 1 {
		t.Fatalf("Override() = %v, %v, want 1, nil", n, err)
	}
	if got, _ := states(srv.take("c1")); len(got) != 1 || got[0] != "PROGRAM" {
		t.Errorf("receiver got %v, want [PROGRAM]", got)
	}
	if b.engine.State(3) != protocol.StateOff {
		t.Errorf("derived state = %v, want OFF untouched", b.engine.State(3))
	}
	if got := rec.kinds(events.KindOverride); len(got) != 1 || got[0].Previous != protocol.StateOff {
		t.Errorf("override events = %+v", got)
	}

	if _, err := b.Override(t0, 9, protocol.StateProgram); !errors.Is(err, protocol.ErrInvalidCamera) {
		t.Errorf("Override(camera 9) error = %v, want %v", err, protocol.ErrInvalidCamera)
	}
	if _, err := b.Override(t0, 1, protocol.StateUnknown); !errors.Is(err, protocol.ErrInvalidState) {
		t.Errorf("Override(UNKNOWN) error = %v, want %v", err, protocol.ErrInvalidState)
	}
	if b.Status(t0).Overrides != 1 {
		t.Errorf("Overrides = %v, want 1", b.Status(t0).Overrides)
	}
}

func TestBridge_SetStandbyRechecksNow(t *testing.T) {
	b, srv, sw, _ := newTestBridge(2)
	sw.SetConnected(true)
	sw.SetFlags(1, tally.Flags{Live: true})
	b.Tick(t0)
	b.HandleEvent(t0, registration("c2", 2, "b"))
	if got, _ := states(srv.take("c2")); len(got) != 1 || got[0] != "STANDBY" {
		t.Fatalf("got %v, want [STANDBY]", got)
	}

	b.SetStandbyAsPreview(false)
	b.Tick(t0.Add(10 * time.Millisecond))
	if got, _ := states(srv.take("c2")); len(got) != 1 || got[0] != "OFF" {
		t.Errorf("got %v, want [OFF]", got)
	}
	if b.Status(t0).StandbyAsPreview {
		t.Error("StandbyAsPreview still on")
	}
}

func TestBridge_StepDrainsEventsAndTouches(t *testing.T) {
	b, srv, _, _ := newTestBridge(2)
	srv.events <- registration("c1", 1, "a")
	srv.events <- transport.Event{Kind: transport.EventReceived, Conn: "c1", Data: []byte("ping")}
	later := t0.Add(time.Minute)
	b.Step(later)

	if dev := b.Status(later).Devices[0]; dev.Identity != "a" || !dev.LastSeenAt.Equal(later) {
		t.Errorf("device = %+v, want a seen at %v", dev, later)
	}
}
