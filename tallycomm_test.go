package tallycomm

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/events"
	"github.com/ystepanoff/tallycomm/indicator"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/switcher"
)

func TestFacadeCodec(t *testing.T) {
	msg := protocol.NewStateMessage(3, StatePreview, 1234, protocol.DefaultBridgeID, protocol.SourceConnected)
	data := EncodeMessage(msg)
	if len(data) != MessageSize {
		t.Fatalf("len(EncodeMessage()) = %v, want %v", len(data), MessageSize)
	}
	got, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if got != msg {
		t.Errorf("ParseMessage() = %+v, want %+v", got, msg)
	}

	data[0] ^= 0x01
	if _, err := ParseMessage(data); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("ParseMessage(corrupt) error = %v, want %v", err, ErrChecksumMismatch)
	}

	if reg := FormatRegistration(3, "Tally_CAM_3"); !bytes.Equal(reg, []byte("TALLY_REG:3:Tally_CAM_3")) {
		t.Errorf("FormatRegistration() = %q", reg)
	}
}

func TestSimulatedNetwork(t *testing.T) {
	net := NewNetwork()

	srv, err := net.BridgeLink("ATEM_Bridge_BLE", protocol.DefaultChannel)
	if err != nil {
		t.Fatalf("BridgeLink() error = %v", err)
	}
	defer srv.Close()
	cli, err := net.LightLink("Tally_CAM_2", protocol.DefaultChannel, 2*time.Second)
	if err != nil {
		t.Fatalf("LightLink() error = %v", err)
	}
	defer cli.Close()

	sw := switcher.NewManual()
	sw.SetConnected(true)
	sw.Cut(2, 1)

	start := time.Now()
	b := bridge.New(bridge.DefaultConfig(), start, srv, sw, events.Nop{}, nil)

	cfg := indicator.DefaultConfig()
	cfg.CameraID = 2
	cfg.Identity = "Tally_CAM_2"
	light := indicator.New(cfg, cli, nil, nil)
	light.Start(start)

	deadline := start.Add(5 * time.Second)
	for time.Now().Before(deadline) {
		now := time.Now()
		b.Step(now)
		light.Step(now)
		if light.State() == LightRegistered && light.Tally() == StateProgram {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if light.State() != LightRegistered {
		t.Fatalf("light state = %v, want %v", light.State(), LightRegistered)
	}
	if light.Tally() != StateProgram {
		t.Errorf("light tally = %v, want %v", light.Tally(), StateProgram)
	}
	if got := b.Status(time.Now()).ActiveDevices; got != 1 {
		t.Errorf("ActiveDevices = %v, want 1", got)
	}
}

func TestBridgeLinkInvalidChannel(t *testing.T) {
	if _, err := NewNetwork().BridgeLink("b", protocol.MaxChannel+1); !errors.Is(err, protocol.ErrInvalidChannel) {
		t.Errorf("BridgeLink() error = %v, want %v", err, protocol.ErrInvalidChannel)
	}
}
