package protocol

import (
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  TallyMessage
	}{
		{name: "program", msg: NewStateMessage(1, StateProgram, 12345, DefaultBridgeID, SourceConnected)},
		{name: "preview", msg: NewStateMessage(2, StatePreview, 0, DefaultBridgeID, SourceConnected)},
		{name: "standby max camera", msg: NewStateMessage(255, StateStandby, 0xFFFFFFFF, 9, SourceConnected)},
		{name: "off", msg: NewStateMessage(20, StateOff, 1, DefaultBridgeID, SourceConnected)},
		{name: "no source", msg: NewStateMessage(4, StateNoSource, 77, DefaultBridgeID, SourceNone)},
		{name: "heartbeat", msg: NewHeartbeatMessage(true, 5000, DefaultBridgeID)},
		{name: "heartbeat without source", msg: NewHeartbeatMessage(false, 10000, DefaultBridgeID)},
		{name: "full width state", msg: NewMessage(3, "ABCDEFGHIJK", 9, DefaultBridgeID, SourceConnected)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeMessage(tt.msg)
			if len(data) != MessageSize {
				t.Fatalf("EncodeMessage() size = %v, want %v", len(data), MessageSize)
			}
			decoded, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if decoded != tt.msg {
				t.Errorf("DecodeMessage() = %v, want %v", decoded, tt.msg)
			}
			if !Validate(decoded) {
				t.Error("Validate() = false, want true")
			}
		})
	}
}

func TestMessageLayout(t *testing.T) {
	data := EncodeMessage(NewStateMessage(7, StatePreview, 0x04030201, 2, SourceConnected))

	if data[0] != 7 {
		t.Errorf("cameraId = %v, want 7", data[0])
	}
	if got := string(data[1:8]); got != "PREVIEW" {
		t.Errorf("state = %q, want PREVIEW", got)
	}
	for i := 8; i < 12; i++ {
		if data[i] != 0 {
			t.Errorf("state padding byte %d = %v, want 0", i, data[i])
		}
	}
	if data[12] != 0x01 || data[13] != 0x02 || data[14] != 0x03 || data[15] != 0x04 {
		t.Errorf("timestamp bytes = %v, want little-endian 0x04030201", data[12:16])
	}
	if data[16] != 2 {
		t.Errorf("bridgeId = %v, want 2", data[16])
	}
	if data[17] != 1 {
		t.Errorf("sourceStatus = %v, want 1", data[17])
	}

	want := byte(7) ^ 2 ^ 1
	for _, c := range []byte("PREVIEW") {
		want ^= c
	}
	if data[18] != want {
		t.Errorf("checksum = 0x%02x, want 0x%02x", data[18], want)
	}
}

func TestEncodeComputesChecksumLast(t *testing.T) {
	msg := NewStateMessage(1, StateProgram, 0, DefaultBridgeID, SourceConnected)
	stale := msg
	stale.CameraID = 2

	decoded, err := ParseMessage(EncodeMessage(stale))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if decoded.CameraID != 2 {
		t.Errorf("CameraID = %v, want 2", decoded.CameraID)
	}
}

func TestDecodeInvalidFormat(t *testing.T) {
	for _, size := range []int{0, 1, MessageSize - 1, MessageSize + 1, 64} {
		if _, err := DecodeMessage(make([]byte, size)); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("DecodeMessage(%d bytes) error = %v, want %v", size, err, ErrInvalidFormat)
		}
	}
}

func TestSingleBitFlipDetected(t *testing.T) {
	data := EncodeMessage(NewStateMessage(5, StateProgram, 4242, DefaultBridgeID, SourceConnected))

	for i := 0; i < MessageSize; i++ {
		if i >= offsetTimestamp && i < offsetBridgeID {
			continue // timestamp is not covered by the checksum
		}
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit

			msg, err := DecodeMessage(flipped)
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if Validate(msg) {
				t.Errorf("Validate() after flipping byte %d bit %d = true, want false", i, bit)
			}
			if _, err := ParseMessage(flipped); !errors.Is(err, ErrChecksumMismatch) {
				t.Errorf("ParseMessage() byte %d bit %d error = %v, want %v", i, bit, err, ErrChecksumMismatch)
			}
		}
	}
}

func TestStateNameUnterminated(t *testing.T) {
	data := EncodeMessage(NewMessage(1, "ABCDEFGHIJKLMNOP", 0, DefaultBridgeID, SourceConnected))
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if got := msg.StateName(); got != "ABCDEFGHIJK" {
		t.Errorf("StateName() = %q, want %q", got, "ABCDEFGHIJK")
	}
}

func TestHeartbeatMessage(t *testing.T) {
	tests := []struct {
		connected  bool
		wantState  string
		wantStatus SourceStatus
	}{
		{connected: true, wantState: HeartbeatState, wantStatus: SourceConnected},
		{connected: false, wantState: "NO_SOURCE", wantStatus: SourceNone},
	}
	for _, tt := range tests {
		msg := NewHeartbeatMessage(tt.connected, 0, DefaultBridgeID)
		if !msg.IsHeartbeat() {
			t.Errorf("IsHeartbeat() = false, want true")
		}
		if got := msg.StateName(); got != tt.wantState {
			t.Errorf("StateName() = %q, want %q", got, tt.wantState)
		}
		if msg.SourceStatus != tt.wantStatus {
			t.Errorf("SourceStatus = %v, want %v", msg.SourceStatus, tt.wantStatus)
		}
	}
}

func TestMessageDisplayState(t *testing.T) {
	msg := NewStateMessage(1, StateStandby, 0, DefaultBridgeID, SourceConnected)
	got, err := msg.DisplayState()
	if err != nil || got != StateStandby {
		t.Errorf("DisplayState() = %v, %v, want %v, nil", got, err, StateStandby)
	}

	if _, err := NewHeartbeatMessage(true, 0, DefaultBridgeID).DisplayState(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("heartbeat DisplayState() error = %v, want %v", err, ErrInvalidState)
	}
}
