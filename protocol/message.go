package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TallyMessage is the fixed-layout message carried from the bridge to its receivers.
// State holds the raw NUL-padded ASCII field so that a decoded message keeps every byte
// the checksum was computed over.
type TallyMessage struct {
	CameraID     uint8
	State        [StateFieldSize]byte
	Timestamp    uint32 // producer clock in ms, informational only
	BridgeID     uint8
	SourceStatus SourceStatus
	Checksum     uint8
}

// NewMessage builds a message with the checksum already filled in. State names longer
// than the field are truncated.
func NewMessage(cameraID uint8, state string, timestamp uint32, bridgeID uint8, status SourceStatus) TallyMessage {
	m := TallyMessage{
		CameraID:     cameraID,
		Timestamp:    timestamp,
		BridgeID:     bridgeID,
		SourceStatus: status,
	}
	copy(m.State[:], state)
	m.Checksum = Checksum(m)
	return m
}

// NewStateMessage builds a tally message for one camera.
func NewStateMessage(cameraID uint8, state DisplayState, timestamp uint32, bridgeID uint8, status SourceStatus) TallyMessage {
	return NewMessage(cameraID, state.String(), timestamp, bridgeID, status)
}

// NewHeartbeatMessage builds a bridge-status message addressed to every receiver.
func NewHeartbeatMessage(sourceConnected bool, timestamp uint32, bridgeID uint8) TallyMessage {
	name := HeartbeatState
	if !sourceConnected {
		name = wireNoSource
	}
	return NewMessage(HeartbeatCameraID, name, timestamp, bridgeID, SourceStatusOf(sourceConnected))
}

// Checksum XOR-folds cameraId, bridgeId, sourceStatus and every byte of the state field.
// The timestamp is not covered.
func Checksum(m TallyMessage) uint8 {
	sum := m.CameraID ^ m.BridgeID ^ uint8(m.SourceStatus)
	for _, b := range m.State {
		sum ^= b
	}
	return sum
}

// Validate reports whether the message checksum matches its fields.
func Validate(m TallyMessage) bool { return m.Checksum == Checksum(m) }

// EncodeMessage lays the message out in wire order and computes the checksum last,
// ignoring m.Checksum.
func EncodeMessage(m TallyMessage) []byte {
	data := make([]byte, MessageSize)
	data[offsetCameraID] = m.CameraID
	copy(data[offsetState:offsetTimestamp], m.State[:])
	binary.LittleEndian.PutUint32(data[offsetTimestamp:offsetBridgeID], m.Timestamp)
	data[offsetBridgeID] = m.BridgeID
	data[offsetSourceStatus] = uint8(m.SourceStatus)
	data[offsetChecksum] = Checksum(m)
	return data
}

// DecodeMessage unpacks a wire message without validating its checksum.
func DecodeMessage(data []byte) (TallyMessage, error) {
	if len(data) != MessageSize {
		return TallyMessage{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidFormat, len(data), MessageSize)
	}
	m := TallyMessage{
		CameraID:     data[offsetCameraID],
		Timestamp:    binary.LittleEndian.Uint32(data[offsetTimestamp:offsetBridgeID]),
		BridgeID:     data[offsetBridgeID],
		SourceStatus: SourceStatus(data[offsetSourceStatus]),
		Checksum:     data[offsetChecksum],
	}
	copy(m.State[:], data[offsetState:offsetTimestamp])
	return m, nil
}

// ParseMessage decodes and validates in one step. A checksum failure returns the decoded
// message together with ErrChecksumMismatch; callers must not apply its fields.
func ParseMessage(data []byte) (TallyMessage, error) {
	m, err := DecodeMessage(data)
	if err != nil {
		return m, err
	}
	if !Validate(m) {
		return m, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksumMismatch, m.Checksum, Checksum(m))
	}
	return m, nil
}

// StateName returns the state field up to the first NUL, or the whole field when it is
// unterminated.
func (m TallyMessage) StateName() string {
	if i := bytes.IndexByte(m.State[:], 0); i >= 0 {
		return string(m.State[:i])
	}
	return string(m.State[:])
}

// DisplayState maps the state field to a DisplayState. Heartbeats carry no display state.
func (m TallyMessage) DisplayState() (DisplayState, error) { return ParseDisplayState(m.StateName()) }

func (m TallyMessage) IsHeartbeat() bool { return m.CameraID == HeartbeatCameraID }

func (m TallyMessage) String() string {
	return fmt.Sprintf("cam=%d state=%s bridge=%d source=%s ts=%d", m.CameraID, m.StateName(), m.BridgeID, m.SourceStatus, m.Timestamp)
}
