package protocol

// Tally wire message layout. Every tally message on any link is exactly MessageSize bytes:
//
//	cameraId (1) | state (11, NUL-padded ASCII) | timestamp (4, LE) | bridgeId (1) | sourceStatus (1) | checksum (1)
const (
	MessageSize    = 19
	StateFieldSize = 11

	offsetCameraID     = 0
	offsetState        = 1
	offsetTimestamp    = 12
	offsetBridgeID     = 16
	offsetSourceStatus = 17
	offsetChecksum     = 18

	// HeartbeatCameraID is reserved for heartbeat / bridge-status-only messages.
	HeartbeatCameraID = 0

	DefaultBridgeID = 1
	DefaultCameras  = 20
	MaxCameras      = 255

	// Registration text sent by a receiver: TALLY_REG:<cameraId>:<identity>
	RegistrationPrefix = "TALLY_REG:"
)

// Radio link frame layout (platform independent):
//
//	Length (1) | SenderID (4) | TargetID (4) | Type (1) | Seq (4) | Payload (0-110) | CRC32 (4) | Terminal (1)
//
// Length counts everything after the length byte, i.e. total frame size minus 1.
const (
	LengthFieldSize   = 1
	IDFieldSize       = 4
	SequenceFieldSize = 4
	CRCSize           = 4 // CRC32, little-endian, over header and payload
	TerminalSize      = 1

	FrameHeaderSize = LengthFieldSize + IDFieldSize + IDFieldSize + 1 + SequenceFieldSize // 14 bytes

	MaxFrameSize   = 128
	MaxPayloadSize = MaxFrameSize - FrameHeaderSize - CRCSize - TerminalSize

	DefaultChannel = 7
	MaxChannel     = 125

	// BroadcastID addresses every listener on the channel.
	BroadcastID DeviceID = 0

	FrameTypeAdvertise  = 0x01
	FrameTypeConnect    = 0x02
	FrameTypeAccept     = 0x03
	FrameTypeData       = 0x04
	FrameTypeKeepalive  = 0x05
	FrameTypeDisconnect = 0x06

	// Link timings (milliseconds)
	AdvertiseInterval = 500
	KeepaliveInterval = 1000
	PeerTimeout       = 15000

	headerWithoutLen = FrameHeaderSize - LengthFieldSize

	FrameTerminal = 0x55
)
