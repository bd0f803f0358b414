package protocol

import (
	"encoding/binary"
	"hash/crc32"
)

// DeviceID addresses a node on the radio link.
type DeviceID uint32

// Frame is the unit transferred over the radio link.
// Layout: Length(1) | SenderID(4) | TargetID(4) | Type(1) | Seq(4) | Payload | CRC32(4) | Terminal(1)
// The CRC covers everything between the length byte and the CRC itself.
type Frame struct {
	Length   byte
	SenderID DeviceID
	TargetID DeviceID
	Type     byte
	Seq      uint32
	Payload  []byte
	CRC      uint32 // decoded frames only; ignored by encoder
}

// EncodeFrame serialises p, truncating payloads longer than MaxPayloadSize.
func EncodeFrame(p *Frame) []byte {
	if p == nil {
		return make([]byte, 0)
	}

	payloadLen := len(p.Payload)
	if payloadLen > MaxPayloadSize {
		payloadLen = MaxPayloadSize
	}

	bodyLen := headerWithoutLen + payloadLen + CRCSize + TerminalSize
	totalLen := LengthFieldSize + bodyLen

	data := make([]byte, totalLen)
	data[0] = byte(bodyLen)
	binary.LittleEndian.PutUint32(data[1:5], uint32(p.SenderID))
	binary.LittleEndian.PutUint32(data[5:9], uint32(p.TargetID))
	data[9] = p.Type
	binary.LittleEndian.PutUint32(data[10:14], p.Seq)
	copy(data[FrameHeaderSize:], p.Payload[:payloadLen])

	crcPos := FrameHeaderSize + payloadLen
	binary.LittleEndian.PutUint32(data[crcPos:crcPos+CRCSize], crc32.ChecksumIEEE(data[LengthFieldSize:crcPos]))
	data[totalLen-1] = FrameTerminal

	p.Length = byte(bodyLen)
	return data
}

// DecodeFrame parses data, returning nil for anything malformed or corrupt.
func DecodeFrame(data []byte) *Frame {
	if len(data) < FrameHeaderSize+CRCSize+TerminalSize {
		return nil
	}

	bodyLen := int(data[0])
	if bodyLen == 0 || bodyLen+LengthFieldSize > len(data) {
		return nil
	}
	if data[LengthFieldSize+bodyLen-1] != FrameTerminal {
		return nil
	}

	payloadLen := bodyLen - headerWithoutLen - CRCSize - TerminalSize
	if payloadLen < 0 || payloadLen > MaxPayloadSize {
		return nil
	}

	crcOffset := FrameHeaderSize + payloadLen
	recvCRC := binary.LittleEndian.Uint32(data[crcOffset : crcOffset+CRCSize])
	if recvCRC != crc32.ChecksumIEEE(data[LengthFieldSize:crcOffset]) {
		return nil
	}

	p := &Frame{
		Length:   byte(bodyLen),
		SenderID: DeviceID(binary.LittleEndian.Uint32(data[1:5])),
		TargetID: DeviceID(binary.LittleEndian.Uint32(data[5:9])),
		Type:     data[9],
		Seq:      binary.LittleEndian.Uint32(data[10:14]),
		CRC:      recvCRC,
		Payload:  make([]byte, payloadLen),
	}
	copy(p.Payload, data[FrameHeaderSize:crcOffset])
	return p
}

// Addressed reports whether the frame targets id directly or by broadcast.
func (p *Frame) Addressed(id DeviceID) bool {
	return p.TargetID == id || p.TargetID == BroadcastID
}
