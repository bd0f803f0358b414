package protocol

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"
)

// GenerateSessionKey returns a random 32-bit key binding a connect request to its accept.
// Falls back to math/rand if crypto/rand fails.
func GenerateSessionKey() uint32 {
	var b [4]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint32(b[:])
	}
	return mrand.New(mrand.NewSource(time.Now().UnixNano())).Uint32()
}

// GenerateDeviceID returns a random non-broadcast link address.
func GenerateDeviceID() DeviceID {
	for {
		if id := DeviceID(GenerateSessionKey()); id != BroadcastID {
			return id
		}
	}
}

func putKey(key uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, key)
	return b
}

// ConnectPayload is session key followed by the client's identity name.
func ConnectPayload(key uint32, name string) []byte {
	return append(putKey(key), name...)
}

// AcceptPayload echoes the session key of an accepted connect.
func AcceptPayload(key uint32) []byte { return putKey(key) }

// SessionKey extracts the leading session key of a connect or accept payload.
func SessionKey(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload[:4]), true
}
