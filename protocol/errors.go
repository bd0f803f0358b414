package protocol

import "errors"

var (
	ErrInvalidFormat     = errors.New("invalid message format")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrRegistrationParse = errors.New("malformed registration")
	ErrRegistryFull      = errors.New("device registry full")
	ErrInvalidCamera     = errors.New("invalid camera id")
	ErrInvalidState      = errors.New("unknown display state")

	ErrInvalidPayload = errors.New("invalid payload size")
	ErrNotConnected   = errors.New("link not connected")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrTimeout        = errors.New("operation timed out")
	ErrInvalidChannel = errors.New("invalid channel (valid range: 0-125)")
)
