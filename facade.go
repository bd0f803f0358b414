// Package tallycomm provides a façade over the tally distribution packages: the wire
// codec in protocol, the bridge and light nodes, and in-process simulated links.
package tallycomm

import (
	"github.com/ystepanoff/tallycomm/bridge"
	"github.com/ystepanoff/tallycomm/indicator"
	"github.com/ystepanoff/tallycomm/protocol"
	"github.com/ystepanoff/tallycomm/transport"
)

// The actual node implementations live in their own packages:
// - bridge    - switcher state to registered lights
// - indicator - light connection state machine
// - transport - link events and the radio link
// - transport/ws - WebSocket link

type (
	DeviceID     = protocol.DeviceID
	DisplayState = protocol.DisplayState
	SourceStatus = protocol.SourceStatus
	TallyMessage = protocol.TallyMessage
	Registration = protocol.Registration

	Bridge     = bridge.Bridge
	Light      = indicator.Machine
	LightState = indicator.State
	LinkEvent  = transport.Event
)

// Error constants exposed in the public API
var (
	ErrInvalidFormat     = protocol.ErrInvalidFormat
	ErrChecksumMismatch  = protocol.ErrChecksumMismatch
	ErrRegistrationParse = protocol.ErrRegistrationParse
	ErrRegistryFull      = protocol.ErrRegistryFull
	ErrInvalidCamera     = protocol.ErrInvalidCamera
	ErrNotConnected      = protocol.ErrNotConnected
	ErrTimeout           = protocol.ErrTimeout
)

// Constants exposed in the public API
const (
	MessageSize = protocol.MessageSize

	StateProgram  = protocol.StateProgram
	StatePreview  = protocol.StatePreview
	StateStandby  = protocol.StateStandby
	StateOff      = protocol.StateOff
	StateNoSource = protocol.StateNoSource

	LightDisconnected = indicator.StateDisconnected
	LightScanning     = indicator.StateScanning
	LightConnecting   = indicator.StateConnecting
	LightConnected    = indicator.StateConnected
	LightRegistered   = indicator.StateRegistered
	LightError        = indicator.StateError
)

// EncodeMessage serialises m into its fixed-size wire form.
func EncodeMessage(m TallyMessage) []byte { return protocol.EncodeMessage(m) }

// ParseMessage decodes and validates a wire message.
func ParseMessage(data []byte) (TallyMessage, error) { return protocol.ParseMessage(data) }

// FormatRegistration renders the registration text a light sends after connecting.
func FormatRegistration(cameraID uint8, identity string) []byte {
	return protocol.FormatRegistration(Registration{CameraID: cameraID, Identity: identity})
}
