package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Registration is the text a receiver sends to claim a camera assignment.
type Registration struct {
	CameraID uint8
	Identity string
}

// FormatRegistration renders TALLY_REG:<cameraId>:<identity>.
func FormatRegistration(r Registration) []byte {
	return []byte(RegistrationPrefix + strconv.Itoa(int(r.CameraID)) + ":" + r.Identity)
}

// IsRegistration reports whether data carries the registration prefix.
func IsRegistration(data []byte) bool {
	return strings.HasPrefix(string(data), RegistrationPrefix)
}

// ParseRegistration parses TALLY_REG:<cameraId>:<identity>. The identity is everything
// after the second colon, verbatim, and may itself contain colons.
func ParseRegistration(data []byte) (Registration, error) {
	text := string(data)
	rest, ok := strings.CutPrefix(text, RegistrationPrefix)
	if !ok {
		return Registration{}, fmt.Errorf("%w: missing %q prefix", ErrRegistrationParse, RegistrationPrefix)
	}
	camText, identity, ok := strings.Cut(rest, ":")
	if !ok {
		return Registration{}, fmt.Errorf("%w: missing identity separator", ErrRegistrationParse)
	}
	cam, err := strconv.ParseUint(camText, 10, 8)
	if err != nil || cam == 0 {
		return Registration{}, fmt.Errorf("%w: camera %q", ErrRegistrationParse, camText)
	}
	if identity == "" {
		return Registration{}, fmt.Errorf("%w: empty identity", ErrRegistrationParse)
	}
	return Registration{CameraID: uint8(cam), Identity: identity}, nil
}
