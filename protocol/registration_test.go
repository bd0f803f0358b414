package protocol

import (
	"errors"
	"testing"
)

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Registration
		wantErr bool
	}{
		{name: "simple", text: "TALLY_REG:1:Tally_CAM_1", want: Registration{CameraID: 1, Identity: "Tally_CAM_1"}},
		{name: "identity with colons", text: "TALLY_REG:12:stage:left:cam", want: Registration{CameraID: 12, Identity: "stage:left:cam"}},
		{name: "max camera", text: "TALLY_REG:255:x", want: Registration{CameraID: 255, Identity: "x"}},
		{name: "missing prefix", text: "TALLY:1:cam", wantErr: true},
		{name: "missing identity separator", text: "TALLY_REG:1", wantErr: true},
		{name: "empty identity", text: "TALLY_REG:1:", wantErr: true},
		{name: "camera zero", text: "TALLY_REG:0:cam", wantErr: true},
		{name: "camera out of range", text: "TALLY_REG:256:cam", wantErr: true},
		{name: "non numeric camera", text: "TALLY_REG:one:cam", wantErr: true},
		{name: "negative camera", text: "TALLY_REG:-1:cam", wantErr: true},
		{name: "empty", text: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRegistration([]byte(tt.text))
			if tt.wantErr {
				if !errors.Is(err, ErrRegistrationParse) {
					t.Errorf("ParseRegistration() error = %v, want %v", err, ErrRegistrationParse)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRegistration() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRegistration() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatRegistration(t *testing.T) {
	reg := Registration{CameraID: 3, Identity: "booth:cam3"}
	text := FormatRegistration(reg)
	if string(text) != "TALLY_REG:3:booth:cam3" {
		t.Errorf("FormatRegistration() = %q, want %q", text, "TALLY_REG:3:booth:cam3")
	}
	if !IsRegistration(text) {
		t.Error("IsRegistration() = false, want true")
	}
	got, err := ParseRegistration(text)
	if err != nil || got != reg {
		t.Errorf("ParseRegistration(FormatRegistration()) = %+v, %v, want %+v, nil", got, err, reg)
	}
}

func TestParseDisplayState(t *testing.T) {
	for _, s := range []DisplayState{StateProgram, StatePreview, StateStandby, StateOff, StateNoSource} {
		got, err := ParseDisplayState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseDisplayState(%q) = %v, %v, want %v, nil", s.String(), got, err, s)
		}
	}
	for _, name := range []string{"", "HEARTBEAT", "program", "UNKNOWN"} {
		if _, err := ParseDisplayState(name); !errors.Is(err, ErrInvalidState) {
			t.Errorf("ParseDisplayState(%q) error = %v, want %v", name, err, ErrInvalidState)
		}
	}
	if StateUnknown.Valid() {
		t.Error("StateUnknown.Valid() = true, want false")
	}
}
