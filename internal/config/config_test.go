package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != 1 || cfg.Bridge.Cameras != 20 || cfg.Bridge.MaxDevices != 4 || !cfg.Bridge.StandbyAsPreview {
		t.Errorf("Bridge = %+v, want firmware defaults", cfg.Bridge)
	}
	if cfg.Bridge.CheckInterval != 100*time.Millisecond || cfg.Bridge.HeartbeatInterval != 5*time.Second {
		t.Errorf("bridge intervals = %v, %v, want 100ms, 5s", cfg.Bridge.CheckInterval, cfg.Bridge.HeartbeatInterval)
	}
	if cfg.Light.CameraID != 1 || cfg.Light.Identity != "Tally_CAM_1" || cfg.Light.MaxRetries != 5 {
		t.Errorf("Light = %+v, want firmware defaults", cfg.Light)
	}
	if cfg.Light.HeartbeatTimeout != 15*time.Second || cfg.Light.ErrorFlash != 500*time.Millisecond {
		t.Errorf("light timers = %v, %v, want 15s, 500ms", cfg.Light.HeartbeatTimeout, cfg.Light.ErrorFlash)
	}
	if cfg.Switcher.Kind != "manual" || cfg.Switcher.Redis.StaleAfter != 10*time.Second {
		t.Errorf("Switcher = %+v, want manual with 10s staleness", cfg.Switcher)
	}
	if cfg.Events.Enabled() {
		t.Error("Events.Enabled() = true without brokers")
	}
	if got := cfg.HTTP.AddrOr(":8080"); got != ":8080" {
		t.Errorf("AddrOr() = %v, want :8080", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tally.yaml")
	data := `
bridge:
  cameras: 8
  standby_as_preview: false
  heartbeat_interval: 2s
light:
  camera_id: 3
  identity: "Stage:Left"
  scan_window: bogus
events:
  brokers: "kafka:9092"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TALLY_BRIDGE_NAME", "Studio_B")
	t.Setenv("TALLY_HTTP_ADDR", ":9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"bridge.cameras", cfg.Bridge.Cameras, 8},
		{"bridge.standby_as_preview", cfg.Bridge.StandbyAsPreview, false},
		{"bridge.heartbeat_interval", cfg.Bridge.HeartbeatInterval, 2 * time.Second},
		{"bridge.name", cfg.Bridge.Name, "Studio_B"},
		{"light.camera_id", cfg.Light.CameraID, uint8(3)},
		{"light.identity", cfg.Light.Identity, "Stage:Left"},
		{"light.scan_window", cfg.Light.ScanWindow, 5 * time.Second},
		{"http.addr", cfg.HTTP.AddrOr(":8080"), ":9000"},
		{"events.enabled", cfg.Events.Enabled(), true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}
}
