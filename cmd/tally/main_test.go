package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ystepanoff/tallycomm/events"
	"github.com/ystepanoff/tallycomm/internal/config"
	"github.com/ystepanoff/tallycomm/switcher"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"bridge", "light", "sim", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	for _, flag := range []string{"config", "log-level", "log-pretty"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestLoadConfigFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tally.yaml")
	data := []byte("log:\n  level: warn\nbridge:\n  name: Studio_B\n  heartbeat_interval: 2s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	root := rootCmd()
	if err := root.ParseFlags([]string{"--config", path, "--log-level", "debug"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	flags := &globalFlags{config: path}

	cfg, err := loadConfig(root, flags, "test")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %v, want debug", cfg.Log.Level)
	}
	if cfg.Bridge.Name != "Studio_B" {
		t.Errorf("Bridge.Name = %v, want Studio_B", cfg.Bridge.Name)
	}

	bc := bridgeConfig(cfg.Bridge)
	if bc.HeartbeatInterval != 2*time.Second || bc.Name != "Studio_B" || bc.MaxDevices != 4 {
		t.Errorf("bridgeConfig() = %+v", bc)
	}
}

func TestLightConfig(t *testing.T) {
	cfg, err := config.Decode(config.New())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	lc := lightConfig(cfg.Light)
	if lc.CameraID != 1 || lc.Identity != "Tally_CAM_1" || lc.MaxRetries != 5 {
		t.Errorf("lightConfig() = %+v", lc)
	}
	if lc.HeartbeatTimeout != 15*time.Second || lc.MessageTimeout != 60*time.Second {
		t.Errorf("timeouts = %v, %v, want 15s, 60s", lc.HeartbeatTimeout, lc.MessageTimeout)
	}
}

func TestNewSwitcher(t *testing.T) {
	tests := []struct {
		kind     string
		wantFeed bool
		wantErr  bool
	}{
		{kind: "manual"},
		{kind: ""},
		{kind: "redis", wantFeed: true},
		{kind: "atem", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			c := config.SwitcherConfig{Kind: tt.kind}
			c.Redis.Addr = "localhost:6379"
			sw, feed, err := newSwitcher(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSwitcher() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (feed != nil) != tt.wantFeed {
				t.Errorf("feed = %v, wantFeed %v", feed, tt.wantFeed)
			}
			if _, ok := sw.(*switcher.Manual); ok == tt.wantFeed {
				t.Errorf("switcher type = %T", sw)
			}
		})
	}
}

func TestNewPublisherDisabled(t *testing.T) {
	pub, err := newPublisher(config.EventsConfig{Topic: "tally.events"})
	if err != nil {
		t.Fatalf("newPublisher() error = %v", err)
	}
	if _, ok := pub.(events.Nop); !ok {
		t.Errorf("publisher = %T, want events.Nop", pub)
	}
}

func TestLossFunc(t *testing.T) {
	if !lossFunc(1)(nil) {
		t.Error("lossFunc(1) kept a frame")
	}
	if lossFunc(0)(nil) {
		t.Error("lossFunc(0) dropped a frame")
	}
}
