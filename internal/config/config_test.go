package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Display.Number != 99 {
		t.Errorf("default display number = %d, want 99", cfg.Display.Number)
	}
	if cfg.Display.StartupTimeout != 10*time.Second {
		t.Errorf("default display startup timeout = %v, want 10s", cfg.Display.StartupTimeout)
	}
	if cfg.Launch.GracePeriod != 30*time.Second {
		t.Errorf("default grace period = %v, want 30s", cfg.Launch.GracePeriod)
	}
	if cfg.Probe.MaxHeartbeatAge != 10*time.Minute {
		t.Errorf("default heartbeat age = %v, want 10m", cfg.Probe.MaxHeartbeatAge)
	}
	if cfg.Deadline.UTC {
		t.Error("deadline alignment should default to the local clock")
	}
	if !cfg.HTTP.Enabled {
		t.Error("metrics sidecar should be enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	v := newViper()
	v.Set("display.number", 7)
	v.Set("launch.grace_period", "5s")
	v.Set("probe.connect_address", "irc.chat.twitch.tv:443")
	v.Set("deadline.utc", true)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Display.Number != 7 {
		t.Errorf("display number = %d, want 7", cfg.Display.Number)
	}
	if cfg.Launch.GracePeriod != 5*time.Second {
		t.Errorf("grace period = %v, want 5s", cfg.Launch.GracePeriod)
	}
	if cfg.Probe.ConnectAddress != "irc.chat.twitch.tv:443" {
		t.Errorf("connect address = %q", cfg.Probe.ConnectAddress)
	}
	if !cfg.Deadline.UTC {
		t.Error("deadline.utc override not applied")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		key   string
		value interface{}
	}{
		{"display.number", -1},
		{"display.startup_timeout", "0s"},
		{"launch.grace_period", "-1s"},
		{"probe.max_heartbeat_age", "0s"},
		{"probe.timeout", "0s"},
		{"http.listen", ""},
	}

	for _, tc := range cases {
		v := newViper()
		v.Set(tc.key, tc.value)
		if _, err := Load(v); err == nil {
			t.Errorf("Load accepted invalid %s=%v", tc.key, tc.value)
		}
	}
}
