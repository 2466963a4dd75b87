package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the supervisor's full configuration, resolved from the
// config file, DROPSENTRY_* environment variables and command flags.
type Config struct {
	Display  DisplayConfig
	Deadline DeadlineConfig
	Launch   LaunchConfig
	Probe    ProbeConfig
	HTTP     HTTPConfig
	Status   StatusConfig
	History  HistoryConfig
	Lock     LockConfig
	Log      LogConfig
}

// DisplayConfig controls the virtual framebuffer bootstrap.
type DisplayConfig struct {
	Number         int           // X display number, DISPLAY=:<number>
	Geometry       string        // WxHxDepth for screen 0
	StartupTimeout time.Duration // how long to wait for the X socket
	XvfbPath       string        // Xvfb binary, overridable for tests
}

// DeadlineConfig controls hour-boundary alignment.
type DeadlineConfig struct {
	UTC bool // align to UTC hours instead of the container's local zone
}

// LaunchConfig controls the bounded worker run.
type LaunchConfig struct {
	GracePeriod time.Duration // SIGTERM-to-SIGKILL grace window
	WorkDir     string        // worker working directory, empty = inherit
}

// ProbeConfig controls the standalone health check.
type ProbeConfig struct {
	HeartbeatFile   string        // epoch-seconds file the worker touches on progress
	MaxHeartbeatAge time.Duration // older than this = wedged
	ConnectAddress  string        // optional host:port reachability check, empty = off
	Timeout         time.Duration // budget for the whole probe
}

// HTTPConfig controls the metrics/status sidecar served while the
// worker runs.
type HTTPConfig struct {
	Enabled bool
	Listen  string
}

// StatusConfig locates the supervisor status file.
type StatusConfig struct {
	Path string
}

// HistoryConfig controls the best-effort run history store.
type HistoryConfig struct {
	Enabled bool
	Path    string
}

// LockConfig locates the single-instance lock file.
type LockConfig struct {
	Path string
}

// LogConfig controls supervisor logging.
type LogConfig struct {
	Level string
	JSON  bool
}

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("display.number", 99)
	v.SetDefault("display.geometry", "1280x720x24")
	v.SetDefault("display.startup_timeout", 10*time.Second)
	v.SetDefault("display.xvfb_path", "Xvfb")

	v.SetDefault("deadline.utc", false)

	v.SetDefault("launch.grace_period", 30*time.Second)
	v.SetDefault("launch.workdir", "")

	v.SetDefault("probe.heartbeat_file", "healthcheck.timestamp")
	v.SetDefault("probe.max_heartbeat_age", 10*time.Minute)
	v.SetDefault("probe.connect_address", "")
	v.SetDefault("probe.timeout", 5*time.Second)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":9105")

	v.SetDefault("status.path", "/var/lib/dropsentry/status.json")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "/var/lib/dropsentry/history.db")

	v.SetDefault("lock.path", "/tmp/dropsentry.lock")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load resolves and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Display: DisplayConfig{
			Number:         v.GetInt("display.number"),
			Geometry:       v.GetString("display.geometry"),
			StartupTimeout: v.GetDuration("display.startup_timeout"),
			XvfbPath:       v.GetString("display.xvfb_path"),
		},
		Deadline: DeadlineConfig{
			UTC: v.GetBool("deadline.utc"),
		},
		Launch: LaunchConfig{
			GracePeriod: v.GetDuration("launch.grace_period"),
			WorkDir:     v.GetString("launch.workdir"),
		},
		Probe: ProbeConfig{
			HeartbeatFile:   v.GetString("probe.heartbeat_file"),
			MaxHeartbeatAge: v.GetDuration("probe.max_heartbeat_age"),
			ConnectAddress:  v.GetString("probe.connect_address"),
			Timeout:         v.GetDuration("probe.timeout"),
		},
		HTTP: HTTPConfig{
			Enabled: v.GetBool("http.enabled"),
			Listen:  v.GetString("http.listen"),
		},
		Status: StatusConfig{
			Path: v.GetString("status.path"),
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			Path:    v.GetString("history.path"),
		},
		Lock: LockConfig{
			Path: v.GetString("lock.path"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Display.Number < 0 {
		return fmt.Errorf("display.number must be >= 0, got %d", c.Display.Number)
	}
	if c.Display.StartupTimeout <= 0 {
		return fmt.Errorf("display.startup_timeout must be positive, got %v", c.Display.StartupTimeout)
	}
	if c.Launch.GracePeriod <= 0 {
		return fmt.Errorf("launch.grace_period must be positive, got %v", c.Launch.GracePeriod)
	}
	if c.Probe.MaxHeartbeatAge <= 0 {
		return fmt.Errorf("probe.max_heartbeat_age must be positive, got %v", c.Probe.MaxHeartbeatAge)
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive, got %v", c.Probe.Timeout)
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen must be set when http.enabled is true")
	}
	return nil
}
