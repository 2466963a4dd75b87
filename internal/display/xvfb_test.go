package display

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropsentry/dropsentry/internal/config"
	"github.com/dropsentry/dropsentry/internal/logging"
)

func testLogger() *logging.Logger {
	l := logging.New(logging.ERROR, false)
	l.SetOutput(os.Stderr)
	return l
}

func testConfig(xvfbPath string, timeout time.Duration) config.DisplayConfig {
	return config.DisplayConfig{
		Number:         99,
		Geometry:       "1280x720x24",
		StartupTimeout: timeout,
		XvfbPath:       xvfbPath,
	}
}

func TestAddrAndEnv(t *testing.T) {
	s := &Server{number: 99}
	if s.Addr() != ":99" {
		t.Errorf("Addr() = %q, want :99", s.Addr())
	}
	env := s.Env()
	if len(env) != 1 || env[0] != "DISPLAY=:99" {
		t.Errorf("Env() = %v, want [DISPLAY=:99]", env)
	}
	if s.socketPath() != "/tmp/.X11-unix/X99" {
		t.Errorf("socketPath() = %q", s.socketPath())
	}
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(context.Background(), testConfig("/nonexistent/Xvfb", time.Second), testLogger())
	if err == nil {
		t.Fatal("Start with missing binary should fail")
	}
}

func TestStartEarlyExitIsNotReady(t *testing.T) {
	// /bin/sh invoked with Xvfb's arguments exits immediately, which the
	// bootstrapper must classify as the display never becoming ready.
	_, err := Start(context.Background(), testConfig("/bin/sh", 5*time.Second), testLogger())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start = %v, want ErrNotReady", err)
	}
}

func TestStartTimeoutIsNotReady(t *testing.T) {
	// A stand-in that runs forever but never opens the X socket.
	script := filepath.Join(t.TempDir(), "fake-xvfb")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := Start(context.Background(), testConfig(script, 500*time.Millisecond), testLogger())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start = %v, want ErrNotReady", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Start took %v, expected to give up around the 500ms timeout", elapsed)
	}
}
