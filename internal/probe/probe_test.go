package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dropsentry/dropsentry/internal/config"
	"github.com/dropsentry/dropsentry/internal/status"
)

func probeConfig(heartbeat string) config.ProbeConfig {
	return config.ProbeConfig{
		HeartbeatFile:   heartbeat,
		MaxHeartbeatAge: 10 * time.Minute,
		Timeout:         5 * time.Second,
	}
}

func writeHeartbeat(t *testing.T, dir string, at time.Time) string {
	t.Helper()
	path := filepath.Join(dir, "healthcheck.timestamp")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", at.Unix())), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFreshHeartbeatIsHealthy(t *testing.T) {
	path := writeHeartbeat(t, t.TempDir(), time.Now().Add(-time.Minute))

	report := New(probeConfig(path), nil).Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy; checks: %+v", report.Status, report.Checks)
	}
	if report.Status.ExitCode() != 0 {
		t.Errorf("healthy exit code = %d, want 0", report.Status.ExitCode())
	}
}

func TestStaleHeartbeatIsUnhealthy(t *testing.T) {
	path := writeHeartbeat(t, t.TempDir(), time.Now().Add(-time.Hour))

	report := New(probeConfig(path), nil).Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy", report.Status)
	}
	if report.Status.ExitCode() != 1 {
		t.Errorf("unhealthy exit code = %d, want 1", report.Status.ExitCode())
	}
}

func TestMissingHeartbeatIsUnhealthy(t *testing.T) {
	report := New(probeConfig(filepath.Join(t.TempDir(), "absent")), nil).Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy for missing heartbeat", report.Status)
	}
}

func TestGarbageHeartbeatFallsBackToMtime(t *testing.T) {
	// An unparseable file that was just written still counts as recent
	// progress via its mtime.
	path := filepath.Join(t.TempDir(), "healthcheck.timestamp")
	if err := os.WriteFile(path, []byte("not-an-epoch"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := New(probeConfig(path), nil).Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy via mtime fallback", report.Status)
	}
}

func TestWorkerProcessCheck(t *testing.T) {
	dir := t.TempDir()
	heartbeat := writeHeartbeat(t, dir, time.Now())
	sf := status.NewFile(filepath.Join(dir, "status.json"))

	// Status published with our own (definitely alive) pid.
	if err := sf.Write(&status.RunStatus{
		RunID: "run-1",
		State: status.StateRunning,
		PID:   os.Getpid(),
	}); err != nil {
		t.Fatal(err)
	}

	report := New(probeConfig(heartbeat), sf).Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy; checks: %+v", report.Status, report.Checks)
	}
}

func TestDeadWorkerPidIsUnhealthy(t *testing.T) {
	dir := t.TempDir()
	heartbeat := writeHeartbeat(t, dir, time.Now())
	sf := status.NewFile(filepath.Join(dir, "status.json"))

	if err := sf.Write(&status.RunStatus{
		RunID: "run-1",
		State: status.StateRunning,
		PID:   1<<22 + 12345, // beyond any default pid_max
	}); err != nil {
		t.Fatal(err)
	}

	report := New(probeConfig(heartbeat), sf).Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy for dead pid", report.Status)
	}
}

func TestUnpublishedStatusIsProbeError(t *testing.T) {
	dir := t.TempDir()
	heartbeat := writeHeartbeat(t, dir, time.Now())
	sf := status.NewFile(filepath.Join(dir, "status.json"))

	report := New(probeConfig(heartbeat), sf).Check(context.Background())
	if report.Status != StatusError {
		t.Fatalf("status = %s, want error before first status publish", report.Status)
	}
	if report.Status.ExitCode() != 2 {
		t.Errorf("probe-error exit code = %d, want 2", report.Status.ExitCode())
	}
}

func TestConnectivityCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	dir := t.TempDir()
	cfg := probeConfig(writeHeartbeat(t, dir, time.Now()))
	cfg.ConnectAddress = ln.Addr().String()

	report := New(cfg, nil).Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy with reachable endpoint", report.Status)
	}

	ln.Close()
	report = New(cfg, nil).Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy with unreachable endpoint", report.Status)
	}
}

func TestProbeRespectsTimeBudget(t *testing.T) {
	dir := t.TempDir()
	cfg := probeConfig(writeHeartbeat(t, dir, time.Now()))
	// Blackhole address: dial must give up when the context does.
	cfg.ConnectAddress = "10.255.255.1:65000"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	report := New(cfg, nil).Check(ctx)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("probe took %v, must stay within its budget", elapsed)
	}
	if report.Status == StatusHealthy {
		t.Error("blackholed endpoint cannot be healthy")
	}
}
