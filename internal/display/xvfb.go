package display

// The worker renders its GUI and tray into a virtual framebuffer. The
// display must be fully ready before the worker starts: a worker that
// needs X and has none is a guaranteed crash loop with a misleading
// cause. No retries here; if Xvfb cannot bind, the whole invocation is
// over and exits with a dedicated bootstrap-failure code.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"syscall"
	"time"

	"github.com/dropsentry/dropsentry/internal/config"
	"github.com/dropsentry/dropsentry/internal/logging"
)

// ErrNotReady is returned when the display server did not accept
// connections within the bootstrap timeout.
var ErrNotReady = errors.New("display server did not become ready")

const readyPollInterval = 100 * time.Millisecond

// Server is a running Xvfb instance owned by the supervisor.
type Server struct {
	number int
	cmd    *exec.Cmd
	exited chan error
	logger *logging.Logger
}

// Start launches Xvfb and blocks until its X socket accepts connections
// or the startup timeout elapses. On timeout or early Xvfb death the
// process is cleaned up and an error wrapping ErrNotReady is returned.
func Start(ctx context.Context, cfg config.DisplayConfig, logger *logging.Logger) (*Server, error) {
	s := &Server{
		number: cfg.Number,
		exited: make(chan error, 1),
		logger: logger,
	}

	cmd := exec.Command(cfg.XvfbPath,
		s.Addr(),
		"-screen", "0", cfg.Geometry,
		"-nolisten", "tcp",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.XvfbPath, err)
	}
	s.cmd = cmd

	go func() {
		s.exited <- cmd.Wait()
	}()

	logger.Info("display server starting", map[string]interface{}{
		"display": s.Addr(),
		"pid":     cmd.Process.Pid,
	})

	if err := s.awaitReady(ctx, cfg.StartupTimeout); err != nil {
		s.Stop()
		return nil, err
	}

	logger.Info("display server ready", map[string]interface{}{"display": s.Addr()})
	return s, nil
}

// awaitReady polls the X unix socket until it accepts a connection.
func (s *Server) awaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	socket := s.socketPath()
	for {
		select {
		case err := <-s.exited:
			return fmt.Errorf("%w: Xvfb exited during startup: %v", ErrNotReady, err)
		case <-deadline.C:
			return fmt.Errorf("%w: no socket at %s after %v", ErrNotReady, socket, timeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-tick.C:
			conn, err := net.DialTimeout("unix", socket, readyPollInterval)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}

// Addr returns the display address in DISPLAY form, e.g. ":99".
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.number)
}

// Env returns the environment entries the worker needs to attach.
func (s *Server) Env() []string {
	return []string{"DISPLAY=" + s.Addr()}
}

// Stop terminates the display server. Called when the supervisor exits;
// the run is over either way, so the error is only logged.
func (s *Server) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return // already gone
	}
	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		s.cmd.Process.Kill()
		<-s.exited
	}
	if s.logger != nil {
		s.logger.Info("display server stopped", map[string]interface{}{"display": s.Addr()})
	}
}

func (s *Server) socketPath() string {
	return fmt.Sprintf("/tmp/.X11-unix/X%d", s.number)
}
