package launch

// One bounded run: start the worker, race its natural exit against the
// deadline and external shutdown, and report a single terminal outcome.
// The launcher never restarts anything.

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/dropsentry/dropsentry/internal/lifecycle"
	"github.com/dropsentry/dropsentry/internal/logging"
)

// State is the launcher's position in its lifecycle. All states after
// Running are terminal.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateKilled     State = "killed"
	StateFailed     State = "failed"
)

// Event records a lifecycle transition for the end-of-run report.
type Event struct {
	Time    time.Time `json:"time"`
	State   State     `json:"state"`
	Message string    `json:"message"`
}

// Spec describes the worker process and the bounds on its run.
type Spec struct {
	Command     string
	Args        []string
	ExtraEnv    []string // appended to the inherited environment (DISPLAY)
	WorkDir     string
	Deadline    time.Duration
	GracePeriod time.Duration
	Stdout      io.Writer
	Stderr      io.Writer

	// OnStart is invoked once the child is running, before the race
	// begins. Used to publish the pid to the status file and metrics.
	OnStart func(pid int)
}

// Outcome is the terminal result of one bounded run.
type Outcome struct {
	Cause     lifecycle.Cause
	ExitCode  int            // worker's exit code, valid for CauseExited
	Signal    syscall.Signal // delivered signal, valid for CauseSignal
	PID       int
	StartedAt time.Time
	Duration  time.Duration
	Events    []Event
	Err       error // set for CauseLaunchFailed
}

// SupervisorExitCode maps the outcome onto the supervisor's own exit status.
func (o Outcome) SupervisorExitCode() int {
	return lifecycle.ExitCodeFor(o.Cause, o.ExitCode, o.Signal)
}

// Launcher runs exactly one worker process.
type Launcher struct {
	logger *logging.Logger
	state  State
	events []Event
}

// New creates a launcher.
func New(logger *logging.Logger) *Launcher {
	return &Launcher{
		logger: logger,
		state:  StateNotStarted,
	}
}

// Launch starts the worker and blocks until the run ends. The run ends
// when the child exits on its own, the deadline elapses, or ctx is
// cancelled (external shutdown signal). Deadline and cancellation both
// terminate the child with SIGTERM, a bounded grace wait, then SIGKILL.
func (l *Launcher) Launch(ctx context.Context, spec Spec) Outcome {
	out := Outcome{StartedAt: time.Now()}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.ExtraEnv...)
	cmd.Dir = spec.WorkDir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// Own process group so termination signals reach the worker and
	// everything it spawned, not the supervisor itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}

	l.transition(StateNotStarted, "starting worker: "+spec.Command)

	if err := cmd.Start(); err != nil {
		l.state = StateFailed
		l.transition(StateFailed, "start failed: "+err.Error())
		out.Cause = lifecycle.CauseLaunchFailed
		out.Err = err
		out.Events = l.events
		l.logger.Error("worker failed to start", map[string]interface{}{
			"command": spec.Command,
			"error":   err.Error(),
		})
		return out
	}

	out.PID = cmd.Process.Pid
	l.state = StateRunning
	l.transition(StateRunning, "worker running")
	l.logger.Info("worker started", map[string]interface{}{
		"pid":      out.PID,
		"deadline": spec.Deadline.String(),
	})

	if spec.OnStart != nil {
		spec.OnStart(out.PID)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	deadline := time.NewTimer(spec.Deadline)
	defer deadline.Stop()

	select {
	case err := <-done:
		out.Cause = lifecycle.CauseExited
		out.ExitCode = exitCode(err)
		l.state = StateExited
		l.transition(StateExited, "worker exited on its own")
		l.logger.Info("worker exited", map[string]interface{}{"exit_code": out.ExitCode})

	case <-deadline.C:
		l.logger.Info("deadline reached, cycling worker", map[string]interface{}{
			"deadline": spec.Deadline.String(),
		})
		l.terminate(out.PID, spec.GracePeriod, done)
		out.Cause = lifecycle.CauseDeadline
		l.state = StateKilled
		l.transition(StateKilled, "deadline expired")

	case <-ctx.Done():
		sig := signalFromContext(ctx)
		l.logger.Info("shutdown requested, terminating worker", map[string]interface{}{
			"signal": sig.String(),
		})
		l.terminate(out.PID, spec.GracePeriod, done)
		out.Cause = lifecycle.CauseSignal
		out.Signal = sig
		l.state = StateKilled
		l.transition(StateKilled, "terminated on external signal")
	}

	out.Duration = time.Since(out.StartedAt)
	out.Events = l.events
	return out
}

// State returns the launcher's current state.
func (l *Launcher) State() State {
	return l.state
}

// terminate is the two-phase cancellation primitive: graceful signal,
// bounded grace wait, then forceful kill. Signals go to the negated pid
// to reach the whole process group.
func (l *Launcher) terminate(pid int, grace time.Duration, done <-chan error) {
	l.transition(StateRunning, "sending SIGTERM")
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Group already gone; reap and return.
		<-done
		return
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-done:
		l.transition(StateKilled, "worker exited within grace period")
		return
	case <-graceTimer.C:
	}

	l.transition(StateKilled, "grace period elapsed, sending SIGKILL")
	l.logger.Warn("worker ignored SIGTERM, killing", map[string]interface{}{
		"grace": grace.String(),
	})
	syscall.Kill(-pid, syscall.SIGKILL)
	<-done
}

func (l *Launcher) transition(state State, message string) {
	l.events = append(l.events, Event{Time: time.Now(), State: state, Message: message})
}

// exitCode extracts the child's exit status from cmd.Wait's error.
// Signal deaths are reported shell-style as 128+signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

type signalKey struct{}

// WithSignal stashes the delivered shutdown signal in the context so the
// outcome can report which one arrived.
func WithSignal(ctx context.Context, sig *os.Signal) context.Context {
	return context.WithValue(ctx, signalKey{}, sig)
}

func signalFromContext(ctx context.Context) syscall.Signal {
	if p, ok := ctx.Value(signalKey{}).(*os.Signal); ok && p != nil && *p != nil {
		if s, ok := (*p).(syscall.Signal); ok {
			return s
		}
	}
	return syscall.SIGTERM
}
