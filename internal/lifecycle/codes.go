package lifecycle

// One bounded run per invocation. No retries, no restarts.
// Recovery belongs to the container restart policy, not to us.

import "syscall"

// Cause classifies why a bounded run ended.
type Cause string

const (
	// CauseExited means the worker terminated on its own.
	CauseExited Cause = "exited"

	// CauseDeadline means the supervisor curtailed the run at its deadline.
	CauseDeadline Cause = "deadline"

	// CauseSignal means the supervisor was told to shut down from outside
	// (container stop, auto-heal kill) and took the worker with it.
	CauseSignal Cause = "signal"

	// CauseLaunchFailed means the worker process could not be started at all.
	CauseLaunchFailed Cause = "launch_failed"

	// CauseDisplayFailed means the virtual display never became ready,
	// so no worker was started.
	CauseDisplayFailed Cause = "display_failed"
)

// Supervisor exit codes. These are the contract with the container
// restart policy: deliberate hourly cycling must look like success,
// while supervisor-side failures stay distinguishable from worker
// failures in logs and container events.
const (
	// ExitCycled is returned when the run was curtailed at its deadline.
	// Zero on purpose: cycling is expected, not an error.
	ExitCycled = 0

	// ExitDisplayFailure is returned when the virtual display could not
	// be bootstrapped. EX_UNAVAILABLE from sysexits.
	ExitDisplayFailure = 69

	// ExitLaunchFailure is returned when the worker binary could not be
	// started (missing executable, permission error, lock contention).
	ExitLaunchFailure = 125
)

// ExitCodeFor maps a run's terminal state to the supervisor's own exit
// status. workerCode is the child's exit code (valid for CauseExited),
// sig is the delivered signal (valid for CauseSignal).
func ExitCodeFor(cause Cause, workerCode int, sig syscall.Signal) int {
	switch cause {
	case CauseExited:
		return workerCode
	case CauseDeadline:
		return ExitCycled
	case CauseSignal:
		return 128 + int(sig)
	case CauseDisplayFailed:
		return ExitDisplayFailure
	case CauseLaunchFailed:
		return ExitLaunchFailure
	default:
		return 1
	}
}

// IsFailure reports whether the cause should be treated as a supervisor
// or worker failure, as opposed to deliberate cycling or a clean exit.
func (c Cause) IsFailure() bool {
	return c == CauseLaunchFailed || c == CauseDisplayFailed
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	return string(c)
}
