package lifecycle

import (
	"syscall"
	"testing"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name       string
		cause      Cause
		workerCode int
		sig        syscall.Signal
		want       int
	}{
		{"worker success passes through", CauseExited, 0, 0, 0},
		{"worker failure passes through", CauseExited, 2, 0, 2},
		{"worker crash passes through", CauseExited, 137, 0, 137},
		{"deadline cycling is success-like", CauseDeadline, 0, 0, ExitCycled},
		{"deadline ignores worker code", CauseDeadline, 7, 0, ExitCycled},
		{"sigterm maps to 143", CauseSignal, 0, syscall.SIGTERM, 143},
		{"sigint maps to 130", CauseSignal, 0, syscall.SIGINT, 130},
		{"display failure", CauseDisplayFailed, 0, 0, ExitDisplayFailure},
		{"launch failure", CauseLaunchFailed, 0, 0, ExitLaunchFailure},
		{"unknown cause is generic failure", Cause("bogus"), 0, 0, 1},
	}

	for _, tc := range cases {
		if got := ExitCodeFor(tc.cause, tc.workerCode, tc.sig); got != tc.want {
			t.Errorf("%s: ExitCodeFor(%s, %d, %d) = %d, want %d",
				tc.name, tc.cause, tc.workerCode, tc.sig, got, tc.want)
		}
	}
}

func TestExitCodeClassesAreDistinguishable(t *testing.T) {
	// The restart policy needs three distinguishable classes: worker
	// failure, deliberate cycling, and supervisor/bootstrap failure.
	cycling := ExitCodeFor(CauseDeadline, 0, 0)
	display := ExitCodeFor(CauseDisplayFailed, 0, 0)
	launch := ExitCodeFor(CauseLaunchFailed, 0, 0)

	if cycling == display || cycling == launch {
		t.Errorf("cycling code %d collides with bootstrap codes %d/%d", cycling, display, launch)
	}
	if display == launch {
		t.Errorf("display failure code %d collides with launch failure code", display)
	}
}

func TestIsFailure(t *testing.T) {
	if CauseDeadline.IsFailure() {
		t.Error("deadline cycling must not be classified as a failure")
	}
	if CauseExited.IsFailure() {
		t.Error("natural exit is the worker's business, not a supervisor failure")
	}
	if !CauseDisplayFailed.IsFailure() || !CauseLaunchFailed.IsFailure() {
		t.Error("bootstrap and launch failures must be classified as failures")
	}
}
