package status

import (
	"fmt"

	"github.com/gofrs/flock"
)

// One supervisor per container. The worker itself does a lock-file run
// check too; ours guards the display and status file from a second
// supervisor racing the first, e.g. a manual `dropsentry run` next to
// the entrypoint.

// Lock is a held single-instance lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the single-instance lock without blocking. A held
// lock means another supervisor owns this container's display.
func AcquireLock(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another supervisor instance holds %s", path)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
