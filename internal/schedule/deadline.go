package schedule

import "time"

// The worker is given at most until the next top of the hour. Combined
// with an "always restart" container policy this cycles the worker at a
// predictable hourly cadence instead of drifting, so an external updater
// gets a natural checkpoint to pull a fresh image at.

const hour = 3600 * time.Second

// UntilNextHour returns the whole seconds remaining from now until the
// next wall-clock hour boundary, clamped to [1s, 3600s]. A zero deadline
// is never returned: computed exactly at second zero of an hour the full
// 3600s is allotted, and computed at 59:59 at least one second is.
//
// The result depends only on the minute and second of now. The caller
// decides whether to feed it the local or the UTC clock; the two differ
// only in zones with a fractional-hour offset.
func UntilNextHour(now time.Time) time.Duration {
	elapsed := time.Duration(now.Minute()*60+now.Second()) * time.Second

	d := hour - elapsed
	if d < time.Second {
		d = time.Second
	}
	if d > hour {
		d = hour
	}
	return d
}
