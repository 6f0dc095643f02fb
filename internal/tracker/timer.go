package tracker

import "time"

// timer is a cancellable handle for a scheduled callback.
// cancel is nil-safe and may be called any number of times, including after
// the callback has already fired.
type timer struct {
	t *time.Timer
}

func afterFunc(d time.Duration, fn func()) *timer {
	if d < 0 {
		d = 0
	}
	return &timer{t: time.AfterFunc(d, fn)}
}

// cancel stops the timer and reports whether the callback was prevented from running
func (t *timer) cancel() bool {
	if t == nil || t.t == nil {
		return false
	}
	return t.t.Stop()
}
