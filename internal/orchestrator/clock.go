package orchestrator

import "time"

// Timer is an armed callback that can be stopped before it fires
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// stop happened before the callback ran.
	Stop() bool
}

// Clock abstracts time so batching intervals and timeout deadlines can be
// driven by a manual clock in tests. Production code uses SystemClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemClock is the real-time Clock backed by the time package
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool { return s.t.Stop() }
