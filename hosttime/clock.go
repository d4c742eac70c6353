// Package hosttime provides the monotonic host clock that commands are
// stamped with, plus the integer arithmetic used to move timestamps between
// clock domains and sample positions.
package hosttime

import (
	"sync"
	"time"
)

// Clock is a monotonic nanosecond clock with an arbitrary epoch.
// A zero timestamp is reserved to mean "immediately" and is never returned
// by Now.
type Clock interface {
	Now() uint64
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already fired
// or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// base keeps Real().Now() well away from zero.
const base = uint64(time.Hour)

var (
	startOnce sync.Once
	start     time.Time
)

// Real returns the process-wide host clock backed by the runtime's
// monotonic clock.
func Real() Clock {
	startOnce.Do(func() { start = time.Now() })
	return realClock{}
}

type realClock struct{}

func (realClock) Now() uint64 {
	return base + uint64(time.Since(start))
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
