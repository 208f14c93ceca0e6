package history

import "time"

// Timer is a cancellable single-shot callback handle.
type Timer interface {
	// Stop cancels the pending fire. It reports false if the callback has
	// already started, matching time.Timer semantics.
	Stop() bool
}

// Clock schedules single-shot callbacks. The history manager holds at most
// one outstanding timer at a time, so disposal can always cancel it
// deterministically. Tests substitute a manual clock to fire commits
// without real delays.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock is the wall-clock Clock used outside tests.
func SystemClock() Clock { return realClock{} }
