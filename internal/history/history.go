// Package history provides a bounded undo/redo wrapper around a single
// piece of mutable state, with debounced checkpointing: rapid successive
// edits coalesce into one undo step.
//
// The manager does no locking. Callers sequence all access, including the
// commit callback: wrap the Clock so the callback runs under the caller's
// lock if edits can race with timer fires.
package history

import (
	"reflect"
	"time"
)

const (
	// DefaultLimit bounds the undo stack; the oldest entry is dropped
	// beyond it.
	DefaultLimit = 50
	// DefaultDebounce is how long after the last edit a checkpoint commits.
	DefaultDebounce = 500 * time.Millisecond
)

type options struct {
	limit    int
	debounce time.Duration
	clock    Clock
}

type Option func(*options)

// WithLimit overrides the undo-stack bound.
func WithLimit(n int) Option { return func(o *options) { o.limit = n } }

// WithDebounce overrides the checkpoint delay.
func WithDebounce(d time.Duration) Option { return func(o *options) { o.debounce = d } }

// WithClock substitutes the timer source.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// History tracks one value of type T with undo/redo. The live value always
// reflects the latest edit immediately; history entries are committed only
// after the debounce interval passes with no further edits.
type History[T any] struct {
	live    T
	clone   func(T) T
	past    []T
	future  []T
	pending *T // snapshot taken before the current edit batch
	timer   Timer
	gen     uint64 // invalidates callbacks from cancelled timers
	opts    options
}

// New creates a history manager over initial. clone must produce an
// independent snapshot of a value; it is called once per edit batch.
func New[T any](initial T, clone func(T) T, opts ...Option) *History[T] {
	o := options{limit: DefaultLimit, debounce: DefaultDebounce, clock: SystemClock()}
	for _, fn := range opts {
		fn(&o)
	}
	return &History[T]{live: initial, clone: clone, opts: o}
}

// Value returns the live value. Callers must treat it as read-only between
// Update calls.
func (h *History[T]) Value() T { return h.live }

// Set replaces the live value immediately and schedules a checkpoint of the
// pre-batch state.
func (h *History[T]) Set(next T) {
	h.beginBatch()
	h.live = next
}

// Update applies fn to the live value immediately and schedules a
// checkpoint of the pre-batch state. fn may mutate its argument in place:
// the snapshot was cloned before fn runs.
func (h *History[T]) Update(fn func(T) T) {
	h.beginBatch()
	h.live = fn(h.live)
}

func (h *History[T]) beginBatch() {
	if h.pending == nil {
		snap := h.clone(h.live)
		h.pending = &snap
	}
	h.rearm()
}

func (h *History[T]) rearm() {
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	g := h.gen
	h.timer = h.opts.clock.AfterFunc(h.opts.debounce, func() { h.fire(g) })
}

// fire is the timer callback. A stale generation means the batch was
// cancelled or superseded after this timer was armed.
func (h *History[T]) fire(g uint64) {
	if g != h.gen {
		return
	}
	h.timer = nil
	h.commitPending()
}

func (h *History[T]) commitPending() {
	if h.pending == nil {
		return
	}
	snap := *h.pending
	h.pending = nil
	// Duplicate suppression: a batch that ended where it started, or a
	// snapshot equal to the previous checkpoint, adds no undo step.
	if h.equal(snap, h.live) {
		return
	}
	if n := len(h.past); n > 0 && h.equal(h.past[n-1], snap) {
		return
	}
	h.past = append(h.past, snap)
	h.future = h.future[:0]
	if len(h.past) > h.opts.limit {
		over := len(h.past) - h.opts.limit
		h.past = append(h.past[:0:0], h.past[over:]...)
	}
}

func (h *History[T]) equal(a, b T) bool { return reflect.DeepEqual(a, b) }

// Undo restores the most recent checkpoint. Any pending uncommitted batch
// is discarded first so the state being undone is not immediately
// reintroduced. Reports false when there is nothing to undo.
func (h *History[T]) Undo() bool {
	h.cancelPending()
	n := len(h.past)
	if n == 0 {
		return false
	}
	top := h.past[n-1]
	h.past = h.past[:n-1]
	h.future = append(h.future, h.live)
	h.live = top
	return true
}

// Redo reverses the most recent Undo. Reports false when there is nothing
// to redo.
func (h *History[T]) Redo() bool {
	h.cancelPending()
	n := len(h.future)
	if n == 0 {
		return false
	}
	top := h.future[n-1]
	h.future = h.future[:n-1]
	h.past = append(h.past, h.live)
	h.live = top
	return true
}

// CanUndo reports whether an undo step exists.
func (h *History[T]) CanUndo() bool { return len(h.past) > 0 }

// CanRedo reports whether a redo step exists.
func (h *History[T]) CanRedo() bool { return len(h.future) > 0 }

// Flush commits any pending batch immediately instead of waiting for the
// debounce timer. Called on session teardown so no commit leaks into a
// disposed session.
func (h *History[T]) Flush() {
	h.stopTimer()
	h.commitPending()
}

// Close cancels the pending timer and discards any uncommitted batch.
func (h *History[T]) Close() {
	h.stopTimer()
	h.pending = nil
}

func (h *History[T]) cancelPending() {
	h.stopTimer()
	h.pending = nil
}

func (h *History[T]) stopTimer() {
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
