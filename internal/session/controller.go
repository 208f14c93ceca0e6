package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/history"
	"github.com/ledgerprep/tbs/internal/sim"
)

// View is the session state-machine state.
type View string

const (
	ViewSetup      View = "setup"
	ViewInProgress View = "in_progress"
	ViewReview     View = "review"
	ViewGraded     View = "graded"
)

var (
	ErrNotStarted         = errors.New("session not started")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrAlreadyGraded      = errors.New("session already graded")
	ErrNotInReview        = errors.New("session is not in review")
	ErrNoConfirmPending   = errors.New("no submission awaiting confirmation")
	ErrUnknownRequirement = errors.New("unknown requirement")
	ErrTimeExpired        = errors.New("time limit reached")
	ErrClosed             = errors.New("session closed")
)

const saveTimeout = 10 * time.Second

// SubmitOutcome is the result of a submission attempt. Either the session
// graded directly, or the taker must confirm submitting with unanswered
// items.
type SubmitOutcome struct {
	Graded            bool            `json:"graded"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	Unanswered        int             `json:"unanswered,omitempty"`
	Message           string          `json:"message,omitempty"`
	Result            *grading.Result `json:"result,omitempty"`
}

// Snapshot is the externally visible state of a session, shaped for the UI
// shell.
type Snapshot struct {
	ID                 string          `json:"id"`
	TakerID            string          `json:"taker_id"`
	SimulationID       string          `json:"simulation_id"`
	View               View            `json:"view"`
	ElapsedSec         int             `json:"elapsed_sec"`
	TimeLimitSec       int             `json:"time_limit_sec"`
	TimeExpired        bool            `json:"time_expired"`
	Paused             bool            `json:"paused"`
	FlaggedForReview   bool            `json:"flagged_for_review"`
	CurrentRequirement string          `json:"current_requirement,omitempty"`
	CurrentExhibit     string          `json:"current_exhibit,omitempty"`
	Progress           sim.Progress    `json:"progress"`
	CanUndo            bool            `json:"can_undo"`
	CanRedo            bool            `json:"can_redo"`
	AwaitingConfirm    bool            `json:"awaiting_confirm"`
	Result             *grading.Result `json:"result,omitempty"`
}

// Controller owns one session: the response state (through the history
// manager, its only mutation path), the timer, the orthogonal pause and
// flag bits, and the state-machine view. All methods are safe for
// concurrent use; internally everything runs under one lock, so response
// mutations, timer ticks and debounce commits are strictly sequenced.
type Controller struct {
	mu sync.Mutex

	id      string
	takerID string
	sim     sim.Simulation

	hist *history.History[sim.ResponseMap]

	view        View
	elapsed     int
	limitSec    int
	timeExpired bool
	paused      bool
	flagged     bool
	currentReq  string
	exhibit     string

	awaitingConfirm bool
	result          *grading.Result
	record          *AttemptRecord

	engine    *grading.Engine
	sink      AttemptSink
	now       func() time.Time
	histClock history.Clock
	startedAt int64
	closed    bool
}

type ControllerOption func(*Controller)

// WithClock substitutes the debounce timer source, for deterministic tests.
func WithClock(c history.Clock) ControllerOption {
	return func(ctl *Controller) { ctl.histClock = c }
}

// WithNow substitutes the wall-clock used for attempt timestamps.
func WithNow(now func() time.Time) ControllerOption {
	return func(ctl *Controller) { ctl.now = now }
}

// NewController builds a session over a validated simulation. The history
// manager's debounce commits are funneled through the controller lock, so
// the single-writer sequencing the history manager requires holds even
// though timers fire on their own goroutines.
func NewController(s sim.Simulation, takerID string, engine *grading.Engine, sink AttemptSink, opts ...ControllerOption) *Controller {
	ctl := &Controller{
		id:        uuid.NewString(),
		takerID:   takerID,
		sim:       s,
		view:      ViewSetup,
		limitSec:  s.TimeLimitSec(),
		engine:    engine,
		sink:      sink,
		now:       time.Now,
		histClock: history.SystemClock(),
	}
	for _, o := range opts {
		o(ctl)
	}
	ctl.hist = history.New(sim.ResponseMap{}, sim.ResponseMap.Clone,
		history.WithClock(lockedClock{mu: &ctl.mu, inner: ctl.histClock}))
	return ctl
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// TakerID returns the subject that owns this session. Immutable after
// construction, so no lock is needed.
func (c *Controller) TakerID() string { return c.takerID }

// Start moves setup → in_progress once the collaborator has supplied the
// requirement and exhibit data.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.view != ViewSetup {
		return ErrAlreadyStarted
	}
	c.view = ViewInProgress
	c.startedAt = c.now().Unix()
	return nil
}

// SetResponse records a taker's answer. This is the only way a response
// enters the response map, and it always goes through the history manager.
// The response shape is the widget's responsibility; only the requirement
// ID is checked here.
func (c *Controller) SetResponse(reqID string, r sim.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if !c.hasRequirement(reqID) {
		return fmt.Errorf("%w: %s", ErrUnknownRequirement, reqID)
	}
	c.hist.Update(func(m sim.ResponseMap) sim.ResponseMap {
		m[reqID] = r
		return m
	})
	return nil
}

// ClearResponse removes a taker's answer, as an undoable edit.
func (c *Controller) ClearResponse(reqID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if !c.hasRequirement(reqID) {
		return fmt.Errorf("%w: %s", ErrUnknownRequirement, reqID)
	}
	c.hist.Update(func(m sim.ResponseMap) sim.ResponseMap {
		delete(m, reqID)
		return m
	})
	return nil
}

// Undo steps the response map back one committed checkpoint.
func (c *Controller) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editable() != nil {
		return false
	}
	return c.hist.Undo()
}

// Redo reverses the most recent undo.
func (c *Controller) Redo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editable() != nil {
		return false
	}
	return c.hist.Redo()
}

// Tick advances the elapsed counter by one second. The controller owns no
// clock; the caller delivers ticks, which keeps timing fully deterministic
// under test. Ticks are ignored while paused, before start, and after
// grading. Reaching the time limit forces a submission attempt through the
// normal confirmation-or-direct path.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.paused || c.timeExpired || c.result != nil {
		return
	}
	if c.view != ViewInProgress && c.view != ViewReview {
		return
	}
	c.elapsed++
	if c.limitSec > 0 && c.elapsed >= c.limitSec {
		c.expire()
	}
}

func (c *Controller) expire() {
	c.timeExpired = true
	c.view = ViewReview
	if sim.ComputeProgress(c.sim.Requirements, c.hist.Value()).Complete {
		c.grade()
		return
	}
	c.awaitingConfirm = true
}

// Pause freezes the timer without changing the current view.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.result != nil {
		return ErrAlreadyGraded
	}
	c.paused = true
	return nil
}

// Resume restores ticking from where it left off.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.result != nil {
		return ErrAlreadyGraded
	}
	c.paused = false
	return nil
}

// SetFlagged toggles the flag-for-review marker.
func (c *Controller) SetFlagged(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagged = v
}

// SetCurrentExhibit tracks which exhibit has UI focus. Exhibit content
// itself is owned by the document-viewer collaborator and never mutated
// here.
func (c *Controller) SetCurrentExhibit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhibit = key
}

// EnterReview moves in_progress → review. Entering review does not grade.
func (c *Controller) EnterReview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.view != ViewInProgress {
		return fmt.Errorf("cannot enter review from %s", c.view)
	}
	c.view = ViewReview
	return nil
}

// ReturnToRequirement jumps review → in_progress, landing on the given
// requirement. Not available once the timer has expired.
func (c *Controller) ReturnToRequirement(reqID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.view != ViewReview {
		return ErrNotInReview
	}
	if c.timeExpired {
		return ErrTimeExpired
	}
	if !c.hasRequirement(reqID) {
		return fmt.Errorf("%w: %s", ErrUnknownRequirement, reqID)
	}
	c.awaitingConfirm = false
	c.view = ViewInProgress
	c.currentReq = reqID
	return nil
}

// RequestSubmit attempts the review → graded transition. With every
// requirement answered it grades immediately; otherwise it raises a
// confirmation request and holds.
func (c *Controller) RequestSubmit() (SubmitOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SubmitOutcome{}, ErrClosed
	}
	if c.result != nil {
		return SubmitOutcome{}, ErrAlreadyGraded
	}
	if c.view != ViewReview {
		return SubmitOutcome{}, ErrNotInReview
	}
	c.hist.Flush()
	prog := sim.ComputeProgress(c.sim.Requirements, c.hist.Value())
	if !prog.Complete {
		c.awaitingConfirm = true
		n := prog.Unanswered()
		return SubmitOutcome{
			NeedsConfirmation: true,
			Unanswered:        n,
			Message:           fmt.Sprintf("%d items unanswered, submit anyway?", n),
		}, nil
	}
	c.grade()
	return SubmitOutcome{Graded: true, Result: c.result}, nil
}

// ConfirmSubmit completes a submission that required confirmation.
func (c *Controller) ConfirmSubmit() (*grading.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.result != nil {
		return nil, ErrAlreadyGraded
	}
	if !c.awaitingConfirm {
		return nil, ErrNoConfirmPending
	}
	c.grade()
	return c.result, nil
}

// CancelSubmit withdraws a pending confirmation request. Once the timer
// has expired the prompt cannot be dismissed.
func (c *Controller) CancelSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeExpired {
		return ErrTimeExpired
	}
	c.awaitingConfirm = false
	return nil
}

// grade runs exactly once, with the lock held: flush the pending history
// batch, freeze the response map, score it, and hand the record to the
// persistence sink without blocking the graded transition.
func (c *Controller) grade() {
	c.hist.Flush()
	frozen := c.hist.Value().Clone()
	res := c.engine.Grade(c.sim.Requirements, frozen)
	c.result = &res
	c.view = ViewGraded
	c.awaitingConfirm = false
	c.paused = false

	rec := buildRecord(uuid.NewString(), c.id, c.takerID, c.sim,
		c.startedAt, c.now().Unix(), c.elapsed, frozen, res)
	c.record = &rec

	if c.sink == nil {
		return
	}
	go func(rec AttemptRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := c.sink.SaveAttempt(ctx, rec); err != nil {
			// Best-effort: the local result stands even if the durable
			// write failed.
			log.Printf("session %s: attempt save failed: %v", rec.SessionID, err)
		}
	}(rec)
}

// Result returns the grading result once the session is graded.
func (c *Controller) Result() (*grading.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.result != nil
}

// Record returns the attempt record once the session is graded.
func (c *Controller) Record() (*AttemptRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record, c.record != nil
}

// Responses returns a snapshot of the live response map, for collaborators
// such as an autosave job that read but never mutate session state.
func (c *Controller) Responses() sim.ResponseMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.Value().Clone()
}

// State returns the UI-facing snapshot of the session.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:                 c.id,
		TakerID:            c.takerID,
		SimulationID:       c.sim.ID,
		View:               c.view,
		ElapsedSec:         c.elapsed,
		TimeLimitSec:       c.limitSec,
		TimeExpired:        c.timeExpired,
		Paused:             c.paused,
		FlaggedForReview:   c.flagged,
		CurrentRequirement: c.currentReq,
		CurrentExhibit:     c.exhibit,
		Progress:           sim.ComputeProgress(c.sim.Requirements, c.hist.Value()),
		CanUndo:            c.hist.CanUndo(),
		CanRedo:            c.hist.CanRedo(),
		AwaitingConfirm:    c.awaitingConfirm,
		Result:             c.result,
	}
}

// Teardown releases the session's timer on any exit path. A pending edit
// batch is flushed first so no debounce commit leaks into a disposed
// session. Teardown is idempotent.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.hist.Flush()
	c.hist.Close()
	c.closed = true
}

func (c *Controller) editable() error {
	if c.closed {
		return ErrClosed
	}
	switch c.view {
	case ViewSetup:
		return ErrNotStarted
	case ViewGraded:
		return ErrAlreadyGraded
	}
	if c.timeExpired {
		return ErrTimeExpired
	}
	return nil
}

func (c *Controller) hasRequirement(id string) bool {
	for _, r := range c.sim.Requirements {
		if r.ID == id {
			return true
		}
	}
	return false
}

// lockedClock funnels debounce callbacks through the controller lock so a
// timer fire can never interleave with an edit.
type lockedClock struct {
	mu    *sync.Mutex
	inner history.Clock
}

func (c lockedClock) AfterFunc(d time.Duration, fn func()) history.Timer {
	return c.inner.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn()
	})
}
