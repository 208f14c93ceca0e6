package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/history"
	"github.com/ledgerprep/tbs/internal/sim"
)

func f64(v float64) *float64 { return &v }

// manualClock lets tests decide when debounce timers fire.

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) history.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) fire() {
	c.mu.Lock()
	pending := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

// fakeSink records attempt writes and signals each one on a channel.
type fakeSink struct {
	mu    sync.Mutex
	recs  []AttemptRecord
	err   error
	saved chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{saved: make(chan struct{}, 4)}
}

func (s *fakeSink) SaveAttempt(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	s.saved <- struct{}{}
	return s.err
}

func (s *fakeSink) waitSave(t *testing.T) AttemptRecord {
	t.Helper()
	select {
	case <-s.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the attempt write")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[len(s.recs)-1]
}

func testSimulation(n int) sim.Simulation {
	reqs := make([]sim.Requirement, n)
	for i := range reqs {
		reqs[i] = sim.Requirement{
			ID:     fmt.Sprintf("r%d", i+1),
			Index:  i,
			Points: 10,
			Kind:   sim.KindNumeric,
			Answer: sim.NumericAnswer{Value: float64(i + 1)},
		}
	}
	return sim.Simulation{ID: "sim1", Title: "Test", EstimatedMinutes: 1, Requirements: reqs}
}

func newTestController(t *testing.T, s sim.Simulation, sink AttemptSink) (*Controller, *manualClock) {
	t.Helper()
	clk := &manualClock{}
	ctl := NewController(s, "taker1", grading.NewEngine(), sink,
		WithClock(clk),
		WithNow(func() time.Time { return time.Unix(1700000000, 0) }))
	t.Cleanup(ctl.Teardown)
	return ctl, clk
}

func started(t *testing.T, s sim.Simulation, sink AttemptSink) (*Controller, *manualClock) {
	t.Helper()
	ctl, clk := newTestController(t, s, sink)
	if err := ctl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return ctl, clk
}

func answerAll(t *testing.T, ctl *Controller, s sim.Simulation) {
	t.Helper()
	for i, r := range s.Requirements {
		if err := ctl.SetResponse(r.ID, sim.NumericResponse{Value: f64(float64(i + 1))}); err != nil {
			t.Fatalf("SetResponse(%s): %v", r.ID, err)
		}
	}
}

func TestLifecycleSetupToGraded(t *testing.T) {
	s := testSimulation(2)
	sink := newFakeSink()
	ctl, _ := newTestController(t, s, sink)

	if got := ctl.State().View; got != ViewSetup {
		t.Fatalf("initial view = %s, want setup", got)
	}
	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("edit before start: %v, want ErrNotStarted", err)
	}

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctl.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v, want ErrAlreadyStarted", err)
	}

	answerAll(t, ctl, s)
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	out, err := ctl.RequestSubmit()
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if !out.Graded || out.NeedsConfirmation {
		t.Fatalf("complete submission should grade directly: %+v", out)
	}
	if got := ctl.State().View; got != ViewGraded {
		t.Fatalf("view = %s, want graded", got)
	}
	if out.Result.EarnedPoints != 20 {
		t.Fatalf("EarnedPoints = %v, want 20", out.Result.EarnedPoints)
	}
	sink.waitSave(t)
}

func TestSubmitRequiresReview(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	if _, err := ctl.RequestSubmit(); !errors.Is(err, ErrNotInReview) {
		t.Fatalf("submit from in_progress: %v, want ErrNotInReview", err)
	}
}

func TestIncompleteSubmitNeedsConfirmation(t *testing.T) {
	s := testSimulation(20)
	sink := newFakeSink()
	ctl, _ := started(t, s, sink)

	// Answer 18 of 20.
	for i := 0; i < 18; i++ {
		if err := ctl.SetResponse(s.Requirements[i].ID, sim.NumericResponse{Value: f64(1)}); err != nil {
			t.Fatalf("SetResponse: %v", err)
		}
	}
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	out, err := ctl.RequestSubmit()
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if !out.NeedsConfirmation || out.Graded {
		t.Fatalf("expected a confirmation request, got %+v", out)
	}
	if out.Unanswered != 2 {
		t.Fatalf("Unanswered = %d, want 2", out.Unanswered)
	}
	if !strings.Contains(out.Message, "2 items unanswered") {
		t.Fatalf("message %q should count the gaps", out.Message)
	}

	res, err := ctl.ConfirmSubmit()
	if err != nil {
		t.Fatalf("ConfirmSubmit: %v", err)
	}
	missing := 0
	for _, d := range res.Details {
		if d.Feedback == "No response provided" {
			missing++
		}
	}
	if missing != 2 {
		t.Fatalf("%d details carry the no-response feedback, want 2", missing)
	}
	sink.waitSave(t)
}

func TestConfirmWithoutPendingRequest(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	if _, err := ctl.ConfirmSubmit(); !errors.Is(err, ErrNoConfirmPending) {
		t.Fatalf("ConfirmSubmit: %v, want ErrNoConfirmPending", err)
	}
}

func TestCancelSubmitReturnsToReview(t *testing.T) {
	s := testSimulation(2)
	ctl, _ := started(t, s, nil)
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	if _, err := ctl.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if err := ctl.CancelSubmit(); err != nil {
		t.Fatalf("CancelSubmit: %v", err)
	}
	st := ctl.State()
	if st.AwaitingConfirm || st.View != ViewReview {
		t.Fatalf("after cancel: %+v", st)
	}
	// The taker can go back and keep editing.
	if err := ctl.ReturnToRequirement("r1"); err != nil {
		t.Fatalf("ReturnToRequirement: %v", err)
	}
	if got := ctl.State().View; got != ViewInProgress {
		t.Fatalf("view = %s, want in_progress", got)
	}
}

func TestTickAndPause(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	for i := 0; i < 5; i++ {
		ctl.Tick()
	}
	if got := ctl.State().ElapsedSec; got != 5 {
		t.Fatalf("ElapsedSec = %d, want 5", got)
	}

	if err := ctl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	ctl.Tick()
	ctl.Tick()
	if got := ctl.State().ElapsedSec; got != 5 {
		t.Fatalf("paused ElapsedSec = %d, want 5", got)
	}

	if err := ctl.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ctl.Tick()
	if got := ctl.State().ElapsedSec; got != 6 {
		t.Fatalf("resumed ElapsedSec = %d, want 6", got)
	}
}

func TestTicksIgnoredBeforeStart(t *testing.T) {
	ctl, _ := newTestController(t, testSimulation(1), nil)
	ctl.Tick()
	if got := ctl.State().ElapsedSec; got != 0 {
		t.Fatalf("ElapsedSec = %d, want 0", got)
	}
}

func TestTimeExpiryForcesConfirmation(t *testing.T) {
	s := testSimulation(2) // EstimatedMinutes 1 → 60s limit
	ctl, _ := started(t, s, nil)
	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}

	for i := 0; i < 60; i++ {
		ctl.Tick()
	}
	st := ctl.State()
	if !st.TimeExpired || st.View != ViewReview || !st.AwaitingConfirm {
		t.Fatalf("after expiry: %+v", st)
	}

	// The clock stops at the limit.
	ctl.Tick()
	if got := ctl.State().ElapsedSec; got != 60 {
		t.Fatalf("ElapsedSec after expiry = %d, want 60", got)
	}

	// The prompt cannot be dismissed, and review cannot be left.
	if err := ctl.CancelSubmit(); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("CancelSubmit after expiry: %v, want ErrTimeExpired", err)
	}
	if err := ctl.ReturnToRequirement("r2"); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("ReturnToRequirement after expiry: %v, want ErrTimeExpired", err)
	}

	// Responses are frozen too: no edits, no history traversal.
	if err := ctl.SetResponse("r2", sim.NumericResponse{Value: f64(99)}); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("SetResponse after expiry: %v, want ErrTimeExpired", err)
	}
	if err := ctl.ClearResponse("r1"); !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("ClearResponse after expiry: %v, want ErrTimeExpired", err)
	}
	if ctl.Undo() {
		t.Fatal("undo after expiry should be refused")
	}
	if ctl.Redo() {
		t.Fatal("redo after expiry should be refused")
	}
	if got := ctl.State().Progress.Answered; got != 1 {
		t.Fatalf("Answered after refused edits = %d, want 1", got)
	}

	res, err := ctl.ConfirmSubmit()
	if err != nil {
		t.Fatalf("ConfirmSubmit: %v", err)
	}
	if res == nil || ctl.State().View != ViewGraded {
		t.Fatal("confirming after expiry should grade")
	}
}

func TestTimeExpiryWithCompleteAnswersGradesDirectly(t *testing.T) {
	s := testSimulation(2)
	sink := newFakeSink()
	ctl, _ := started(t, s, sink)
	answerAll(t, ctl, s)

	for i := 0; i < 60; i++ {
		ctl.Tick()
	}
	st := ctl.State()
	if st.View != ViewGraded || st.AwaitingConfirm {
		t.Fatalf("complete session at expiry should grade: %+v", st)
	}
	sink.waitSave(t)
}

func TestGradedIsTerminal(t *testing.T) {
	s := testSimulation(1)
	sink := newFakeSink()
	ctl, _ := started(t, s, sink)
	answerAll(t, ctl, s)
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	if _, err := ctl.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	sink.waitSave(t)

	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(9)}); !errors.Is(err, ErrAlreadyGraded) {
		t.Fatalf("edit after grading: %v, want ErrAlreadyGraded", err)
	}
	if err := ctl.Pause(); !errors.Is(err, ErrAlreadyGraded) {
		t.Fatalf("pause after grading: %v, want ErrAlreadyGraded", err)
	}
	if _, err := ctl.RequestSubmit(); !errors.Is(err, ErrAlreadyGraded) {
		t.Fatalf("resubmit: %v, want ErrAlreadyGraded", err)
	}
	if ctl.Undo() {
		t.Fatal("undo after grading should be refused")
	}
	before := ctl.State().ElapsedSec
	ctl.Tick()
	if got := ctl.State().ElapsedSec; got != before {
		t.Fatal("ticks after grading should be ignored")
	}

	// Exactly one attempt record, no matter what was poked afterward.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.recs) != 1 {
		t.Fatalf("%d attempt records, want 1", len(sink.recs))
	}
}

func TestPersistenceFailureDoesNotBlockGrading(t *testing.T) {
	s := testSimulation(1)
	sink := newFakeSink()
	sink.err = errors.New("database is down")
	ctl, _ := started(t, s, sink)
	answerAll(t, ctl, s)
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	out, err := ctl.RequestSubmit()
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if !out.Graded || out.Result == nil {
		t.Fatalf("grading should succeed despite the sink failure: %+v", out)
	}
	sink.waitSave(t)
	if got := ctl.State().View; got != ViewGraded {
		t.Fatalf("view = %s, want graded", got)
	}
}

func TestUndoRedoThroughController(t *testing.T) {
	s := testSimulation(1)
	ctl, clk := started(t, s, nil)

	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}
	clk.fire()
	if got := ctl.State().Progress.Answered; got != 1 {
		t.Fatalf("Answered = %d, want 1", got)
	}
	if !ctl.State().CanUndo {
		t.Fatal("expected an undo step after the debounce fired")
	}

	if !ctl.Undo() {
		t.Fatal("Undo failed")
	}
	st := ctl.State()
	if st.Progress.Answered != 0 || !st.CanRedo {
		t.Fatalf("after undo: %+v", st.Progress)
	}
	if !ctl.Redo() {
		t.Fatal("Redo failed")
	}
	if got := ctl.State().Progress.Answered; got != 1 {
		t.Fatalf("after redo Answered = %d, want 1", got)
	}
}

func TestRapidEditsCoalesceIntoOneUndoStep(t *testing.T) {
	s := testSimulation(1)
	ctl, clk := started(t, s, nil)

	for _, v := range []float64{1, 2, 3} {
		if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(v)}); err != nil {
			t.Fatalf("SetResponse: %v", err)
		}
	}
	clk.fire()
	if !ctl.Undo() {
		t.Fatal("Undo failed")
	}
	if got := ctl.State().Progress.Answered; got != 0 {
		t.Fatalf("one undo should drop the whole burst, Answered = %d", got)
	}
}

func TestClearResponseIsUndoable(t *testing.T) {
	s := testSimulation(1)
	ctl, clk := started(t, s, nil)

	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}
	clk.fire()
	if err := ctl.ClearResponse("r1"); err != nil {
		t.Fatalf("ClearResponse: %v", err)
	}
	clk.fire()
	if got := ctl.State().Progress.Answered; got != 0 {
		t.Fatalf("Answered after clear = %d, want 0", got)
	}
	if !ctl.Undo() {
		t.Fatal("Undo failed")
	}
	if got := ctl.State().Progress.Answered; got != 1 {
		t.Fatalf("undoing the clear should restore the answer, Answered = %d", got)
	}
}

func TestUnknownRequirementRejected(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	if err := ctl.SetResponse("nope", sim.TextResponse{Value: "x"}); !errors.Is(err, ErrUnknownRequirement) {
		t.Fatalf("SetResponse: %v, want ErrUnknownRequirement", err)
	}
	if err := ctl.ClearResponse("nope"); !errors.Is(err, ErrUnknownRequirement) {
		t.Fatalf("ClearResponse: %v, want ErrUnknownRequirement", err)
	}
}

func TestPendingEditFlushedBeforeGrading(t *testing.T) {
	s := testSimulation(1)
	sink := newFakeSink()
	ctl, _ := started(t, s, sink)

	// Debounce never fires; submission must still see the live edit.
	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	out, err := ctl.RequestSubmit()
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if !out.Graded || out.Result.EarnedPoints != 10 {
		t.Fatalf("pending edit lost at submission: %+v", out)
	}
	sink.waitSave(t)
}

func TestFlagAndExhibitAreOrthogonal(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	ctl.SetFlagged(true)
	ctl.SetCurrentExhibit("exhibit-1.pdf")
	if err := ctl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st := ctl.State()
	if !st.FlaggedForReview || st.CurrentExhibit != "exhibit-1.pdf" || !st.Paused {
		t.Fatalf("state = %+v", st)
	}
	// Pausing changed none of the rest.
	if st.View != ViewInProgress {
		t.Fatalf("view = %s, want in_progress", st.View)
	}
}

func TestAttemptRecordContents(t *testing.T) {
	s := testSimulation(2)
	sink := newFakeSink()
	ctl, _ := started(t, s, sink)
	answerAll(t, ctl, s)
	for i := 0; i < 7; i++ {
		ctl.Tick()
	}
	if err := ctl.EnterReview(); err != nil {
		t.Fatalf("EnterReview: %v", err)
	}
	if _, err := ctl.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}

	rec := sink.waitSave(t)
	if rec.SessionID != ctl.ID() || rec.TakerID != "taker1" || rec.SimulationID != "sim1" {
		t.Fatalf("record identity fields: %+v", rec)
	}
	if rec.ElapsedSec != 7 {
		t.Fatalf("ElapsedSec = %d, want 7", rec.ElapsedSec)
	}
	if rec.EarnedPoints != 20 || rec.TotalPoints != 20 || rec.Percentage != 100 {
		t.Fatalf("score fields: %+v", rec)
	}
	if len(rec.Responses) != 2 || len(rec.Details) != 2 {
		t.Fatalf("record payload sizes: %d responses, %d details", len(rec.Responses), len(rec.Details))
	}
	for _, d := range rec.Details {
		if len(d.CorrectAnswer) == 0 {
			t.Fatalf("detail %s missing the audit copy of the answer", d.RequirementID)
		}
	}

	stored, ok := ctl.Record()
	if !ok || stored.ID != rec.ID {
		t.Fatal("controller should retain the record it persisted")
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	ctl, _ := started(t, testSimulation(1), nil)
	ctl.Teardown()
	ctl.Teardown()
	if err := ctl.SetResponse("r1", sim.NumericResponse{Value: f64(1)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("edit after teardown: %v, want ErrClosed", err)
	}
}
