package session

import (
	"context"
	"encoding/json"

	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/sim"
)

// AttemptDetail is a graded detail augmented with the serialized correct
// answer, so the stored record can be audited and reviewed without the
// original simulation definition.
type AttemptDetail struct {
	grading.Detail
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
}

// AttemptRecord is the durable artifact of one completed, graded session.
// It is created exactly once, at the transition into the graded state, and
// never mutated afterward.
type AttemptRecord struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	TakerID      string          `json:"taker_id"`
	SimulationID string          `json:"simulation_id"`
	StartedAt    int64           `json:"started_at"`
	CompletedAt  int64           `json:"completed_at"`
	ElapsedSec   int             `json:"elapsed_sec"`
	Responses    sim.ResponseMap `json:"responses"`
	TotalPoints  float64         `json:"total_points"`
	EarnedPoints float64         `json:"earned_points"`
	Percentage   int             `json:"percentage"`
	Details      []AttemptDetail `json:"details"`
}

// AttemptSink is the persistence port the controller hands a finished
// record to. The write is best-effort from the controller's perspective:
// a failure is logged, never surfaced to the taker, and never reverses
// the graded transition.
type AttemptSink interface {
	SaveAttempt(ctx context.Context, rec AttemptRecord) error
}

func buildRecord(attemptID, sessionID, takerID string, s sim.Simulation,
	startedAt, completedAt int64, elapsed int,
	responses sim.ResponseMap, result grading.Result) AttemptRecord {

	answers := make(map[string]json.RawMessage, len(s.Requirements))
	for _, req := range s.Requirements {
		if b, err := sim.MarshalAnswer(req.Answer); err == nil {
			answers[req.ID] = b
		}
	}
	details := make([]AttemptDetail, 0, len(result.Details))
	for _, d := range result.Details {
		details = append(details, AttemptDetail{
			Detail:        d,
			CorrectAnswer: answers[d.RequirementID],
		})
	}
	return AttemptRecord{
		ID:           attemptID,
		SessionID:    sessionID,
		TakerID:      takerID,
		SimulationID: s.ID,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		ElapsedSec:   elapsed,
		Responses:    responses,
		TotalPoints:  result.TotalPoints,
		EarnedPoints: result.EarnedPoints,
		Percentage:   result.Percentage,
		Details:      details,
	}
}
