package store

import (
	"context"
	"errors"

	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/sim"
)

var (
	ErrSimulationNotFound = errors.New("simulation not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAttemptExists      = errors.New("attempt already recorded")
)

// SimulationSummary is the listing row for dashboards.
type SimulationSummary struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Requirements     int    `json:"requirements"`
	CreatedAt        int64  `json:"created_at"`
}

// AttemptListOpts filters attempt listings.
type AttemptListOpts struct {
	SimulationID string
	TakerID      string
	Limit        int
	Offset       int
}

// SimulationStore persists authored simulation definitions.
type SimulationStore interface {
	PutSimulation(ctx context.Context, s sim.Simulation) error
	// GetSimulation returns the full definition, answer keys included.
	GetSimulation(ctx context.Context, id string) (sim.Simulation, error)
	// GetSimulationForTaker strips answer payloads before returning.
	GetSimulationForTaker(ctx context.Context, id string) (sim.Simulation, error)
	ListSimulations(ctx context.Context) ([]SimulationSummary, error)
}

// AttemptStore persists completed attempt records. SaveAttempt is
// insert-once: records are immutable after creation.
type AttemptStore interface {
	session.AttemptSink
	GetAttempt(ctx context.Context, id string) (session.AttemptRecord, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]session.AttemptRecord, error)
}

// Store is the combined persistence surface the gateway wires up.
type Store interface {
	SimulationStore
	AttemptStore
}

// StripAnswers clears the answer payloads from a simulation so it can be
// served to a taker.
func StripAnswers(s sim.Simulation) sim.Simulation {
	reqs := make([]sim.Requirement, len(s.Requirements))
	copy(reqs, s.Requirements)
	for i := range reqs {
		reqs[i].Answer = nil
	}
	s.Requirements = reqs
	return s
}
