package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/sim"
)

// MemoryStore is the in-process Store used for offline mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	simulations map[string]sim.Simulation
	attempts    map[string]session.AttemptRecord
	now         func() int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		simulations: map[string]sim.Simulation{},
		attempts:    map[string]session.AttemptRecord{},
		now:         func() int64 { return time.Now().Unix() },
	}
}

func (m *MemoryStore) PutSimulation(_ context.Context, s sim.Simulation) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The store owns created_at: stamped on first insert, kept on update.
	if prev, ok := m.simulations[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
	} else {
		s.CreatedAt = m.now()
	}
	m.simulations[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSimulation(_ context.Context, id string) (sim.Simulation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.simulations[id]
	if !ok {
		return sim.Simulation{}, ErrSimulationNotFound
	}
	return s, nil
}

func (m *MemoryStore) GetSimulationForTaker(ctx context.Context, id string) (sim.Simulation, error) {
	s, err := m.GetSimulation(ctx, id)
	if err != nil {
		return sim.Simulation{}, err
	}
	return StripAnswers(s), nil
}

func (m *MemoryStore) ListSimulations(_ context.Context) ([]SimulationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SimulationSummary, 0, len(m.simulations))
	for _, s := range m.simulations {
		out = append(out, SimulationSummary{
			ID:               s.ID,
			Title:            s.Title,
			EstimatedMinutes: s.EstimatedMinutes,
			Requirements:     len(s.Requirements),
			CreatedAt:        s.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *MemoryStore) SaveAttempt(_ context.Context, rec session.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.attempts[rec.ID]; dup {
		return ErrAttemptExists
	}
	m.attempts[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (session.AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.attempts[id]
	if !ok {
		return session.AttemptRecord{}, ErrAttemptNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]session.AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []session.AttemptRecord{}
	for _, rec := range m.attempts {
		if opts.SimulationID != "" && rec.SimulationID != opts.SimulationID {
			continue
		}
		if opts.TakerID != "" && rec.TakerID != opts.TakerID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt > out[j].CompletedAt })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []session.AttemptRecord{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
