package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/sim"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry owns the live controllers and pumps the shared 1-second tick to
// each of them. One session belongs to exactly one taker; a retry creates a
// brand-new session rather than reopening a graded one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Controller

	engine *grading.Engine
	sink   AttemptSink
	opts   []ControllerOption
}

func NewRegistry(engine *grading.Engine, sink AttemptSink, opts ...ControllerOption) *Registry {
	return &Registry{
		sessions: map[string]*Controller{},
		engine:   engine,
		sink:     sink,
		opts:     opts,
	}
}

// Create validates the simulation, builds a controller and starts it.
func (g *Registry) Create(s sim.Simulation, takerID string) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ctl := NewController(s, takerID, g.engine, g.sink, g.opts...)
	if err := ctl.Start(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.sessions[ctl.ID()] = ctl
	g.mu.Unlock()
	return ctl, nil
}

func (g *Registry) Get(id string) (*Controller, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ctl, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ctl, nil
}

// Remove tears the session down and forgets it. Used for abandon and for
// reclaiming graded sessions.
func (g *Registry) Remove(id string) error {
	g.mu.Lock()
	ctl, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	ctl.Teardown()
	return nil
}

// Run delivers the 1-second tick to every live session until ctx is
// cancelled, then tears all sessions down.
func (g *Registry) Run(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			g.Close()
			return
		case <-t.C:
			for _, ctl := range g.snapshot() {
				ctl.Tick()
			}
		}
	}
}

// Close tears down every live session.
func (g *Registry) Close() {
	g.mu.Lock()
	ctls := make([]*Controller, 0, len(g.sessions))
	for id, ctl := range g.sessions {
		ctls = append(ctls, ctl)
		delete(g.sessions, id)
	}
	g.mu.Unlock()
	for _, ctl := range ctls {
		ctl.Teardown()
	}
}

func (g *Registry) snapshot() []*Controller {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Controller, 0, len(g.sessions))
	for _, ctl := range g.sessions {
		out = append(out, ctl)
	}
	return out
}
