package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/sim"
)

// SQLStore persists simulations and attempt records through database/sql,
// against sqlite or postgres. Requirement lists, response maps and graded
// details travel as JSON columns.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() int64
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		now:    func() int64 { return time.Now().Unix() },
	}
}

func (s *SQLStore) PutSimulation(ctx context.Context, m sim.Simulation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	rj, err := json.Marshal(m.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	ej, err := json.Marshal(m.ExhibitKeys)
	if err != nil {
		return fmt.Errorf("marshal exhibit keys: %w", err)
	}
	// The store owns created_at: the stamp is taken at first insert and an
	// upsert never touches it.
	_, err = s.db.ExecContext(ctx, `INSERT INTO simulations (id,title,estimated_minutes,requirements_json,exhibits_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, estimated_minutes=EXCLUDED.estimated_minutes,
			requirements_json=EXCLUDED.requirements_json, exhibits_json=EXCLUDED.exhibits_json`,
		m.ID, m.Title, m.EstimatedMinutes, string(rj), string(ej), s.now())
	return err
}

func (s *SQLStore) GetSimulation(ctx context.Context, id string) (sim.Simulation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,title,estimated_minutes,requirements_json,exhibits_json,created_at FROM simulations WHERE id=$1`, id)
	var m sim.Simulation
	var rjson, ejson string
	if err := row.Scan(&m.ID, &m.Title, &m.EstimatedMinutes, &rjson, &ejson, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sim.Simulation{}, ErrSimulationNotFound
		}
		return sim.Simulation{}, err
	}
	if err := json.Unmarshal([]byte(rjson), &m.Requirements); err != nil {
		return sim.Simulation{}, fmt.Errorf("unmarshal requirements: %w", err)
	}
	if ejson != "" && ejson != "null" {
		if err := json.Unmarshal([]byte(ejson), &m.ExhibitKeys); err != nil {
			return sim.Simulation{}, fmt.Errorf("unmarshal exhibit keys: %w", err)
		}
	}
	return m, nil
}

func (s *SQLStore) GetSimulationForTaker(ctx context.Context, id string) (sim.Simulation, error) {
	m, err := s.GetSimulation(ctx, id)
	if err != nil {
		return sim.Simulation{}, err
	}
	return StripAnswers(m), nil
}

func (s *SQLStore) ListSimulations(ctx context.Context) ([]SimulationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,title,estimated_minutes,requirements_json,created_at FROM simulations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SimulationSummary{}
	for rows.Next() {
		var sum SimulationSummary
		var rjson string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.EstimatedMinutes, &rjson, &sum.CreatedAt); err != nil {
			return nil, err
		}
		var reqs []json.RawMessage
		if err := json.Unmarshal([]byte(rjson), &reqs); err == nil {
			sum.Requirements = len(reqs)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveAttempt(ctx context.Context, rec session.AttemptRecord) error {
	respJSON, err := json.Marshal(rec.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	detJSON, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,session_id,taker_id,simulation_id,started_at,completed_at,elapsed_sec,
		 total_points,earned_points,percentage,responses_json,details_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.SessionID, rec.TakerID, rec.SimulationID, rec.StartedAt, rec.CompletedAt,
		rec.ElapsedSec, rec.TotalPoints, rec.EarnedPoints, rec.Percentage,
		string(respJSON), string(detJSON))
	if err != nil && isUniqueViolation(err) {
		return ErrAttemptExists
	}
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (session.AttemptRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,session_id,taker_id,simulation_id,started_at,completed_at,
		elapsed_sec,total_points,earned_points,percentage,responses_json,details_json
		FROM attempts WHERE id=$1`, id)
	rec, err := scanAttempt(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return session.AttemptRecord{}, ErrAttemptNotFound
	}
	return rec, err
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]session.AttemptRecord, error) {
	q := `SELECT id,session_id,taker_id,simulation_id,started_at,completed_at,
		elapsed_sec,total_points,earned_points,percentage,responses_json,details_json
		FROM attempts`
	var conds []string
	var args []interface{}
	if opts.SimulationID != "" {
		args = append(args, opts.SimulationID)
		conds = append(conds, fmt.Sprintf("simulation_id=$%d", len(args)))
	}
	if opts.TakerID != "" {
		args = append(args, opts.TakerID)
		conds = append(conds, fmt.Sprintf("taker_id=$%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY completed_at DESC"
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []session.AttemptRecord{}
	for rows.Next() {
		rec, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAttempt(scan func(dest ...interface{}) error) (session.AttemptRecord, error) {
	var rec session.AttemptRecord
	var respJSON, detJSON string
	if err := scan(&rec.ID, &rec.SessionID, &rec.TakerID, &rec.SimulationID,
		&rec.StartedAt, &rec.CompletedAt, &rec.ElapsedSec,
		&rec.TotalPoints, &rec.EarnedPoints, &rec.Percentage, &respJSON, &detJSON); err != nil {
		return session.AttemptRecord{}, err
	}
	if err := json.Unmarshal([]byte(respJSON), &rec.Responses); err != nil {
		return session.AttemptRecord{}, fmt.Errorf("unmarshal responses: %w", err)
	}
	if err := json.Unmarshal([]byte(detJSON), &rec.Details); err != nil {
		return session.AttemptRecord{}, fmt.Errorf("unmarshal details: %w", err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
