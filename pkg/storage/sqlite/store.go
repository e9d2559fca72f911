package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayforge/relayforge/pkg/domain"
)

// Store implements storage.SessionStore, storage.WorkflowStore and
// storage.RunStore on top of a DB. Append-only semantics for runs are
// enforced in SQL by refusing writes against terminal statuses.
type Store struct {
	db *DB
}

// NewStore returns a Store over an opened DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	var cred sql.NullString
	if sess.Credential != nil {
		raw, err := json.Marshal(sess.Credential)
		if err != nil {
			return fmt.Errorf("session %s: marshal credential: %w", sess.ID, err)
		}
		cred = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, base_url, api_spec, credential, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.BaseURL, sess.APISpec, cred, sess.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var (
		sess      domain.Session
		cred      sql.NullString
		createdAt string
	)
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, api_spec, credential, created_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Name, &sess.BaseURL, &sess.APISpec, &cred, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if cred.Valid {
		var env domain.EncryptedSecret
		if err := json.Unmarshal([]byte(cred.String), &env); err != nil {
			return nil, fmt.Errorf("%w: session %s credential", domain.ErrCorruptedSecret, id)
		}
		sess.Credential = &env
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sess, nil
}

// ListSessions returns all sessions.
func (s *Store) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Session
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// SavePlan upserts a workflow plan.
func (s *Store) SavePlan(ctx context.Context, p *domain.WorkflowPlan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("plan %s: marshal: %w", p.ID, err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO workflows (id, plan) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET plan = excluded.plan`,
		p.ID, string(raw))
	if err != nil {
		return fmt.Errorf("plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan loads a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.WorkflowPlan, error) {
	var raw string
	err := s.db.db.QueryRowContext(ctx, `SELECT plan FROM workflows WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", id, err)
	}
	var p domain.WorkflowPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("plan %s: unmarshal: %w", id, err)
	}
	return &p, nil
}

// CreateRecord inserts a fresh execution record.
func (s *Store) CreateRecord(ctx context.Context, r *domain.ExecutionRecord) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("run %s: marshal steps: %w", r.RunID, err)
	}
	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, session_id, status, steps, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.WorkflowID, r.SessionID, string(r.Status), string(steps), r.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("run %s: %w", r.RunID, err)
	}
	return nil
}

// AppendStep appends one step outcome to a non-terminal record.
func (s *Store) AppendStep(ctx context.Context, runID string, outcome domain.StepOutcome) error {
	rec, err := s.GetRecord(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return domain.ErrRunFinalized
	}
	rec.Steps = append(rec.Steps, outcome)
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("run %s: marshal steps: %w", runID, err)
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE runs SET steps = ? WHERE run_id = ? AND status NOT IN ('completed', 'failed')`,
		string(steps), runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRunFinalized
	}
	return nil
}

// SetStatus advances the run status; terminal states also stamp
// finished_at and freeze the record.
func (s *Store) SetStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	var finished sql.NullString
	if status.Terminal() {
		finished = sql.NullString{String: time.Now().UTC().Format(time.RFC3339), Valid: true}
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = COALESCE(?, finished_at) WHERE run_id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), finished, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetRecord(ctx, runID); getErr != nil {
			return getErr
		}
		return domain.ErrRunFinalized
	}
	return nil
}

// GetRecord loads a record by run id.
func (s *Store) GetRecord(ctx context.Context, runID string) (*domain.ExecutionRecord, error) {
	var (
		rec        domain.ExecutionRecord
		status     string
		steps      string
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.db.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, session_id, status, steps, started_at, finished_at FROM runs WHERE run_id = ?`, runID).
		Scan(&rec.RunID, &rec.WorkflowID, &rec.SessionID, &status, &steps, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	rec.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(steps), &rec.Steps); err != nil {
		return nil, fmt.Errorf("run %s: unmarshal steps: %w", runID, err)
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt.String)
	}
	return &rec, nil
}
