// Package storage defines the collaborator store interfaces the pipeline
// consumes — sessions, workflow plans and execution records — plus
// in-memory implementations. A SQLite-backed implementation lives in the
// sqlite subpackage.
package storage

import (
	"context"

	"github.com/relayforge/relayforge/pkg/domain"
)

// SessionStore persists registered target-API sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// WorkflowStore persists workflow plans.
type WorkflowStore interface {
	SavePlan(ctx context.Context, p *domain.WorkflowPlan) error
	GetPlan(ctx context.Context, id string) (*domain.WorkflowPlan, error)
}

// RunStore persists execution records. Writes are append-only: step
// outcomes are only ever added, and a record that has reached a terminal
// status rejects further writes.
type RunStore interface {
	CreateRecord(ctx context.Context, r *domain.ExecutionRecord) error
	AppendStep(ctx context.Context, runID string, outcome domain.StepOutcome) error
	SetStatus(ctx context.Context, runID string, status domain.RunStatus) error
	GetRecord(ctx context.Context, runID string) (*domain.ExecutionRecord, error)
}
