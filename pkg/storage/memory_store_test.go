package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/pkg/domain"
)

func TestMemorySessionStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	s := &domain.Session{ID: "s1", Name: "demo", BaseURL: "https://api.example.com", CreatedAt: time.Now()}
	require.NoError(t, m.CreateSession(ctx, s))
	assert.Error(t, m.CreateSession(ctx, s), "duplicate id")

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)

	// The store hands out copies; mutating one does not leak back.
	got.Name = "mutated"
	again, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "demo", again.Name)

	all, err := m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, m.DeleteSession(ctx, "s1"))
	_, err = m.GetSession(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestMemoryRunStoreAppendOnly(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	r := &domain.ExecutionRecord{RunID: "r1", WorkflowID: "w1", Status: domain.RunPending, StartedAt: time.Now()}
	require.NoError(t, m.CreateRecord(ctx, r))

	require.NoError(t, m.SetStatus(ctx, "r1", domain.RunRunning))
	require.NoError(t, m.AppendStep(ctx, "r1", domain.StepOutcome{StepNumber: 1, Status: "completed"}))
	require.NoError(t, m.SetStatus(ctx, "r1", domain.RunFailed))

	// Terminal records are immutable.
	err := m.AppendStep(ctx, "r1", domain.StepOutcome{StepNumber: 2})
	assert.True(t, errors.Is(err, domain.ErrRunFinalized))
	err = m.SetStatus(ctx, "r1", domain.RunCompleted)
	assert.True(t, errors.Is(err, domain.ErrRunFinalized))

	got, err := m.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Len(t, got.Steps, 1)
	assert.False(t, got.FinishedAt.IsZero())

	_, err = m.GetRecord(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrRunNotFound))
}

func TestMemoryWorkflowStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	p := &domain.WorkflowPlan{ID: "w1", Name: "demo", Steps: []domain.WorkflowStep{
		{StepNumber: 1, Action: domain.Action{Endpoint: "/users", Method: "GET"}},
	}}
	require.NoError(t, m.SavePlan(ctx, p))

	got, err := m.GetPlan(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)

	got.Steps[0].Action.Endpoint = "/mutated"
	again, err := m.GetPlan(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "/users", again.Steps[0].Action.Endpoint)

	_, err = m.GetPlan(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrWorkflowNotFound))
}
