package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relayforge/relayforge/pkg/domain"
)

// MemoryStore is the in-memory implementation of all three store
// interfaces. Safe for concurrent use from independent requests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	plans    map[string]*domain.WorkflowPlan
	records  map[string]*domain.ExecutionRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		plans:    make(map[string]*domain.WorkflowPlan),
		records:  make(map[string]*domain.ExecutionRecord),
	}
}

// CreateSession implements SessionStore.
func (m *MemoryStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession implements SessionStore.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// ListSessions implements SessionStore.
func (m *MemoryStore) ListSessions(_ context.Context) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteSession implements SessionStore.
func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// SavePlan implements WorkflowStore.
func (m *MemoryStore) SavePlan(_ context.Context, p *domain.WorkflowPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Steps = append([]domain.WorkflowStep(nil), p.Steps...)
	m.plans[p.ID] = &cp
	return nil
}

// GetPlan implements WorkflowStore.
func (m *MemoryStore) GetPlan(_ context.Context, id string) (*domain.WorkflowPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	cp := *p
	cp.Steps = append([]domain.WorkflowStep(nil), p.Steps...)
	return &cp, nil
}

// CreateRecord implements RunStore.
func (m *MemoryStore) CreateRecord(_ context.Context, r *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[r.RunID]; exists {
		return fmt.Errorf("run %s already exists", r.RunID)
	}
	cp := *r
	cp.Steps = append([]domain.StepOutcome(nil), r.Steps...)
	m.records[r.RunID] = &cp
	return nil
}

// AppendStep implements RunStore.
func (m *MemoryStore) AppendStep(_ context.Context, runID string, outcome domain.StepOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return domain.ErrRunFinalized
	}
	r.Steps = append(r.Steps, outcome)
	return nil
}

// SetStatus implements RunStore.
func (m *MemoryStore) SetStatus(_ context.Context, runID string, status domain.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return domain.ErrRunFinalized
	}
	r.Status = status
	if status.Terminal() {
		r.FinishedAt = time.Now()
	}
	return nil
}

// GetRecord implements RunStore.
func (m *MemoryStore) GetRecord(_ context.Context, runID string) (*domain.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *r
	cp.Steps = append([]domain.StepOutcome(nil), r.Steps...)
	return &cp, nil
}
