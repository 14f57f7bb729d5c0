package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/leanflow/model"
)

// MemoryStore is an in-memory Store. State is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*model.PipelineRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*model.PipelineRun)}
}

// Put stores a copy of run.
func (s *MemoryStore) Put(_ context.Context, run *model.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkWrite(s.runs[run.SessionID], run); err != nil {
		return err
	}
	s.runs[run.SessionID] = run.Clone()
	return nil
}

// Get returns a copy of the stored run.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*model.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[sessionID]
	if !ok {
		return nil, notFound(sessionID)
	}
	return run.Clone(), nil
}

// FindStale returns non-terminal runs not updated since cutoff, oldest first.
func (s *MemoryStore) FindStale(_ context.Context, cutoff time.Time) ([]*model.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.PipelineRun
	for _, run := range s.runs {
		if !run.Terminal() && run.UpdatedAt.Before(cutoff) {
			result = append(result, run.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }
