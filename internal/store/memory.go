package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// maxHistory bounds the retained result history; the oldest entries
// are evicted first.
const maxHistory = 1000

// MemoryStore is the in-memory Store used by the single-process
// engine. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	results map[string]*models.AnalysisResult
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*models.Job),
		results: make(map[string]*models.AnalysisResult),
	}
}

func (s *MemoryStore) SaveJob(_ context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q not found", id)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *models.AnalysisResult) error {
	if result.JobID == "" {
		return fmt.Errorf("result job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.JobID]; !exists {
		s.order = append(s.order, result.JobID)
	}
	cp := *result
	s.results[result.JobID] = &cp

	for len(s.order) > maxHistory {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
		delete(s.jobs, oldest)
	}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, jobID string) (*models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, fmt.Errorf("result for job %q not found", jobID)
	}
	cp := *result
	return &cp, nil
}

func (s *MemoryStore) ListResults(_ context.Context, limit int) ([]models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	// Newest first.
	out := make([]models.AnalysisResult, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if r, ok := s.results[s.order[i]]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteResult(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[jobID]; !ok {
		return fmt.Errorf("result for job %q not found", jobID)
	}
	delete(s.results, jobID)
	delete(s.jobs, jobID)
	for i, id := range s.order {
		if id == jobID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
