package job

import (
	"fmt"
	"sync"
	"time"
)

type entry struct {
	job      Job
	progress *Progress
}

// Store is the process-wide job table. Entries are never removed.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Insert adds a job together with a fresh progress channel.
func (s *Store) Insert(j Job) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[j.ID]; ok {
		return nil, fmt.Errorf("job %s already exists", j.ID)
	}
	e := &entry{job: j.clone(), progress: NewProgress()}
	s.entries[j.ID] = e
	s.order = append(s.order, j.ID)
	return e.progress, nil
}

// Get returns a snapshot of one job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.job.clone(), nil
}

// List returns snapshots of all jobs, newest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		jobs = append(jobs, s.entries[s.order[i]].job.clone())
	}
	return jobs
}

// Progress returns the progress channel of a job.
func (s *Store) Progress(id string) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.progress, nil
}

// Transition moves a job to status to, applying mutate (if non-nil) under
// the same lock, and returns the updated snapshot.
func (s *Store) Transition(id string, to Status, mutate func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	j := &e.job
	if !canTransition(j.Status, to) {
		return j.clone(), transitionError(j.Status, to)
	}

	now := time.Now()
	j.Status = to
	j.Steps = append(j.Steps, string(to))
	j.UpdatedAt = now
	switch {
	case to == StatusExtracting:
		j.StartedAt = &now
	case to.Terminal():
		j.CompletedAt = &now
	}
	if mutate != nil {
		mutate(j)
	}
	return j.clone(), nil
}
