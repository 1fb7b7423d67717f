package runner

import (
	"sync"
	"time"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/core"
)

// Job tracks one run submitted to the runner.
type Job struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Status    backtest.Status    `json:"status"`
	Result    *backtest.Result   `json:"result,omitempty"`
	Error     *backtest.RunError `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store is a bounded in-memory job table. When full, the oldest finished
// job is evicted to make room, or the oldest job when none has finished.
type Store struct {
	jobs    map[string]*Job
	order   []string // insertion order for eviction
	maxSize int
	mu      sync.RWMutex
}

// NewStore creates a job store holding at most maxSize jobs.
func NewStore(maxSize int) *Store {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Create registers a pending job.
func (s *Store) Create(id, name string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job := &Job{
		ID:        id,
		Name:      name,
		Status:    backtest.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(s.jobs) >= s.maxSize && len(s.order) > 0 {
		s.evict()
	}

	s.jobs[id] = job
	s.order = append(s.order, id)

	cp := *job
	return &cp
}

// evict drops one job. Callers hold the write lock.
func (s *Store) evict() {
	victim := 0
	for i, id := range s.order {
		if job, ok := s.jobs[id]; ok && job.Status.IsTerminal() {
			victim = i
			break
		}
	}
	delete(s.jobs, s.order[victim])
	s.order = append(s.order[:victim], s.order[victim+1:]...)
}

// Get returns a copy of a job.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "job %s", id)
	}
	cp := *job
	return &cp, nil
}

// Update modifies a job under the store lock. Status changes must follow the
// run lifecycle; an invalid transition leaves the status unchanged.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.Errorf(core.ErrNotFound, "job %s", id)
	}

	prev := job.Status
	fn(job)
	if job.Status != prev && !prev.CanTransition(job.Status) {
		job.Status = prev
	}
	job.UpdatedAt = time.Now()
	return nil
}

// List returns copies of all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			result = append(result, *job)
		}
	}
	return result
}

// Active counts jobs that are pending or running.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[backtest.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[backtest.Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}
