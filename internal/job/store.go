// Package job tracks asynchronous work such as backtest runs.
package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newthinker/tradecore/internal/core"
)

// Status represents job status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Finished reports whether the job reached a terminal status.
func (s Status) Finished() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job represents an async job.
type Job struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Label     string      `json:"label,omitempty"`
	Status    Status      `json:"status"`
	Progress  int         `json:"progress"`
	Result    any         `json:"result,omitempty"`
	Error     *core.Error `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type entry struct {
	job  Job
	done chan struct{}
}

// Store keeps a bounded set of jobs. The oldest job is evicted when full;
// finished jobs older than the ttl are dropped by Prune.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a new job store.
func NewStore(maxSize int, ttl time.Duration) *Store {
	return &Store{
		jobs:    make(map[string]*entry),
		order:   make([]string, 0, maxSize),
		maxSize: max(maxSize, 1),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create registers a pending job and returns a copy of it.
func (s *Store) Create(jobType, label string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := &entry{
		job: Job{
			ID:        uuid.NewString(),
			Type:      jobType,
			Label:     label,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	if len(s.jobs) >= s.maxSize && len(s.order) > 0 {
		oldest := s.order[0]
		delete(s.jobs, oldest)
		s.order = s.order[1:]
	}

	s.jobs[e.job.ID] = e
	s.order = append(s.order, e.job.ID)
	return e.job
}

// Get retrieves a copy of a job by ID.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return Job{}, core.Errorf(core.ErrNotFound, "job %s not found", id)
	}
	return e.job, nil
}

// Update modifies a job in place. Once the status becomes terminal the
// job's Done channel is closed and further updates are ignored.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return core.Errorf(core.ErrNotFound, "job %s not found", id)
	}
	if e.job.Status.Finished() {
		return nil
	}
	fn(&e.job)
	e.job.UpdatedAt = s.now()
	if e.job.Status.Finished() {
		close(e.done)
	}
	return nil
}

// Done returns a channel closed when the job finishes.
func (s *Store) Done(id string) (<-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, core.Errorf(core.ErrNotFound, "job %s not found", id)
	}
	return e.done, nil
}

// List returns all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.jobs[id].job)
	}
	return result
}

// Prune drops finished jobs last updated before the ttl and returns how many
// were removed.
func (s *Store) Prune() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		e := s.jobs[id]
		if e.job.Status.Finished() && e.job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}
