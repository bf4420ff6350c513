package retryqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists retry jobs. Claim must be atomic: of any number of
// concurrent claims on the same pending job exactly one succeeds.
type Store interface {
	Insert(ctx context.Context, job *Job) error
	// Due returns up to limit pending jobs whose next attempt is at or
	// before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	// Claim moves a job from pending to processing and reports whether
	// this caller won it.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// List returns jobs with the given status, or all jobs when status is empty.
	List(ctx context.Context, status Status) ([]*Job, error)
}

// MemoryStore keeps jobs in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Insert adds a new job.
func (s *MemoryStore) Insert(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Due returns pending jobs ready to run.
func (s *MemoryStore) Due(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.Status == StatusPending && !job.NextAttemptAt.After(now) {
			due = append(due, job.Clone())
		}
	}
	sortByNextAttempt(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim transitions a pending job to processing.
func (s *MemoryStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != StatusPending {
		return false, nil
	}
	job.Status = StatusProcessing
	job.UpdatedAt = now
	return true, nil
}

// Update replaces a stored job.
func (s *MemoryStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of a job.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns copies of jobs, filtered by status when given.
func (s *MemoryStore) List(ctx context.Context, status Status) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// snapshot returns copies of every job.
func (s *MemoryStore) snapshot() []*Job {
	jobs, _ := s.List(context.Background(), "")
	return jobs
}

// restore replaces all jobs.
func (s *MemoryStore) restore(jobs []*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		s.jobs[job.ID] = job.Clone()
	}
}

func sortByNextAttempt(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].NextAttemptAt.Equal(jobs[j].NextAttemptAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].NextAttemptAt.Before(jobs[j].NextAttemptAt)
	})
}
