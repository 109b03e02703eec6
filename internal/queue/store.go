package queue

import (
	"sync"

	"docflow/internal/model"
)

// Store is the in-memory job table. It is the source of truth for status
// queries; the broker only carries delivery. All mutation goes through the
// queue manager and worker pool, never by direct field writes.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*model.Job),
	}
}

func (s *Store) Put(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
}

// Get returns a copy of the job so callers can read it without racing
// against worker updates.
func (s *Store) Get(jobID string) (*model.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Update applies fn to the stored job under the lock and returns the
// updated copy. Returns false when the job is unknown.
func (s *Store) Update(jobID string, fn func(*model.Job)) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	fn(job)
	return job.Clone(), true
}

func (s *Store) Delete(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return false
	}
	delete(s.jobs, jobID)
	return true
}

// Snapshot returns copies of all jobs matching the filter. A nil filter
// matches everything.
func (s *Store) Snapshot(filter func(*model.Job) bool) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter == nil || filter(job) {
			out = append(out, job.Clone())
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
