// Package jobs records pipeline runs started through the API so their
// status can be queried and their output downloaded later.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	ptderrors "github.com/a3tai/ptd-generator/internal/errors"
)

// State is the lifecycle state of a job.
type State string

// Job states.
const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one pipeline run.
type Job struct {
	ID          string    `json:"job_id"`
	State       State     `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Output      string    `json:"output_file,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Store persists jobs.
type Store interface {
	// Create registers a new running job.
	Create(ctx context.Context) (*Job, error)
	// Complete marks a job completed with its output file.
	Complete(ctx context.Context, id, output, downloadURL string) error
	// Fail marks a job failed.
	Fail(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (*Job, error)
	// Latest returns the most recently created completed job.
	Latest(ctx context.Context) (*Job, error)
	Close() error
}

func notFound(id string) error {
	return ptderrors.Newf(ptderrors.ErrorTypeJobNotFound, "job %s not found", id)
}

func noneCompleted() error {
	return ptderrors.NewPipelineError(ptderrors.ErrorTypeJobNotFound, "no completed job yet")
}

func newJob(now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString(),
		State:     StateRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context) (*Job, error) {
	job := newJob(s.now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	c := *job
	return &c, nil
}

func (s *MemoryStore) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return notFound(id)
	}
	fn(job)
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id, output, downloadURL string) error {
	return s.update(id, func(j *Job) {
		j.State = StateCompleted
		j.Output = output
		j.DownloadURL = downloadURL
		j.Error = ""
	})
}

func (s *MemoryStore) Fail(_ context.Context, id, reason string) error {
	return s.update(id, func(j *Job) {
		j.State = StateFailed
		j.Error = reason
	})
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	c := *job
	return &c, nil
}

func (s *MemoryStore) Latest(_ context.Context) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if job := s.jobs[s.order[i]]; job.State == StateCompleted {
			c := *job
			return &c, nil
		}
	}
	return nil, noneCompleted()
}

func (s *MemoryStore) Close() error { return nil }
