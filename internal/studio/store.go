package studio

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ragdesk/internal/backend"
)

var (
	// ErrTerminal is returned when finishing a job that already finished.
	ErrTerminal = errors.New("studio job already finished")
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("studio job not found")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job is one generation request and its outcome.
type Job struct {
	ID           string
	Type         backend.StudioAction
	Status       Status
	DocumentID   string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	Result       *backend.StudioResult
	Error        string
	BackendJobID string
	Message      string
}

// Store is the job history in creation order. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	jobs []Job
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) create(action backend.StudioAction, docID string) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := Job{
		ID:         uuid.New().String(),
		Type:       action,
		Status:     StatusProcessing,
		DocumentID: docID,
		CreatedAt:  s.now(),
	}
	s.jobs = append(s.jobs, j)
	return j
}

// finish applies fn to a non-terminal job. CompletedAt is stamped when fn
// moves the job into a terminal state.
func (s *Store) finish(id string, fn func(j *Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		j := &s.jobs[i]
		if j.ID != id {
			continue
		}
		if j.Status.Terminal() {
			return *j, ErrTerminal
		}
		fn(j)
		if j.Status.Terminal() && j.CompletedAt == nil {
			t := s.now()
			j.CompletedAt = &t
		}
		return *j, nil
	}
	return Job{}, ErrNotFound
}

// Jobs returns a snapshot of the history.
func (s *Store) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}
