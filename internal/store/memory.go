package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// MemoryStore is an in-process Store with the same conditional-transition
// semantics as PostgresStore. It backs tests and local development without a
// database.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*job.Job),
	}
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.Artifacts != nil {
		a := *j.Artifacts
		cp.Artifacts = &a
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.Translation != nil {
			t := *j.Result.Translation
			r.Translation = &t
		}
		r.Summary.KeyPoints = append([]string(nil), j.Result.Summary.KeyPoints...)
		r.Summary.ActionItems = append([]string(nil), j.Result.Summary.ActionItems...)
		r.Summary.Decisions = append([]string(nil), j.Result.Summary.Decisions...)
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// Create inserts a queued job.
func (s *MemoryStore) Create(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID] = cloneJob(j)
	return nil
}

// Get returns the job by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return cloneJob(j), nil
}

// Claim performs the queued -> processing compare-and-set.
func (s *MemoryStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	if j.Status != job.StatusQueued {
		return nil, job.ErrConflict
	}

	j.Status = job.StatusProcessing
	j.CurrentStage = job.StageNormalizing
	j.UpdatedAt = time.Now().UTC()
	return cloneJob(j), nil
}

// SaveProgress persists stage artifacts while the job is processing.
func (s *MemoryStore) SaveProgress(ctx context.Context, id string, stage job.Stage, art *job.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return job.ErrConflict
	}

	j.CurrentStage = stage
	a := *art
	j.Artifacts = &a
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete performs the processing -> completed compare-and-set.
func (s *MemoryStore) Complete(ctx context.Context, id string, res *job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return job.ErrConflict
	}

	j.Status = job.StatusCompleted
	j.CurrentStage = job.StageNone
	r := *res
	j.Result = &r
	j.Error = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail performs the processing -> failed compare-and-set.
func (s *MemoryStore) Fail(ctx context.Context, id string, stageErr *job.StageError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return job.ErrConflict
	}

	j.Status = job.StatusFailed
	j.CurrentStage = job.StageNone
	e := *stageErr
	j.Error = &e
	j.Result = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByOwner returns the owner's jobs newest first.
func (s *MemoryStore) ListByOwner(ctx context.Context, owner string, filter ListFilter) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []job.Job
	for _, j := range s.jobs {
		if j.Owner != owner {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil {
			if j.CreatedAt.After(filter.Cursor.CreatedAt) {
				continue
			}
			if j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID >= filter.Cursor.JobID {
				continue
			}
		}
		jobs = append(jobs, *cloneJob(j))
	}

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID > jobs[b].ID
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}

	return jobs, nil
}

// Delete removes a terminal job owned by owner.
func (s *MemoryStore) Delete(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Owner != owner {
		return job.ErrForbidden
	}
	if !j.Terminal() {
		return job.ErrJobInFlight
	}

	delete(s.jobs, id)
	return nil
}

// DeleteAllByOwner bulk-deletes the owner's terminal jobs.
func (s *MemoryStore) DeleteAllByOwner(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, j := range s.jobs {
		if j.Owner == owner && j.Terminal() {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Heartbeat refreshes the liveness timestamp of a processing job.
func (s *MemoryStore) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != job.StatusProcessing {
		return nil
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}
