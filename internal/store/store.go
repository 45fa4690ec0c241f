// Package store is the single source of truth for job state. All cross-worker
// coordination routes through its conditional status transitions; workers hold
// no other shared locks.
package store

import (
	"context"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// Store is the durable record of job identity, status, artifacts and output.
// Status-changing writes are conditional on the expected prior status so a
// crash-and-retry cannot double-apply a transition. Readers never block
// writers.
type Store interface {
	// Create inserts a new job with status queued.
	Create(ctx context.Context, j *job.Job) error

	// Get returns the job by id, or job.ErrNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)

	// Claim atomically transitions queued -> processing and returns the
	// claimed job. A claim observing status != queued returns
	// job.ErrConflict; this transition is the mutual-exclusion lock
	// guaranteeing at-most-one concurrent execution per job id.
	Claim(ctx context.Context, id string) (*job.Job, error)

	// SaveProgress persists the artifacts committed so far and advances
	// currentStage. Must be called before the next stage begins. Only valid
	// while processing; returns job.ErrConflict otherwise.
	SaveProgress(ctx context.Context, id string, stage job.Stage, art *job.Artifacts) error

	// Complete atomically transitions processing -> completed and stores the
	// result.
	Complete(ctx context.Context, id string, res *job.Result) error

	// Fail atomically transitions processing -> failed and stores the stage
	// attribution.
	Fail(ctx context.Context, id string, stageErr *job.StageError) error

	// ListByOwner returns the owner's jobs newest first. A non-nil cursor
	// continues a previous page.
	ListByOwner(ctx context.Context, owner string, filter ListFilter) ([]job.Job, error)

	// Delete removes a terminal job owned by owner. Returns job.ErrNotFound,
	// job.ErrForbidden, or job.ErrJobInFlight for a processing job.
	Delete(ctx context.Context, id, owner string) error

	// DeleteAllByOwner removes all of the owner's terminal jobs and returns
	// the number deleted. In-flight jobs are skipped.
	DeleteAllByOwner(ctx context.Context, owner string) (int, error)
}

// ListFilter bounds and positions an owner listing.
type ListFilter struct {
	Status   job.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is a keyset pagination position over (created_at, job_id).
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}
