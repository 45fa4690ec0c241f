package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/pipeline"
)

// infrastructureError marks failures where the job could not be driven to
// a terminal status (store unreachable, claim update failed). Messages
// carrying one are requeued for another attempt.
type infrastructureError struct {
	err error
}

func (e *infrastructureError) Error() string { return e.err.Error() }
func (e *infrastructureError) Unwrap() error { return e.err }

// processJob claims the job, runs the pipeline with the configured retry
// budget, and finalizes the row. The queued to processing compare-and-set
// is the only gate: losing it means another worker owns the job and this
// delivery is a no-op.
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	claimed, err := w.store.Claim(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, job.ErrConflict) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		if errors.Is(err, job.ErrNotFound) {
			w.logger.Warn("Job no longer exists, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job not found: %w", err)
		}
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return &infrastructureError{err: fmt.Errorf("failed to claim job: %w", err)}
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, claimed.ID, heartbeatDone)
	defer close(heartbeatDone)

	result, runErr := w.runWithRetry(jobCtx, claimed)

	// finalization uses the parent context so a job timeout does not
	// also block recording the failure
	if runErr != nil {
		if errors.Is(runErr, job.ErrConflict) {
			// another writer moved the job; its transition is authoritative
			w.logger.Warn("Job transitioned elsewhere mid-run, skipping finalization",
				slog.String("job_id", claimed.ID),
			)
			return fmt.Errorf("job status conflict: %w", runErr)
		}
		stageErr := stageErrorFrom(runErr)
		w.logger.Error("Pipeline failed",
			slog.String("job_id", claimed.ID),
			slog.String("stage", string(stageErr.Stage)),
			slog.String("error", stageErr.Message),
		)
		if failErr := w.store.Fail(ctx, claimed.ID, stageErr); failErr != nil {
			w.logger.Error("Failed to mark job failed",
				slog.String("job_id", claimed.ID),
				slog.String("error", failErr.Error()),
			)
			return &infrastructureError{err: fmt.Errorf("failed to finalize job: %w", failErr)}
		}
		// the failure is recorded, the message is spent
		return nil
	}

	if completeErr := w.store.Complete(ctx, claimed.ID, result); completeErr != nil {
		w.logger.Error("Failed to mark job completed",
			slog.String("job_id", claimed.ID),
			slog.String("error", completeErr.Error()),
		)
		return &infrastructureError{err: fmt.Errorf("failed to finalize job: %w", completeErr)}
	}

	w.logger.Info("Job completed",
		slog.String("job_id", claimed.ID),
	)
	return nil
}

// runWithRetry executes the pipeline, retrying whole-pipeline on transient
// failures up to maxStageRetries extra attempts. Each retry re-reads the
// job so the executor resumes from the last committed artifacts instead of
// redoing finished stages.
func (w *Worker) runWithRetry(ctx context.Context, j *job.Job) (*job.Result, error) {
	result, err := w.executor.Run(ctx, j)
	for attempt := 1; err != nil && attempt <= w.maxStageRetries; attempt++ {
		if !job.IsTransient(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		w.logger.Warn("Transient failure, retrying pipeline",
			slog.String("job_id", j.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
			return nil, err
		}

		fresh, getErr := w.store.Get(ctx, j.ID)
		if getErr != nil {
			w.logger.Error("Failed to reload job for retry",
				slog.String("job_id", j.ID),
				slog.String("error", getErr.Error()),
			)
			return nil, err
		}

		result, err = w.executor.Run(ctx, fresh)
	}
	return result, err
}

// stageErrorFrom extracts the failing stage and message for the job row.
// Classification wrappers are stripped; the stored message is what the
// capability reported, not the retry bookkeeping around it.
func stageErrorFrom(err error) *job.StageError {
	stage := pipeline.FailingStage(err)
	msg := err.Error()
	var sf *pipeline.StageFailure
	if errors.As(err, &sf) {
		msg = sf.Err.Error()
	}

	var te *job.TransientError
	var pe *job.PermanentError
	switch {
	case errors.As(err, &te):
		msg = te.Err.Error()
	case errors.As(err, &pe):
		msg = pe.Err.Error()
	}

	return &job.StageError{Stage: stage, Message: msg}
}

// sendJobHeartbeat periodically refreshes the job's heartbeat timestamp
// while the pipeline runs.
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Heartbeat update failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
