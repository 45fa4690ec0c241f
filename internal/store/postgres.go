package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talktotext/talktotext-pro/internal/job"
)

// PostgresStore implements Store on top of a jobs table. Conditional status
// updates are expressed as UPDATE ... WHERE status = expected, so the
// database is the arbiter of the single-writer rule across processes.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// jobRow mirrors the jobs table for scanning.
type jobRow struct {
	JobID        string         `db:"job_id"`
	Owner        string         `db:"owner"`
	SourceType   string         `db:"source_type"`
	SourceValue  string         `db:"source_value"`
	Options      []byte         `db:"options"`
	Status       string         `db:"status"`
	CurrentStage sql.NullString `db:"current_stage"`
	Artifacts    []byte         `db:"artifacts"`
	Result       []byte         `db:"result"`
	ErrorStage   sql.NullString `db:"error_stage"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const jobColumns = `
	job_id, owner, source_type, source_value, options, status,
	current_stage, artifacts, result, error_stage, error_message,
	created_at, updated_at
`

func (r *jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:    r.JobID,
		Owner: r.Owner,
		Source: job.Source{
			Type:  job.SourceType(r.SourceType),
			Value: r.SourceValue,
		},
		Status:    job.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.CurrentStage.Valid {
		j.CurrentStage = job.Stage(r.CurrentStage.String)
	}

	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &j.Options); err != nil {
			return nil, fmt.Errorf("failed to decode options: %w", err)
		}
	}

	if len(r.Artifacts) > 0 {
		j.Artifacts = &job.Artifacts{}
		if err := json.Unmarshal(r.Artifacts, j.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode artifacts: %w", err)
		}
	}

	if len(r.Result) > 0 {
		j.Result = &job.Result{}
		if err := json.Unmarshal(r.Result, j.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}

	if r.ErrorStage.Valid {
		j.Error = &job.StageError{
			Stage:   job.Stage(r.ErrorStage.String),
			Message: r.ErrorMessage.String,
		}
	}

	return j, nil
}

// Create inserts a queued job.
func (s *PostgresStore) Create(ctx context.Context, j *job.Job) error {
	optionsJSON, err := json.Marshal(j.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO jobs (
			job_id, owner, source_type, source_value, options,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		j.ID,
		j.Owner,
		string(j.Source.Type),
		j.Source.Value,
		optionsJSON,
		string(j.Status),
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", j.ID),
		slog.String("owner", j.Owner),
		slog.String("source_type", string(j.Source.Type)),
	)

	return nil
}

// Get returns the job by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

// Claim performs the queued -> processing compare-and-set.
func (s *PostgresStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    current_stage = $2,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(job.StatusProcessing),
		string(job.StageNormalizing),
		id,
		string(job.StatusQueued),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", id),
	)

	return row.toJob()
}

// SaveProgress persists stage artifacts while the job is processing.
func (s *PostgresStore) SaveProgress(ctx context.Context, id string, stage job.Stage, art *job.Artifacts) error {
	artifactsJSON, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	query := `
		UPDATE jobs
		SET current_stage = $1,
		    artifacts = $2,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		string(stage), artifactsJSON, id, string(job.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	return s.requireRow(ctx, result, id)
}

// Complete performs the processing -> completed compare-and-set.
func (s *PostgresStore) Complete(ctx context.Context, id string, res *job.Result) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    current_stage = NULL,
		    result = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		string(job.StatusCompleted), resultJSON, id, string(job.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	if err := s.requireRow(ctx, result, id); err != nil {
		return err
	}

	s.logger.Info("Job completed",
		slog.String("job_id", id),
	)

	return nil
}

// Fail performs the processing -> failed compare-and-set.
func (s *PostgresStore) Fail(ctx context.Context, id string, stageErr *job.StageError) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    current_stage = NULL,
		    error_stage = $2,
		    error_message = $3,
		    updated_at = NOW()
		WHERE job_id = $4
		  AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		string(job.StatusFailed),
		string(stageErr.Stage),
		stageErr.Message,
		id,
		string(job.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	if err := s.requireRow(ctx, result, id); err != nil {
		return err
	}

	s.logger.Info("Job failed",
		slog.String("job_id", id),
		slog.String("stage", string(stageErr.Stage)),
		slog.String("error", stageErr.Message),
	)

	return nil
}

// ListByOwner returns the owner's jobs newest first with keyset pagination.
func (s *PostgresStore) ListByOwner(ctx context.Context, owner string, filter ListFilter) ([]job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner = $1`
	args := []interface{}{owner}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		// Fetch one extra so the caller can tell whether more pages exist.
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]job.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}

	return jobs, nil
}

// Delete removes a terminal job owned by owner.
func (s *PostgresStore) Delete(ctx context.Context, id, owner string) error {
	query := `
		DELETE FROM jobs
		WHERE job_id = $1
		  AND owner = $2
		  AND status IN ($3, $4)
	`

	result, err := s.db.ExecContext(ctx, query, id, owner,
		string(job.StatusCompleted), string(job.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Info("Job deleted",
			slog.String("job_id", id),
			slog.String("owner", owner),
		)
		return nil
	}

	// Nothing deleted: classify against the current row.
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return job.ErrForbidden
	}
	if !existing.Terminal() {
		return job.ErrJobInFlight
	}
	return job.ErrNotFound
}

// DeleteAllByOwner bulk-deletes the owner's terminal jobs.
func (s *PostgresStore) DeleteAllByOwner(ctx context.Context, owner string) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE owner = $1
		  AND status IN ($2, $3)
	`

	result, err := s.db.ExecContext(ctx, query, owner,
		string(job.StatusCompleted), string(job.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to clear jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("Owner history cleared",
		slog.String("owner", owner),
		slog.Int64("deleted", affected),
	)

	return int(affected), nil
}

// Heartbeat refreshes the liveness timestamp of a processing job.
func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW()
		WHERE job_id = $1
		  AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, id, string(job.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("Heartbeat skipped - job no longer processing",
			slog.String("job_id", id),
		)
	}

	return nil
}

// requireRow converts a zero-row conditional update into the proper error.
func (s *PostgresStore) requireRow(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss distinguishes a missing job from a lost status race.
func (s *PostgresStore) classifyMiss(ctx context.Context, id string) error {
	query := `SELECT status FROM jobs WHERE job_id = $1`

	var status string
	if err := s.db.GetContext(ctx, &status, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job.ErrNotFound
		}
		return fmt.Errorf("failed to inspect job status: %w", err)
	}

	return job.ErrConflict
}
