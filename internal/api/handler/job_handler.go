package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/talktotext/talktotext-pro/internal/api/dto"
	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// history previews show the head of the cleaned transcript
	previewChars = 75
)

// SubmitJob handles POST /api/v1/jobs
// Validation here is deliberately cheap: URL shape and blob existence only.
// Anything that requires touching the media is the pipeline's job, and a
// rejected submission never creates a row.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if msg := h.validateSubmission(&req); msg != "" {
		h.logger.Warn("Submission rejected",
			slog.String("owner", req.Owner),
			slog.String("reason", msg),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": msg,
		})
		return
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:    uuid.New().String(),
		Owner: req.Owner,
		Source: job.Source{
			Type:  job.SourceType(req.Source.Type),
			Value: req.Source.Value,
		},
		Options: job.Options{
			TargetLanguage: req.Options.TargetLanguage,
			QualityTier:    req.Options.QualityTier,
		},
		Status:    job.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), j); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, _ := json.Marshal(map[string]string{"job_id": j.ID})
	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		// row stays queued; a queue sweep or resubmission can pick it up
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("owner", j.Owner),
		slog.String("source_type", string(j.Source.Type)),
	)

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  j.ID,
		Status: string(j.Status),
	})
}

// validateSubmission returns a rejection message, or "" when acceptable.
func (h *JobHandler) validateSubmission(req *dto.SubmitJobRequest) string {
	switch job.SourceType(req.Source.Type) {
	case job.SourceURL:
		u, err := url.Parse(req.Source.Value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "source.value must be a valid http(s) URL"
		}
	case job.SourceUpload:
		if err := h.blobs.Stat(req.Source.Value); err != nil {
			return "source.value does not reference an uploaded file"
		}
	default:
		return "source.type must be upload or url"
	}

	switch req.Options.QualityTier {
	case "", "low", "medium", "high":
	default:
		return "options.quality_tier must be low, medium or high"
	}

	return ""
}

// GetJobStatus handles GET /api/v1/jobs/:job_id/status
// A single row read; repeated polls without worker activity return
// byte-identical bodies.
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	j, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{
		JobID:        j.ID,
		Status:       string(j.Status),
		CurrentStage: string(j.CurrentStage),
		Result:       j.Result,
		Error:        j.Error,
	})
}

// ListHistory handles GET /api/v1/history
// Newest first with keyset pagination. Previews are derived per read from
// the stored transcript, never persisted.
func (h *JobHandler) ListHistory(c *gin.Context) {
	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner is required",
		})
		return
	}

	if req.Status != "" && !job.Status(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid status filter",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeHistoryCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := store.ListFilter{
		Status:   job.Status(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListByOwner(c.Request.Context(), req.Owner, filter)
	if err != nil {
		h.logger.Error("Failed to list history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	items := make([]dto.HistoryItem, len(jobs))
	for i := range jobs {
		items[i] = historyItem(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeHistoryCursor(&store.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Jobs:       items,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/history/:job_id
// Only terminal jobs are deletable. A processing job returns 409 so the
// worker never races a vanishing row.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner is required",
		})
		return
	}

	err := h.store.Delete(c.Request.Context(), jobID, owner)
	switch {
	case err == nil:
		h.logger.Info("Job deleted",
			slog.String("job_id", jobID),
			slog.String("owner", owner),
		)
		c.Status(http.StatusNoContent)
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, job.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "job belongs to another owner"})
	case errors.Is(err, job.ErrJobInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "job is processing, try again later"})
	default:
		h.logger.Error("Failed to delete job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete job"})
	}
}

// ClearAll handles POST /api/v1/history/clear_all
// Bulk-deletes the caller's terminal jobs; anything in flight survives.
func (h *JobHandler) ClearAll(c *gin.Context) {
	var req dto.ClearAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner is required",
		})
		return
	}

	deleted, err := h.store.DeleteAllByOwner(c.Request.Context(), req.Owner)
	if err != nil {
		h.logger.Error("Failed to clear history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear history",
		})
		return
	}

	h.logger.Info("History cleared",
		slog.String("owner", req.Owner),
		slog.Int("deleted", deleted),
	)

	c.JSON(http.StatusOK, dto.ClearAllResponse{Deleted: deleted})
}

// historyItem projects a job row into its history listing shape.
func historyItem(j *job.Job) dto.HistoryItem {
	return dto.HistoryItem{
		JobID:   j.ID,
		Name:    j.Name(),
		Date:    j.CreatedAt.Format(time.RFC3339),
		Status:  string(j.Status),
		Preview: previewFrom(j),
		Formats: formatsFor(j),
	}
}

// previewFrom truncates the cleaned transcript for the listing. Jobs
// still in flight show a placeholder instead of an empty cell.
func previewFrom(j *job.Job) string {
	switch j.Status {
	case job.StatusQueued, job.StatusProcessing:
		return "Processing..."
	}
	if j.Result == nil {
		return ""
	}
	text := j.Result.Transcription.CleanedTranscript
	runes := []rune(text)
	if len(runes) <= previewChars {
		return text
	}
	return string(runes[:previewChars]) + "..."
}

// formatsFor lists the export formats available for the job.
func formatsFor(j *job.Job) []string {
	if j.Status != job.StatusCompleted {
		return []string{}
	}
	return []string{"txt", "json", "md"}
}
