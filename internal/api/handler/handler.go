package handler

import (
	"context"
	"log/slog"

	"github.com/talktotext/talktotext-pro/internal/blob"
	"github.com/talktotext/talktotext-pro/internal/store"
)

// Publisher enqueues a job id for the worker service. Satisfied by the
// shared rabbitmq client.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     store.Store
	Blobs     blob.Store
	Publisher Publisher
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     store.Store
	blobs     blob.Store
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
	}
}
