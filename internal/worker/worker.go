package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/talktotext/talktotext-pro/internal/job"
	"github.com/talktotext/talktotext-pro/internal/pipeline"
	"github.com/talktotext/talktotext-pro/shared/rabbitmq"
)

// Store is the slice of the job store the worker needs. The Claim
// compare-and-set is the mutual-exclusion lock: at most one worker ever
// holds a given job in processing.
type Store interface {
	pipeline.ProgressStore
	Get(ctx context.Context, id string) (*job.Job, error)
	Claim(ctx context.Context, id string) (*job.Job, error)
	Complete(ctx context.Context, id string, res *job.Result) error
	Fail(ctx context.Context, id string, stageErr *job.StageError) error
	Heartbeat(ctx context.Context, id string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             Store
	RabbitClient      *rabbitmq.Client
	Executor          *pipeline.Executor
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	MaxStageRetries   int
	RetryDelay        time.Duration
}

// Worker consumes job ids from the queue and drives each claimed job's
// pipeline to a terminal status inside a bounded goroutine pool.
type Worker struct {
	logger            *slog.Logger
	store             Store
	rabbitClient      *rabbitmq.Client
	executor          *pipeline.Executor
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	maxStageRetries   int
	retryDelay        time.Duration
	wg                sync.WaitGroup
	stopChan          chan struct{}
	jobsChan          chan *jobMessage
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = cfg.Concurrency
	}
	retries := cfg.MaxStageRetries
	if retries < 0 {
		retries = 0
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		rabbitClient:      cfg.RabbitClient,
		executor:          cfg.Executor,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		maxStageRetries:   retries,
		retryDelay:        cfg.RetryDelay,
		stopChan:          make(chan struct{}),
		jobsChan:          make(chan *jobMessage),
	}
}

// Start begins consuming and processing jobs until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.consumeLoop(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
