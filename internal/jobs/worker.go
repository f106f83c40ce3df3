package jobs

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
	badgerstore "github.com/marianodevel/siped/internal/storage/badger"
)

// PhaseRunner executes one phase to completion and reports its summary
type PhaseRunner interface {
	Run(ctx context.Context, phase, userID, expedienteNro string, cookies portal.CookieSet) (string, error)
}

// WorkerPool polls the task queue and runs phases. Each worker handles
// one task at a time; different phases, or the same phase for different
// users, may run concurrently across workers.
type WorkerPool struct {
	cfg    common.QueueConfig
	queue  *badgerstore.QueueStorage
	jobs   *badgerstore.JobStorage
	runner PhaseRunner
	logger arbor.ILogger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(cfg common.QueueConfig, queue *badgerstore.QueueStorage, jobs *badgerstore.JobStorage, runner PhaseRunner, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		cfg:    cfg,
		queue:  queue,
		jobs:   jobs,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.cfg.Concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.cfg.Concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop signals the workers to exit. A phase already in flight runs to
// completion; revocation has no cooperative mid-phase checks.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce contention on the shared store
	staggerDelay := (wp.cfg.PollInterval / time.Duration(wp.cfg.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return

		case <-ticker.C:
			task, err := wp.queue.Receive(wp.ctx)
			if err != nil {
				wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Failed to receive task")
				continue
			}
			if task == nil {
				continue
			}
			wp.processTask(workerID, task)
		}
	}
}

// processTask runs one queued phase and records its terminal state
func (wp *WorkerPool) processTask(workerID int, task *models.PhaseTask) {
	job, err := wp.jobs.GetJob(wp.ctx, task.Phase, task.UserID)
	if err != nil {
		wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to load job for task")
		return
	}

	// A task whose registry record was revoked, reset or replaced by a
	// newer submission is dropped here without running
	if job == nil || job.State == models.JobStateRevoked || task.EnqueuedAt.Before(job.CreatedAt) {
		wp.logger.Info().
			Str("task_id", task.ID).
			Str("phase", task.Phase).
			Str("user_id", task.UserID).
			Msg("Dropping orphaned or revoked task")
		if err := wp.queue.Delete(wp.ctx, task.ID); err != nil {
			wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to delete dropped task")
		}
		return
	}

	if err := wp.jobs.UpdateState(wp.ctx, task.Phase, task.UserID, models.JobStateStarted, "Procesando..."); err != nil {
		wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to mark job started")
	}

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("phase", task.Phase).
		Str("user_id", task.UserID).
		Msg("Phase execution started")

	summary, runErr := wp.runner.Run(wp.ctx, task.Phase, task.UserID, task.ExpedienteNro, task.Cookies)

	state := models.JobStateSuccess
	result := summary
	if runErr != nil {
		state = models.JobStateFailure
		result = runErr.Error()
		wp.logger.Error().Err(runErr).
			Str("phase", task.Phase).
			Str("user_id", task.UserID).
			Msg("Phase execution failed")
	} else {
		wp.logger.Info().
			Str("phase", task.Phase).
			Str("user_id", task.UserID).
			Str("summary", summary).
			Msg("Phase execution completed")
	}

	if err := wp.jobs.UpdateState(wp.ctx, task.Phase, task.UserID, state, result); err != nil {
		wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to record terminal state")
	}
	if err := wp.queue.Delete(wp.ctx, task.ID); err != nil {
		wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to delete completed task")
	}
}
