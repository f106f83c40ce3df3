package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
	badgerstore "github.com/marianodevel/siped/internal/storage/badger"
)

// Pollable status texts for the non-terminal states
const (
	resultQueued  = "En cola..."
	resultRunning = "Procesando..."
)

// ErrJobInProgress is returned when a (phase, user) pair already has a
// live job
var ErrJobInProgress = fmt.Errorf("ya hay una tarea en curso para esta fase")

// Orchestrator owns the submit/poll/reset/revoke surface of the async
// phase machinery. One live job per (phase, user) pair; terminal results
// are handed to a poller exactly once, then forgotten.
type Orchestrator struct {
	jobs   *badgerstore.JobStorage
	queue  *badgerstore.QueueStorage
	logger arbor.ILogger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(jobs *badgerstore.JobStorage, queue *badgerstore.QueueStorage, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		queue:  queue,
		logger: logger,
	}
}

// Submit registers a PENDING job for the (phase, user) pair and enqueues
// its task. The session cookies travel with the task; credentials never
// enter the queue. Refused while a live job exists for the same pair.
func (o *Orchestrator) Submit(ctx context.Context, phase, userID, expedienteNro string, cookies portal.CookieSet) (*models.PhaseJob, error) {
	if !models.KnownPhase(phase) {
		return nil, fmt.Errorf("unknown phase: %s", phase)
	}

	existing, err := o.jobs.GetJob(ctx, phase, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.State.IsTerminal() {
		o.logger.Warn().
			Str("phase", phase).
			Str("user_id", userID).
			Str("state", string(existing.State)).
			Msg("Submit refused, job already live")
		return nil, ErrJobInProgress
	}

	job := models.NewPhaseJob(phase, userID)
	job.Result = resultQueued
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	task := models.NewPhaseTask(phase, userID, cookies)
	task.ExpedienteNro = expedienteNro
	if err := o.queue.Enqueue(ctx, task); err != nil {
		// Roll the registry back so the pair is not stuck PENDING forever
		if delErr := o.jobs.DeleteJob(ctx, phase, userID); delErr != nil {
			o.logger.Warn().Err(delErr).Str("phase", phase).Msg("Failed to roll back job record")
		}
		return nil, err
	}

	o.logger.Info().
		Str("phase", phase).
		Str("user_id", userID).
		Str("job_id", job.ID).
		Msg("Phase job submitted")
	return job, nil
}

// Poll reports the (phase, user) pair's status. No record reads as IDLE.
// A terminal state is returned once and the record forgotten, so the next
// poll reads IDLE again.
func (o *Orchestrator) Poll(ctx context.Context, phase, userID string) (*models.JobStatus, error) {
	job, err := o.jobs.GetJob(ctx, phase, userID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &models.JobStatus{State: models.JobStateIdle}, nil
	}

	status := &models.JobStatus{State: job.State, Result: job.Result}

	switch job.State {
	case models.JobStatePending:
		status.Result = resultQueued
	case models.JobStateStarted, models.JobStateRetry:
		status.Result = resultRunning
	}

	if job.State.IsTerminal() {
		if err := o.jobs.DeleteJob(ctx, phase, userID); err != nil {
			o.logger.Warn().Err(err).Str("phase", phase).Msg("Failed to forget terminal job")
		}
	}
	return status, nil
}

// Reset force-forgets the (phase, user) record regardless of state,
// unblocking a pair stuck by a crashed worker
func (o *Orchestrator) Reset(ctx context.Context, phase, userID string) error {
	return o.jobs.DeleteJob(ctx, phase, userID)
}

// Revoke marks a live job REVOKED. A still-queued task is dropped when a
// worker receives it; work already in flight runs to completion.
func (o *Orchestrator) Revoke(ctx context.Context, phase, userID string) error {
	job, err := o.jobs.GetJob(ctx, phase, userID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("no job registered for %s", models.JobRegistryKey(phase, userID))
	}
	if job.State.IsTerminal() {
		return nil
	}

	job.State = models.JobStateRevoked
	job.Result = "Tarea revocada."
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		return err
	}

	o.logger.Info().Str("phase", phase).Str("user_id", userID).Msg("Phase job revoked")
	return nil
}
