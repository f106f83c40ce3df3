package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/marianodevel/siped/internal/models"
)

// JobStorage is the phase job registry. Records are keyed by the composite
// (phase, user) key, which is what guarantees at most one live job per pair.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob upserts a job under its (phase, user) registry key
func (s *JobStorage) SaveJob(ctx context.Context, job *models.PhaseJob) error {
	if job.Phase == "" {
		return fmt.Errorf("job phase is required")
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.RegistryKey(), job); err != nil {
		s.logger.Error().Err(err).
			Str("phase", job.Phase).
			Str("user_id", job.UserID).
			Msg("Failed to upsert phase job")
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Trace().
		Str("phase", job.Phase).
		Str("user_id", job.UserID).
		Str("state", string(job.State)).
		Msg("Phase job saved")
	return nil
}

// GetJob returns the live job for a (phase, user) pair, or nil when none
// is registered
func (s *JobStorage) GetJob(ctx context.Context, phase, userID string) (*models.PhaseJob, error) {
	var job models.PhaseJob
	err := s.db.Store().Get(models.JobRegistryKey(phase, userID), &job)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateState transitions the registered job for a (phase, user) pair and
// records its result text
func (s *JobStorage) UpdateState(ctx context.Context, phase, userID string, state models.JobState, result string) error {
	job, err := s.GetJob(ctx, phase, userID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("no job registered for %s", models.JobRegistryKey(phase, userID))
	}

	job.State = state
	job.Result = result
	return s.SaveJob(ctx, job)
}

// DeleteJob forgets the registered job for a (phase, user) pair. A missing
// record is not an error.
func (s *JobStorage) DeleteJob(ctx context.Context, phase, userID string) error {
	err := s.db.Store().Delete(models.JobRegistryKey(phase, userID), &models.PhaseJob{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListJobs returns every registered phase job
func (s *JobStorage) ListJobs(ctx context.Context) ([]*models.PhaseJob, error) {
	var jobs []models.PhaseJob
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	result := make([]*models.PhaseJob, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}

// PurgeStale deletes jobs that have not been updated within staleAfter.
// Terminal jobs nobody polled and jobs orphaned by a crashed worker both
// age out this way.
func (s *JobStorage) PurgeStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	threshold := time.Now().Add(-staleAfter)

	var jobs []models.PhaseJob
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return 0, fmt.Errorf("failed to list jobs for purge: %w", err)
	}

	purged := 0
	for i := range jobs {
		if !jobs[i].UpdatedAt.Before(threshold) {
			continue
		}
		if err := s.DeleteJob(ctx, jobs[i].Phase, jobs[i].UserID); err != nil {
			s.logger.Warn().Err(err).
				Str("phase", jobs[i].Phase).
				Str("user_id", jobs[i].UserID).
				Msg("Failed to purge stale job")
			continue
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info().Int("purged", purged).Msg("Stale phase jobs purged")
	}
	return purged, nil
}
