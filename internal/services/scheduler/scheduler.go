package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	badgerstore "github.com/marianodevel/siped/internal/storage/badger"
)

// Service runs the periodic housekeeping nobody polls for: phase job
// records that aged out and queue tasks left behind by exhausted retries.
type Service struct {
	cfg     common.JobsConfig
	db      *badgerstore.BadgerDB
	jobs    *badgerstore.JobStorage
	queue   *badgerstore.QueueStorage
	cron    *cron.Cron
	logger  arbor.ILogger
	running bool
}

// NewService creates a scheduler service
func NewService(cfg common.JobsConfig, db *badgerstore.BadgerDB, jobs *badgerstore.JobStorage, queue *badgerstore.QueueStorage, logger arbor.ILogger) *Service {
	return &Service{
		cfg:    cfg,
		db:     db,
		jobs:   jobs,
		queue:  queue,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the purge on the configured interval
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.cfg.PurgeSchedule, s.purge); err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", s.cfg.PurgeSchedule).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for an in-progress purge
func (s *Service) Stop() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) purge() {
	ctx := context.Background()

	purgedJobs, err := s.jobs.PurgeStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stale job purge failed")
	}

	purgedTasks, err := s.queue.PurgeExpired(ctx, s.cfg.StaleAfter)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Expired task purge failed")
	}

	if err := s.db.RunGC(); err != nil {
		s.logger.Warn().Err(err).Msg("Value log GC failed")
	}

	if purgedJobs > 0 || purgedTasks > 0 {
		s.logger.Info().
			Int("jobs", purgedJobs).
			Int("tasks", purgedTasks).
			Msg("Housekeeping purge completed")
	}
}
