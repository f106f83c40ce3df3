package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
)

// QueueStorage is the Badger-backed task queue the worker pool polls.
// A received task becomes invisible for the visibility timeout; a worker
// that crashes mid-task leaves it to reappear and be retried, up to
// MaxReceive deliveries.
type QueueStorage struct {
	db     *BadgerDB
	cfg    common.QueueConfig
	logger arbor.ILogger

	mu sync.Mutex
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, cfg common.QueueConfig, logger arbor.ILogger) *QueueStorage {
	return &QueueStorage{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

// Enqueue makes a task available for delivery
func (s *QueueStorage) Enqueue(ctx context.Context, task *models.PhaseTask) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if err := s.db.Store().Upsert(task.ID, task); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	s.logger.Debug().
		Str("task_id", task.ID).
		Str("phase", task.Phase).
		Str("user_id", task.UserID).
		Msg("Task enqueued")
	return nil
}

// Receive delivers the oldest visible task, or nil when the queue has
// nothing ready. Delivery hides the task for the visibility timeout and
// bumps its receive count; a task over MaxReceive is dropped instead.
func (s *QueueStorage) Receive(ctx context.Context) (*models.PhaseTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	var tasks []models.PhaseTask
	if err := s.db.Store().Find(&tasks, nil); err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	var oldest *models.PhaseTask
	for i := range tasks {
		if tasks[i].VisibleAt.After(now) {
			continue
		}
		if tasks[i].ReceiveCount >= s.cfg.MaxReceive {
			s.logger.Warn().
				Str("task_id", tasks[i].ID).
				Str("phase", tasks[i].Phase).
				Int("receive_count", tasks[i].ReceiveCount).
				Msg("Task exceeded max deliveries, dropping")
			if err := s.Delete(ctx, tasks[i].ID); err != nil {
				s.logger.Warn().Err(err).Str("task_id", tasks[i].ID).Msg("Failed to drop exhausted task")
			}
			continue
		}
		if oldest == nil || tasks[i].EnqueuedAt.Before(oldest.EnqueuedAt) {
			oldest = &tasks[i]
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.VisibleAt = now.Add(s.cfg.VisibilityTimeout)
	oldest.ReceiveCount++
	if err := s.db.Store().Upsert(oldest.ID, oldest); err != nil {
		return nil, fmt.Errorf("failed to mark task received: %w", err)
	}

	s.logger.Trace().
		Str("task_id", oldest.ID).
		Str("phase", oldest.Phase).
		Int("receive_count", oldest.ReceiveCount).
		Msg("Task received")
	return oldest, nil
}

// Delete removes a task after its work completed (or was revoked)
func (s *QueueStorage) Delete(ctx context.Context, taskID string) error {
	err := s.db.Store().Delete(taskID, &models.PhaseTask{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// FindByJob returns queued tasks for a (phase, user) pair
func (s *QueueStorage) FindByJob(ctx context.Context, phase, userID string) ([]*models.PhaseTask, error) {
	var tasks []models.PhaseTask
	query := badgerhold.Where("Phase").Eq(phase).And("UserID").Eq(userID)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	result := make([]*models.PhaseTask, 0, len(tasks))
	for i := range tasks {
		result = append(result, &tasks[i])
	}
	return result, nil
}

// PurgeExpired drops tasks that sat in the queue longer than maxAge
func (s *QueueStorage) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	threshold := time.Now().Add(-maxAge)

	var tasks []models.PhaseTask
	if err := s.db.Store().Find(&tasks, nil); err != nil {
		return 0, fmt.Errorf("failed to scan queue for purge: %w", err)
	}

	purged := 0
	for i := range tasks {
		if !tasks[i].EnqueuedAt.Before(threshold) {
			continue
		}
		if err := s.Delete(ctx, tasks[i].ID); err != nil {
			s.logger.Warn().Err(err).Str("task_id", tasks[i].ID).Msg("Failed to purge expired task")
			continue
		}
		purged++
	}
	return purged, nil
}

// Count returns the number of tasks in the queue
func (s *QueueStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.PhaseTask{}, nil)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
