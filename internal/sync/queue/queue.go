// Package queue manages the persistent sync queue of sessions awaiting
// replication.
//
// A session has at most one queue item. Items move pending -> failed on a
// failed attempt and are removed on success. Failed items stay failed until
// RetryAll; nothing is retried automatically.
package queue

import (
	"context"
	"time"

	"github.com/katlab/katcore/internal/db"
	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/logging"
	"github.com/katlab/katcore/internal/models"
)

// Queue wraps the store's sync queue operations.
type Queue struct {
	repo db.SyncQueueRepository
	now  func() time.Time
}

// New creates a Queue backed by repo.
func New(repo db.SyncQueueRepository) *Queue {
	return &Queue{
		repo: repo,
		now:  time.Now,
	}
}

// Enqueue queues a session. Enqueueing an already queued session returns the
// existing item unchanged, whatever its status.
func (q *Queue) Enqueue(ctx context.Context, sessionID string) (*models.SyncQueueItem, error) {
	item, created, err := q.repo.EnqueueSync(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if created {
		logging.Info("Session queued for sync", map[string]interface{}{
			"session_id": sessionID,
			"item_id":    item.ID,
		})
	}
	return item, nil
}

// Get returns the queue item of a session, or NOT_FOUND.
func (q *Queue) Get(ctx context.Context, sessionID string) (*models.SyncQueueItem, error) {
	return q.repo.GetSyncQueueItem(ctx, sessionID)
}

// GetPending returns the pending items, oldest first.
func (q *Queue) GetPending(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.repo.ListSyncQueue(ctx, models.SyncStatusPending)
}

// GetFailed returns the failed items, oldest first.
func (q *Queue) GetFailed(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.repo.ListSyncQueue(ctx, models.SyncStatusFailed)
}

// List returns every queued item.
func (q *Queue) List(ctx context.Context) ([]*models.SyncQueueItem, error) {
	return q.repo.ListSyncQueue(ctx, "")
}

// Complete records a successful replication and removes the item.
func (q *Queue) Complete(ctx context.Context, sessionID string) error {
	if err := q.repo.MarkSynced(ctx, sessionID, q.now().UTC()); err != nil {
		return err
	}
	logging.Debug("Queue item completed", map[string]interface{}{"session_id": sessionID})
	return nil
}

// Failed marks the item failed, increments its retry count and keeps the
// error message.
func (q *Queue) Failed(ctx context.Context, sessionID string, cause error) error {
	msg := apperrors.Message(cause)
	if msg == "" {
		msg = "unknown error"
	}
	if err := q.repo.MarkSyncFailed(ctx, sessionID, msg); err != nil {
		return err
	}
	logging.Warn("Queue item failed", map[string]interface{}{
		"session_id": sessionID,
		"error":      msg,
	})
	return nil
}

// RetryAll moves every failed item back to pending and returns how many were
// reset. Retry counts are kept.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	n, err := q.repo.ResetFailedSync(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info("Reset failed items for retry", map[string]interface{}{"count": n})
	}
	return n, nil
}

// GetStats counts items by status.
func (q *Queue) GetStats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	var err error
	if stats.Pending, err = q.repo.CountSyncQueue(ctx, models.SyncStatusPending); err != nil {
		return models.QueueStats{}, err
	}
	if stats.Failed, err = q.repo.CountSyncQueue(ctx, models.SyncStatusFailed); err != nil {
		return models.QueueStats{}, err
	}
	return stats, nil
}
