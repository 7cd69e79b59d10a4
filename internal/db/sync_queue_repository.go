package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
	"github.com/katlab/katcore/internal/uuid"
)

// =====================================================
// SyncQueue Operations
// =====================================================

const syncQueueColumns = `id, session_id, status, retry_count, last_error, queued_at`

func scanSyncQueueItem(row rowScanner) (*models.SyncQueueItem, error) {
	var (
		item     models.SyncQueueItem
		queuedAt int64
	)
	if err := row.Scan(&item.ID, &item.SessionID, &item.Status, &item.RetryCount, &item.LastError, &queuedAt); err != nil {
		return nil, err
	}
	item.QueuedAt = fromMillis(queuedAt)
	return &item, nil
}

func getSyncQueueItem(ctx context.Context, q querier, sessionID string) (*models.SyncQueueItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+syncQueueColumns+` FROM sync_queue WHERE session_id = ?`, sessionID)
	item, err := scanSyncQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("sync queue item", sessionID)
	}
	return item, err
}

// EnqueueSync queues a session for replication. If the session already has a
// queue item, that item is returned unchanged and created is false.
func (r *Repository) EnqueueSync(ctx context.Context, sessionID string) (item *models.SyncQueueItem, created bool, err error) {
	err = r.withTx(ctx, "enqueue sync", func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, sessionID); err != nil {
			return err
		}

		existing, err := getSyncQueueItem(ctx, tx, sessionID)
		if err == nil {
			item = existing
			return nil
		}
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		item = &models.SyncQueueItem{
			ID:        uuid.NewOrdered(),
			SessionID: sessionID,
			Status:    models.SyncStatusPending,
			QueuedAt:  r.now().UTC(),
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (`+syncQueueColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			item.ID, item.SessionID, item.Status, item.RetryCount, item.LastError, toMillis(item.QueuedAt),
		); err != nil {
			return fmt.Errorf("insert queue item: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return item, created, nil
}

// GetSyncQueueItem returns the queue item of a session, or NOT_FOUND.
func (r *Repository) GetSyncQueueItem(ctx context.Context, sessionID string) (*models.SyncQueueItem, error) {
	item, err := getSyncQueueItem(ctx, r.db, sessionID)
	if err != nil {
		return nil, storageErr("get sync queue item", err)
	}
	return item, nil
}

// ListSyncQueue returns queue items with the given status (all when empty),
// oldest first.
func (r *Repository) ListSyncQueue(ctx context.Context, status models.SyncStatus) ([]*models.SyncQueueItem, error) {
	query := `SELECT ` + syncQueueColumns + ` FROM sync_queue`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY queued_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Storage("list sync queue", err)
	}
	defer rows.Close()

	items := []*models.SyncQueueItem{}
	for rows.Next() {
		item, err := scanSyncQueueItem(rows)
		if err != nil {
			return nil, apperrors.Storage("list sync queue", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("list sync queue", err)
	}
	return items, nil
}

// CountSyncQueue counts queue items with the given status (all when empty).
func (r *Repository) CountSyncQueue(ctx context.Context, status models.SyncStatus) (int, error) {
	var n int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, status).Scan(&n)
	}
	if err != nil {
		return 0, apperrors.Storage("count sync queue", err)
	}
	return n, nil
}

// MarkSynced records a successful replication: the session's SyncedAt is set
// and its queue item removed, in one transaction.
func (r *Repository) MarkSynced(ctx context.Context, sessionID string, at time.Time) error {
	return r.withTx(ctx, "mark synced", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET synced_at = ?, updated_at = ? WHERE id = ?`,
			toMillis(at), toMillis(r.now()), sessionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("session", sessionID)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE session_id = ?`, sessionID)
		return err
	})
}

// MarkSyncFailed moves a session's queue item to failed, bumps its retry
// count and records the error. A session without a queue item is ignored.
func (r *Repository) MarkSyncFailed(ctx context.Context, sessionID, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE sync_queue SET status = ?, retry_count = retry_count + 1, last_error = ?
	WHERE session_id = ?`, models.SyncStatusFailed, lastError, sessionID)
	if err != nil {
		return apperrors.Storage("mark sync failed", err)
	}
	return nil
}

// ResetFailedSync moves every failed item back to pending, keeping retry
// counts, and returns how many were reset.
func (r *Repository) ResetFailedSync(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET status = ? WHERE status = ?`,
		models.SyncStatusPending, models.SyncStatusFailed)
	if err != nil {
		return 0, apperrors.Storage("reset failed sync", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Storage("reset failed sync", err)
	}
	return int(n), nil
}
