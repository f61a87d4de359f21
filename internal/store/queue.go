package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

const taskColumns = `id, type, entity_id, action, discriminator, payload, status, attempts, max_attempts,
    last_attempt, last_error, created_at, priority`

// EnqueueTask inserts a pending item unless a pending item with the same
// dedup key exists, in which case that item takes the new payload and
// timestamp.
func (s *SQLiteStore) EnqueueTask(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	var stored *models.QueueItem
	err := s.withTx(ctx, "enqueue", item.EntityID, func(tx *sql.Tx) error {
		var err error
		stored, err = enqueueTx(ctx, tx, item)
		return err
	})
	return stored, err
}

// GetTask loads one queue item.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.QueueItem, error) {
	item, err := scanTask(s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM sync_queue WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: queue item %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get task", Key: id, Err: err}
	}
	return item, nil
}

// ClaimTask moves a pending item to in_progress and returns it as stored
// after the claim. The second return is false, with a nil item, when the
// item exists but is no longer pending.
func (s *SQLiteStore) ClaimTask(ctx context.Context, id string) (*models.QueueItem, bool, error) {
	var (
		item    *models.QueueItem
		claimed bool
	)

	err := s.withTx(ctx, "claim task", id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?",
			string(models.QueueInProgress), id, string(models.QueuePending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		stored, err := scanTask(tx.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM sync_queue WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: queue item %s", models.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if n > 0 {
			item, claimed = stored, true
		}
		return nil
	})
	return item, claimed, err
}

// UpdateTask persists the mutable fields of an existing item.
func (s *SQLiteStore) UpdateTask(ctx context.Context, item *models.QueueItem) error {
	n, err := s.exec(ctx, "update task", `
        UPDATE sync_queue SET
            status = ?, attempts = ?, max_attempts = ?, last_attempt = ?, last_error = ?,
            payload = ?, priority = ?
        WHERE id = ?
    `, string(item.Status), item.Attempts, item.MaxAttempts, toNanos(item.LastAttempt), nullString(item.LastError),
		nullString(string(item.Payload)), item.Priority, item.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: queue item %s", models.ErrNotFound, item.ID)
	}
	return nil
}

// ListTasks returns matching items ordered by priority, then creation time.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.QueueItem, error) {
	w := taskWhere(filter)

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM sync_queue"+w.String()+" ORDER BY priority ASC, created_at ASC, rowid ASC", w.args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list tasks", Err: err}
	}
	defer rows.Close()

	var out []*models.QueueItem
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list tasks", Err: err}
		}
		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list tasks", Err: err}
	}
	return out, nil
}

// CountTasks counts matching items.
func (s *SQLiteStore) CountTasks(ctx context.Context, filter TaskFilter) (int, error) {
	w := taskWhere(filter)

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue"+w.String(), w.args...).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count tasks", Err: err}
	}
	return n, nil
}

// DeleteTasks removes matching items.
func (s *SQLiteStore) DeleteTasks(ctx context.Context, filter TaskFilter) (int, error) {
	w := taskWhere(filter)
	return s.exec(ctx, "delete tasks", "DELETE FROM sync_queue"+w.String(), w.args...)
}

// DeleteCompletedBefore removes completed items finished before cutoff.
func (s *SQLiteStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.exec(ctx, "delete completed tasks",
		"DELETE FROM sync_queue WHERE status = ? AND COALESCE(last_attempt, created_at) < ?",
		string(models.QueueCompleted), cutoff.UnixNano())
}

// ResetFailed returns failed items to pending with attempts cleared. A failed
// item whose dedup key already has a pending item is deleted, since the
// pending item carries newer data.
func (s *SQLiteStore) ResetFailed(ctx context.Context) (int, error) {
	var reset int
	err := s.withTx(ctx, "reset failed", "", func(tx *sql.Tx) error {
		superseded, err := tx.ExecContext(ctx, `
            DELETE FROM sync_queue
            WHERE status = ? AND EXISTS (
                SELECT 1 FROM sync_queue p
                WHERE p.status = ?
                  AND p.type = sync_queue.type
                  AND p.entity_id = sync_queue.entity_id
                  AND p.discriminator = sync_queue.discriminator
            )
        `, string(models.QueueFailed), string(models.QueuePending))
		if err != nil {
			return fmt.Errorf("drop superseded: %w", err)
		}
		if n, _ := superseded.RowsAffected(); n > 0 {
			s.logger.WithField("count", n).Debug("Dropped failed items superseded by pending edits")
		}

		// Of several failed items sharing a key only the newest survives.
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM sync_queue
            WHERE status = ? AND EXISTS (
                SELECT 1 FROM sync_queue f
                WHERE f.status = sync_queue.status
                  AND f.type = sync_queue.type
                  AND f.entity_id = sync_queue.entity_id
                  AND f.discriminator = sync_queue.discriminator
                  AND (f.created_at > sync_queue.created_at
                       OR (f.created_at = sync_queue.created_at AND f.rowid > sync_queue.rowid))
            )
        `, string(models.QueueFailed)); err != nil {
			return fmt.Errorf("drop older failures: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
            UPDATE sync_queue
            SET status = ?, attempts = 0, last_attempt = NULL, last_error = NULL
            WHERE status = ?
        `, string(models.QueuePending), string(models.QueueFailed))
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		n, err := res.RowsAffected()
		reset = int(n)
		return err
	})
	return reset, err
}

// ResetInProgress returns items left in progress by an interrupted drain to
// pending. Their attempt counts are kept.
func (s *SQLiteStore) ResetInProgress(ctx context.Context) (int, error) {
	return s.exec(ctx, "reset in progress", "UPDATE sync_queue SET status = ? WHERE status = ?",
		string(models.QueuePending), string(models.QueueInProgress))
}

func enqueueTx(ctx context.Context, tx *sql.Tx, item *models.QueueItem) (*models.QueueItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	existing, err := scanTask(tx.QueryRowContext(ctx, `
        SELECT `+taskColumns+` FROM sync_queue
        WHERE type = ? AND entity_id = ? AND discriminator = ? AND status = ?
        ORDER BY created_at LIMIT 1
    `, string(item.Type), item.EntityID, item.Discriminator, string(models.QueuePending)))

	switch {
	case err == nil:
		existing.Payload = item.Payload
		existing.CreatedAt = item.CreatedAt
		_, err = tx.ExecContext(ctx, "UPDATE sync_queue SET payload = ?, created_at = ? WHERE id = ?",
			nullString(string(existing.Payload)), existing.CreatedAt.UnixNano(), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("fold into pending item: %w", err)
		}
		return existing, nil

	case errors.Is(err, sql.ErrNoRows):
		stored := *item
		stored.Status = models.QueuePending
		_, err = tx.ExecContext(ctx, `
            INSERT INTO sync_queue (id, type, entity_id, action, discriminator, payload, status, attempts,
                max_attempts, last_attempt, last_error, created_at, priority)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, stored.ID, string(stored.Type), stored.EntityID, string(stored.Action), stored.Discriminator,
			nullString(string(stored.Payload)), string(stored.Status), stored.Attempts, stored.MaxAttempts,
			toNanos(stored.LastAttempt), nullString(stored.LastError), stored.CreatedAt.UnixNano(), stored.Priority)
		if err != nil {
			return nil, fmt.Errorf("insert queue item: %w", err)
		}
		return &stored, nil

	default:
		return nil, fmt.Errorf("find pending item: %w", err)
	}
}

func taskWhere(filter TaskFilter) where {
	var w where
	w.in("status", stringsOf(filter.Statuses))
	w.eq("type", string(filter.Type))
	w.eq("entity_id", filter.EntityID)
	return w
}

func scanTask(row scanner) (*models.QueueItem, error) {
	var (
		item        models.QueueItem
		typ         string
		action      string
		payload     sql.NullString
		status      string
		lastAttempt sql.NullInt64
		lastError   sql.NullString
		createdAt   int64
	)

	err := row.Scan(&item.ID, &typ, &item.EntityID, &action, &item.Discriminator, &payload, &status,
		&item.Attempts, &item.MaxAttempts, &lastAttempt, &lastError, &createdAt, &item.Priority)
	if err != nil {
		return nil, err
	}

	item.Type = models.QueueItemType(typ)
	item.Action = models.QueueAction(action)
	item.Status = models.QueueStatus(status)
	if payload.Valid {
		item.Payload = []byte(payload.String)
	}
	item.LastAttempt = fromNanos(lastAttempt)
	item.LastError = lastError.String
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	return &item, nil
}
