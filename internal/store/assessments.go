package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

const assessmentColumns = `id, appointment_id, request_id, status, last_modified, last_synced, data`

// GetAssessment loads one cached assessment.
func (s *SQLiteStore) GetAssessment(ctx context.Context, id string) (*models.CachedAssessment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+assessmentColumns+" FROM assessments WHERE id = ?", id)

	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: assessment %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get assessment", Key: id, Err: err}
	}
	return a, nil
}

// PutAssessment inserts or replaces a cached assessment.
func (s *SQLiteStore) PutAssessment(ctx context.Context, a *models.CachedAssessment) error {
	return s.withTx(ctx, "put assessment", a.ID, func(tx *sql.Tx) error {
		return upsertAssessment(ctx, tx, a, "")
	})
}

// PreloadAssessment stores a remote snapshot unless the stored record holds
// local changes. The check and the write are one statement.
func (s *SQLiteStore) PreloadAssessment(ctx context.Context, a *models.CachedAssessment) (bool, error) {
	var applied bool
	err := s.withTx(ctx, "preload assessment", a.ID, func(tx *sql.Tx) error {
		guard := fmt.Sprintf("WHERE assessments.status NOT IN ('%s', '%s')",
			models.AssessmentModified, models.AssessmentPendingSync)
		res, err := execAssessmentUpsert(ctx, tx, a, guard)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		applied = n > 0
		return err
	})
	return applied, err
}

// SaveAssessmentTab writes one tab into the stored record (creating it if
// needed), marks it modified at at, and enqueues item, all in one
// transaction. It returns the stored record and queue item.
func (s *SQLiteStore) SaveAssessmentTab(ctx context.Context, id string, tab models.Tab, data json.RawMessage, at time.Time, item *models.QueueItem) (*models.CachedAssessment, *models.QueueItem, error) {
	var (
		record *models.CachedAssessment
		queued *models.QueueItem
	)

	err := s.withTx(ctx, "save assessment tab", id, func(tx *sql.Tx) error {
		var err error
		record, err = scanAssessment(tx.QueryRowContext(ctx, "SELECT "+assessmentColumns+" FROM assessments WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			record = models.NewCachedAssessment(id, models.AssessmentModified)
		} else if err != nil {
			return fmt.Errorf("load record: %w", err)
		}

		record.SetTab(tab, data)
		record.Status = models.AssessmentModified
		record.LastModified = at

		if err := upsertAssessment(ctx, tx, record, ""); err != nil {
			return err
		}

		queued, err = enqueueTx(ctx, tx, item)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return record, queued, nil
}

// MarkAssessmentSynced moves id to synced unless an assessment queue item
// for it is still pending, in progress or failed. It reports whether the
// record changed.
func (s *SQLiteStore) MarkAssessmentSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transitionAssessment(ctx, "mark assessment synced", id, `
        UPDATE assessments SET status = ?, last_synced = ?
        WHERE id = ? AND NOT EXISTS (
            SELECT 1 FROM sync_queue q
            WHERE q.type = ? AND q.entity_id = assessments.id AND q.status IN (?, ?, ?)
        )
    `, string(models.AssessmentSynced), at.UnixNano(), id, string(models.QueueAssessment),
		string(models.QueuePending), string(models.QueueInProgress), string(models.QueueFailed))
}

// MarkAssessmentPendingSync moves id from modified to pending_sync. It
// reports whether the record changed.
func (s *SQLiteStore) MarkAssessmentPendingSync(ctx context.Context, id string) (bool, error) {
	return s.transitionAssessment(ctx, "mark assessment pending sync", id,
		"UPDATE assessments SET status = ? WHERE id = ? AND status = ?",
		string(models.AssessmentPendingSync), id, string(models.AssessmentModified))
}

// transitionAssessment runs a conditional status update. A missing record is
// models.ErrNotFound; a record the condition excludes is left as is.
func (s *SQLiteStore) transitionAssessment(ctx context.Context, op, id, query string, args ...interface{}) (bool, error) {
	var changed bool
	err := s.withTx(ctx, op, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			changed = true
			return nil
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM assessments WHERE id = ?)", id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: assessment %s", models.ErrNotFound, id)
		}
		return nil
	})
	return changed, err
}

func upsertAssessment(ctx context.Context, tx *sql.Tx, a *models.CachedAssessment, guard string) error {
	_, err := execAssessmentUpsert(ctx, tx, a, guard)
	return err
}

// execAssessmentUpsert inserts a, or overwrites the stored record when guard
// (a WHERE clause on the existing row, or empty) allows it.
func execAssessmentUpsert(ctx context.Context, tx *sql.Tx, a *models.CachedAssessment, guard string) (sql.Result, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(a.Data)
	if err != nil {
		return nil, fmt.Errorf("encode tabs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO assessments (id, appointment_id, request_id, status, last_modified, last_synced, data)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            appointment_id = excluded.appointment_id,
            request_id = excluded.request_id,
            status = excluded.status,
            last_modified = excluded.last_modified,
            last_synced = excluded.last_synced,
            data = excluded.data
        `+guard, a.ID, nullString(a.AppointmentID), nullString(a.RequestID), string(a.Status),
		a.LastModified.UnixNano(), toNanos(a.LastSynced), string(data))
	if err != nil {
		return nil, fmt.Errorf("upsert assessment: %w", err)
	}
	return res, nil
}

// DeleteAssessment removes the record and any queue items targeting it.
func (s *SQLiteStore) DeleteAssessment(ctx context.Context, id string) error {
	s.logger.WithField("assessment_id", id).Debug("Deleting cached assessment")

	return s.withTx(ctx, "delete assessment", id, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE type = ? AND entity_id = ?", string(models.QueueAssessment), id); err != nil {
			return fmt.Errorf("delete queue items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM assessments WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
}

// ListAssessments returns matching records, most recently modified first.
func (s *SQLiteStore) ListAssessments(ctx context.Context, filter AssessmentFilter) ([]*models.CachedAssessment, error) {
	var w where
	w.in("status", stringsOf(filter.Statuses))
	w.eq("appointment_id", filter.AppointmentID)
	w.eq("request_id", filter.RequestID)

	rows, err := s.db.QueryContext(ctx, "SELECT "+assessmentColumns+" FROM assessments"+w.String()+" ORDER BY last_modified DESC, id", w.args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list assessments", Err: err}
	}
	defer rows.Close()

	var out []*models.CachedAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list assessments", Err: err}
		}
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list assessments", Err: err}
	}
	return out, nil
}

// DeleteStaleAssessments removes cached or synced records last modified
// before cutoff. Records holding local changes are never touched.
func (s *SQLiteStore) DeleteStaleAssessments(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := s.withTx(ctx, "delete stale assessments", "", func(tx *sql.Tx) error {
		stale := `SELECT id FROM assessments WHERE status IN (?, ?) AND last_modified < ?`
		args := []interface{}{string(models.AssessmentCached), string(models.AssessmentSynced), cutoff.UnixNano()}

		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE type = ? AND entity_id IN ("+stale+")",
			append([]interface{}{string(models.QueueAssessment)}, args...)...); err != nil {
			return fmt.Errorf("delete queue items: %w", err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM assessments WHERE id IN ("+stale+")", args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = int(n)
		return err
	})
	return deleted, err
}

func scanAssessment(row scanner) (*models.CachedAssessment, error) {
	var (
		a            models.CachedAssessment
		appointment  sql.NullString
		request      sql.NullString
		status       string
		lastModified int64
		lastSynced   sql.NullInt64
		data         string
	)

	if err := row.Scan(&a.ID, &appointment, &request, &status, &lastModified, &lastSynced, &data); err != nil {
		return nil, err
	}

	a.AppointmentID = appointment.String
	a.RequestID = request.String
	a.Status = models.AssessmentStatus(status)
	a.LastModified = time.Unix(0, lastModified).UTC()
	a.LastSynced = fromNanos(lastSynced)
	a.Data = make(map[models.Tab]json.RawMessage)

	if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
		return nil, fmt.Errorf("decode tabs of %s: %w", a.ID, err)
	}
	return &a, nil
}
