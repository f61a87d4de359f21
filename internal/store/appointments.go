package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

const appointmentColumns = `id, assessment_id, request_id, scheduled_date, status, cached_at, data`

// PutAppointment replaces the cached appointment wholesale.
func (s *SQLiteStore) PutAppointment(ctx context.Context, a *models.CachedAppointment) error {
	if a.ID == "" {
		return &models.StorageError{Op: "put appointment", Err: fmt.Errorf("appointment ID is required")}
	}

	_, err := s.exec(ctx, "put appointment", `
        INSERT OR REPLACE INTO appointments (id, assessment_id, request_id, scheduled_date, status, cached_at, data)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, a.ID, nullString(a.AssessmentID), nullString(a.RequestID), toNanos(a.ScheduledDate),
		nullString(a.Status), a.CachedAt.UnixNano(), nullString(string(a.Data)))
	return err
}

// GetAppointment loads one cached appointment.
func (s *SQLiteStore) GetAppointment(ctx context.Context, id string) (*models.CachedAppointment, error) {
	a, err := scanAppointment(s.db.QueryRowContext(ctx, "SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get appointment", Key: id, Err: err}
	}
	return a, nil
}

// ListAppointments returns cached appointments by scheduled date.
func (s *SQLiteStore) ListAppointments(ctx context.Context) ([]*models.CachedAppointment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+appointmentColumns+" FROM appointments ORDER BY scheduled_date, id")
	if err != nil {
		return nil, &models.StorageError{Op: "list appointments", Err: err}
	}
	defer rows.Close()

	var out []*models.CachedAppointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list appointments", Err: err}
		}
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list appointments", Err: err}
	}
	return out, nil
}

// DeleteAppointmentsCachedBefore expires appointments cached before cutoff.
func (s *SQLiteStore) DeleteAppointmentsCachedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.exec(ctx, "delete appointments", "DELETE FROM appointments WHERE cached_at < ?", cutoff.UnixNano())
}

func scanAppointment(row scanner) (*models.CachedAppointment, error) {
	var (
		a         models.CachedAppointment
		assessID  sql.NullString
		requestID sql.NullString
		scheduled sql.NullInt64
		status    sql.NullString
		cachedAt  int64
		data      sql.NullString
	)

	if err := row.Scan(&a.ID, &assessID, &requestID, &scheduled, &status, &cachedAt, &data); err != nil {
		return nil, err
	}

	a.AssessmentID = assessID.String
	a.RequestID = requestID.String
	a.ScheduledDate = fromNanos(scheduled)
	a.Status = status.String
	a.CachedAt = time.Unix(0, cachedAt).UTC()
	if data.Valid {
		a.Data = []byte(data.String)
	}
	return &a, nil
}
