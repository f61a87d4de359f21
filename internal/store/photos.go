package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

const photoColumns = `id, assessment_id, category, label, blob, thumbnail, content_type, status,
    remote_path, remote_url, created_at, uploaded_at, size`

// GetPhoto loads one photo including its blobs.
func (s *SQLiteStore) GetPhoto(ctx context.Context, id string) (*models.OfflinePhoto, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = ?", id)

	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: photo %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "get photo", Key: id, Err: err}
	}
	return p, nil
}

// PutPhoto inserts or replaces a photo record.
func (s *SQLiteStore) PutPhoto(ctx context.Context, p *models.OfflinePhoto) error {
	return s.withTx(ctx, "put photo", p.ID, func(tx *sql.Tx) error {
		return upsertPhoto(ctx, tx, p)
	})
}

// CreatePhoto stores the photo and enqueues its sync task in one transaction,
// so a photo never exists without the task that uploads it.
func (s *SQLiteStore) CreatePhoto(ctx context.Context, p *models.OfflinePhoto, item *models.QueueItem) error {
	return s.withTx(ctx, "create photo", p.ID, func(tx *sql.Tx) error {
		if err := upsertPhoto(ctx, tx, p); err != nil {
			return err
		}
		_, err := enqueueTx(ctx, tx, item)
		return err
	})
}

// UpdatePhotoLabel sets the label of id and enqueues item in one
// transaction. Other columns are left untouched.
func (s *SQLiteStore) UpdatePhotoLabel(ctx context.Context, id, label string, item *models.QueueItem) error {
	return s.withTx(ctx, "update photo label", id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE photos SET label = ? WHERE id = ?", nullString(label), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: photo %s", models.ErrNotFound, id)
		}

		_, err = enqueueTx(ctx, tx, item)
		return err
	})
}

// UpdatePhotoStatus writes the upload fields of id and returns the status it
// replaced. Label, blobs and metadata are left untouched.
func (s *SQLiteStore) UpdatePhotoStatus(ctx context.Context, id string, update PhotoStatusUpdate) (models.PhotoStatus, error) {
	var from string
	err := s.withTx(ctx, "update photo status", id, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT status FROM photos WHERE id = ?", id).Scan(&from)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: photo %s", models.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE photos SET status = ?, remote_path = ?, remote_url = ?, uploaded_at = ?
            WHERE id = ?
        `, string(update.Status), nullString(update.RemotePath), nullString(update.RemoteURL),
			toNanos(update.UploadedAt), id)
		return err
	})
	return models.PhotoStatus(from), err
}

// DeletePhoto removes the photo and every queue item referencing it.
func (s *SQLiteStore) DeletePhoto(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete photo", id, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE type = ? AND entity_id = ?", string(models.QueuePhoto), id); err != nil {
			return fmt.Errorf("delete queue items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM photos WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
}

// ListPhotos returns matching photos in capture order.
func (s *SQLiteStore) ListPhotos(ctx context.Context, filter PhotoFilter) ([]*models.OfflinePhoto, error) {
	w := photoWhere(filter)

	rows, err := s.db.QueryContext(ctx, "SELECT "+photoColumns+" FROM photos"+w.String()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, &models.StorageError{Op: "list photos", Err: err}
	}
	defer rows.Close()

	var out []*models.OfflinePhoto
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, &models.StorageError{Op: "list photos", Err: err}
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list photos", Err: err}
	}
	return out, nil
}

// CountPhotos counts matching photos without loading blobs.
func (s *SQLiteStore) CountPhotos(ctx context.Context, filter PhotoFilter) (int, error) {
	w := photoWhere(filter)

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos"+w.String(), w.args...).Scan(&n); err != nil {
		return 0, &models.StorageError{Op: "count photos", Err: err}
	}
	return n, nil
}

// DeleteUploadedPhotosBefore removes uploaded photos whose upload timestamp
// predates cutoff, along with their finished queue items.
func (s *SQLiteStore) DeleteUploadedPhotosBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := s.withTx(ctx, "delete uploaded photos", "", func(tx *sql.Tx) error {
		old := `SELECT id FROM photos WHERE status = ? AND uploaded_at IS NOT NULL AND uploaded_at < ?`
		args := []interface{}{string(models.PhotoUploaded), cutoff.UnixNano()}

		if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE type = ? AND entity_id IN ("+old+")",
			append([]interface{}{string(models.QueuePhoto)}, args...)...); err != nil {
			return fmt.Errorf("delete queue items: %w", err)
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM photos WHERE id IN ("+old+")", args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = int(n)
		return err
	})
	return deleted, err
}

// PhotoStorageUsed sums the bytes held by photo blobs and thumbnails.
func (s *SQLiteStore) PhotoStorageUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(length(blob) + COALESCE(length(thumbnail), 0)), 0) FROM photos").Scan(&total)
	if err != nil {
		return 0, &models.StorageError{Op: "photo storage used", Err: err}
	}
	return total, nil
}

func photoWhere(filter PhotoFilter) where {
	var w where
	w.eq("assessment_id", filter.AssessmentID)
	w.eq("category", filter.Category)
	w.in("status", stringsOf(filter.Statuses))
	return w
}

func upsertPhoto(ctx context.Context, tx *sql.Tx, p *models.OfflinePhoto) error {
	if err := p.Validate(); err != nil {
		return err
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := tx.ExecContext(ctx, `
        INSERT INTO photos (id, assessment_id, category, label, blob, thumbnail, content_type, status,
            remote_path, remote_url, created_at, uploaded_at, size)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            assessment_id = excluded.assessment_id,
            category = excluded.category,
            label = excluded.label,
            blob = excluded.blob,
            thumbnail = excluded.thumbnail,
            content_type = excluded.content_type,
            status = excluded.status,
            remote_path = excluded.remote_path,
            remote_url = excluded.remote_url,
            created_at = excluded.created_at,
            uploaded_at = excluded.uploaded_at,
            size = excluded.size
    `, p.ID, p.AssessmentID, p.Category, nullString(p.Label), p.Blob, p.Thumbnail, contentType, string(p.Status),
		nullString(p.RemotePath), nullString(p.RemoteURL), p.CreatedAt.UnixNano(), toNanos(p.UploadedAt), p.Size)
	if err != nil {
		return fmt.Errorf("upsert photo: %w", err)
	}
	return nil
}

func scanPhoto(row scanner) (*models.OfflinePhoto, error) {
	var (
		p          models.OfflinePhoto
		label      sql.NullString
		status     string
		remotePath sql.NullString
		remoteURL  sql.NullString
		createdAt  int64
		uploadedAt sql.NullInt64
	)

	err := row.Scan(&p.ID, &p.AssessmentID, &p.Category, &label, &p.Blob, &p.Thumbnail, &p.ContentType, &status,
		&remotePath, &remoteURL, &createdAt, &uploadedAt, &p.Size)
	if err != nil {
		return nil, err
	}

	p.Label = label.String
	p.Status = models.PhotoStatus(status)
	p.RemotePath = remotePath.String
	p.RemoteURL = remoteURL.String
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UploadedAt = fromNanos(uploadedAt)
	return &p, nil
}
