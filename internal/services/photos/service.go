// Package photos owns the lifecycle of captured photos: compression, local
// persistence, upload status and retention.
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/media"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
)

// DefaultCategory is used when a photo is stored without a category.
const DefaultCategory = "general"

// Options configures a Service. Zero fields take the pipeline defaults.
type Options struct {
	Compression media.Options
	Thumbnail   media.Options
	TempDir     string
	MaxAttempts int
}

// Service manages captured photos.
type Service struct {
	store  store.Store
	logger *events.Logger
	opts   Options

	now   func() time.Time
	newID func() string
}

// NewService creates a photo service over st.
func NewService(st store.Store, opts Options, logger *events.Logger) *Service {
	opts.Compression = opts.Compression.Merge(media.DefaultOptions)
	opts.Thumbnail = opts.Thumbnail.Merge(media.ThumbnailOptions)
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.DefaultMaxAttempts
	}

	return &Service{
		store:  st,
		logger: logger.WithField("service", "photos"),
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// StorePhoto compresses input, thumbnails the compressed output and stores
// the photo together with its upload task.
func (s *Service) StorePhoto(ctx context.Context, assessmentID, category string, input []byte, label string) (*models.OfflinePhoto, error) {
	if strings.TrimSpace(assessmentID) == "" {
		return nil, fmt.Errorf("store photo: assessment ID is required")
	}
	if category = strings.TrimSpace(category); category == "" {
		category = DefaultCategory
	}

	compressed, err := media.Compress(ctx, input, s.opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("compress photo: %w", err)
	}

	thumb, err := media.Compress(ctx, compressed.Data, s.opts.Thumbnail)
	if err != nil {
		return nil, fmt.Errorf("create thumbnail: %w", err)
	}

	now := s.now()
	photo := &models.OfflinePhoto{
		ID:           s.newID(),
		AssessmentID: assessmentID,
		Category:     category,
		Label:        normalizeLabel(label),
		Blob:         compressed.Data,
		Thumbnail:    thumb.Data,
		ContentType:  compressed.ContentType,
		Status:       models.PhotoPending,
		CreatedAt:    now,
		Size:         int64(len(compressed.Data)),
	}

	item, err := s.task(photo, models.ActionCreate, now)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreatePhoto(ctx, photo, item); err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"photo_id":      photo.ID,
		"assessment_id": assessmentID,
		"category":      category,
		"input_size":    len(input),
		"size":          photo.Size,
		"width":         compressed.Width,
		"height":        compressed.Height,
	}).Info("Stored photo")

	return photo, nil
}

// Photos lists the photos of an assessment in capture order, optionally
// restricted to one category.
func (s *Service) Photos(ctx context.Context, assessmentID, category string) ([]*models.OfflinePhoto, error) {
	return s.store.ListPhotos(ctx, store.PhotoFilter{AssessmentID: assessmentID, Category: category})
}

// Photo returns one photo or models.ErrNotFound.
func (s *Service) Photo(ctx context.Context, id string) (*models.OfflinePhoto, error) {
	return s.store.GetPhoto(ctx, id)
}

// Delete removes the photo and any queue items still referencing it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePhoto(ctx, id); err != nil {
		return fmt.Errorf("delete photo %s: %w", id, err)
	}
	s.logger.WithField("photo_id", id).Info("Deleted photo")
	return nil
}

// UpdateLabel stores a new label and queues the change for the backend.
// Only the label column is written, so an upload finishing meanwhile keeps
// its status.
func (s *Service) UpdateLabel(ctx context.Context, id, label string) error {
	photo, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return err
	}

	photo.Label = normalizeLabel(label)
	item, err := s.task(photo, models.ActionUpdate, s.now())
	if err != nil {
		return err
	}

	if err := s.store.UpdatePhotoLabel(ctx, id, photo.Label, item); err != nil {
		return fmt.Errorf("update label %s: %w", id, err)
	}
	return nil
}

// MarkUploading records that an upload of id has started.
func (s *Service) MarkUploading(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, store.PhotoStatusUpdate{Status: models.PhotoUploading})
}

// MarkUploaded records a successful upload.
func (s *Service) MarkUploaded(ctx context.Context, id, remotePath, remoteURL string) error {
	if remotePath == "" {
		return fmt.Errorf("mark uploaded %s: remote path is required", id)
	}
	return s.setStatus(ctx, id, store.PhotoStatusUpdate{
		Status:     models.PhotoUploaded,
		RemotePath: remotePath,
		RemoteURL:  remoteURL,
		UploadedAt: s.now(),
	})
}

// MarkFailed records a failed upload.
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, store.PhotoStatusUpdate{Status: models.PhotoFailed})
}

// Pending lists photos waiting for upload.
func (s *Service) Pending(ctx context.Context) ([]*models.OfflinePhoto, error) {
	return s.store.ListPhotos(ctx, store.PhotoFilter{Statuses: []models.PhotoStatus{models.PhotoPending}})
}

// Failed lists photos whose last upload failed.
func (s *Service) Failed(ctx context.Context) ([]*models.OfflinePhoto, error) {
	return s.store.ListPhotos(ctx, store.PhotoFilter{Statuses: []models.PhotoStatus{models.PhotoFailed}})
}

// StatusCounts counts photos by upload status.
func (s *Service) StatusCounts(ctx context.Context) (models.PhotoStatusCounts, error) {
	var counts models.PhotoStatusCounts
	targets := map[models.PhotoStatus]*int{
		models.PhotoPending:   &counts.Pending,
		models.PhotoUploading: &counts.Uploading,
		models.PhotoUploaded:  &counts.Uploaded,
		models.PhotoFailed:    &counts.Failed,
	}

	for status, target := range targets {
		n, err := s.store.CountPhotos(ctx, store.PhotoFilter{Statuses: []models.PhotoStatus{status}})
		if err != nil {
			return counts, err
		}
		*target = n
	}
	return counts, nil
}

// TotalStorageUsed reports the bytes held by photo blobs and thumbnails.
func (s *Service) TotalStorageUsed(ctx context.Context) (int64, error) {
	return s.store.PhotoStorageUsed(ctx)
}

// Cleanup deletes uploaded photos whose upload predates olderThanDays days
// ago and returns the number deleted.
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("cleanup: negative retention %d", olderThanDays)
	}

	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	n, err := s.store.DeleteUploadedPhotosBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup photos: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff,
	}).Info("Photo cleanup completed")

	return n, nil
}

func (s *Service) setStatus(ctx context.Context, id string, update store.PhotoStatusUpdate) error {
	from, err := s.store.UpdatePhotoStatus(ctx, id, update)
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("update photo %s: %w", id, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"photo_id": id,
		"from":     from,
		"to":       update.Status,
	}).Debug("Photo status changed")
	return nil
}

func (s *Service) task(photo *models.OfflinePhoto, action models.QueueAction, at time.Time) (*models.QueueItem, error) {
	payload, err := json.Marshal(models.PhotoPayload{
		AssessmentID: photo.AssessmentID,
		Category:     photo.Category,
		Label:        photo.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("encode photo payload: %w", err)
	}

	return &models.QueueItem{
		ID:            s.newID(),
		Type:          models.QueuePhoto,
		EntityID:      photo.ID,
		Action:        action,
		Discriminator: string(action),
		Payload:       payload,
		Status:        models.QueuePending,
		MaxAttempts:   s.opts.MaxAttempts,
		CreatedAt:     at,
		Priority:      models.PriorityLow,
	}, nil
}

func normalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// tempDir returns the directory display handles are written to.
func (s *Service) tempDir() string {
	if s.opts.TempDir != "" {
		return s.opts.TempDir
	}
	return os.TempDir()
}
