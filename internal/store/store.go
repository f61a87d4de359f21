// Package store is the on-device persistence layer. It holds cached
// assessments, pending photo blobs, the sync queue and cached appointments,
// and knows nothing about the network.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

// Store manages the four local collections.
type Store interface {
	AssessmentStore
	PhotoStore
	QueueStore
	AppointmentStore

	// ClearAll empties every collection in one transaction. Readers observe
	// either the full data set or an empty store.
	ClearAll(ctx context.Context) error

	// SchemaVersion reports the applied schema version.
	SchemaVersion(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// AssessmentStore persists cached assessment snapshots.
type AssessmentStore interface {
	// GetAssessment returns models.ErrNotFound when the id is not cached.
	GetAssessment(ctx context.Context, id string) (*models.CachedAssessment, error)
	PutAssessment(ctx context.Context, a *models.CachedAssessment) error
	// PreloadAssessment stores a remote snapshot unless the stored record
	// holds local changes, and reports whether it was applied.
	PreloadAssessment(ctx context.Context, a *models.CachedAssessment) (bool, error)
	// SaveAssessmentTab writes one tab, marks the record modified and
	// enqueues item atomically.
	SaveAssessmentTab(ctx context.Context, id string, tab models.Tab, data json.RawMessage, at time.Time, item *models.QueueItem) (*models.CachedAssessment, *models.QueueItem, error)
	// MarkAssessmentSynced marks id synced unless edits of it are still
	// queued. It reports whether the record changed.
	MarkAssessmentSynced(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkAssessmentPendingSync moves a modified record to pending_sync.
	MarkAssessmentPendingSync(ctx context.Context, id string) (bool, error)
	// DeleteAssessment removes the record and its assessment queue items.
	DeleteAssessment(ctx context.Context, id string) error
	ListAssessments(ctx context.Context, filter AssessmentFilter) ([]*models.CachedAssessment, error)
	// DeleteStaleAssessments removes records without local changes last
	// modified before cutoff.
	DeleteStaleAssessments(ctx context.Context, cutoff time.Time) (int, error)
}

// PhotoStore persists captured photos.
type PhotoStore interface {
	GetPhoto(ctx context.Context, id string) (*models.OfflinePhoto, error)
	PutPhoto(ctx context.Context, p *models.OfflinePhoto) error
	// UpdatePhotoLabel changes only the label and enqueues item atomically.
	UpdatePhotoLabel(ctx context.Context, id, label string, item *models.QueueItem) error
	// UpdatePhotoStatus changes only the upload fields of id and returns the
	// previous status.
	UpdatePhotoStatus(ctx context.Context, id string, update PhotoStatusUpdate) (models.PhotoStatus, error)
	// CreatePhoto stores a new photo and its sync task atomically.
	CreatePhoto(ctx context.Context, p *models.OfflinePhoto, item *models.QueueItem) error
	// DeletePhoto removes the photo and every queue item referencing it.
	DeletePhoto(ctx context.Context, id string) error
	ListPhotos(ctx context.Context, filter PhotoFilter) ([]*models.OfflinePhoto, error)
	CountPhotos(ctx context.Context, filter PhotoFilter) (int, error)
	// DeleteUploadedPhotosBefore removes uploaded photos whose upload
	// timestamp predates cutoff.
	DeleteUploadedPhotosBefore(ctx context.Context, cutoff time.Time) (int, error)
	PhotoStorageUsed(ctx context.Context) (int64, error)
}

// QueueStore persists the sync task queue.
type QueueStore interface {
	// EnqueueTask inserts item, or folds it into the pending item with the
	// same dedup key by replacing that item's payload and timestamp. It
	// returns the stored item.
	EnqueueTask(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error)
	GetTask(ctx context.Context, id string) (*models.QueueItem, error)
	// ClaimTask atomically moves a pending item to in_progress and returns
	// it. It reports false when the item is no longer pending.
	ClaimTask(ctx context.Context, id string) (*models.QueueItem, bool, error)
	UpdateTask(ctx context.Context, item *models.QueueItem) error
	// ListTasks returns matching items by priority, then age.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.QueueItem, error)
	CountTasks(ctx context.Context, filter TaskFilter) (int, error)
	DeleteTasks(ctx context.Context, filter TaskFilter) (int, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// ResetFailed moves failed items back to pending with attempts cleared.
	// A failed item superseded by a newer pending item is deleted instead.
	ResetFailed(ctx context.Context) (int, error)
	// ResetInProgress returns items stranded in progress by a crash to pending.
	ResetInProgress(ctx context.Context) (int, error)
}

// AppointmentStore persists read-only appointment reference data.
type AppointmentStore interface {
	// PutAppointment overwrites the record wholesale.
	PutAppointment(ctx context.Context, a *models.CachedAppointment) error
	GetAppointment(ctx context.Context, id string) (*models.CachedAppointment, error)
	ListAppointments(ctx context.Context) ([]*models.CachedAppointment, error)
	DeleteAppointmentsCachedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AssessmentFilter narrows ListAssessments. Zero fields match everything.
type AssessmentFilter struct {
	Statuses      []models.AssessmentStatus
	AppointmentID string
	RequestID     string
}

// PhotoFilter narrows photo queries. Zero fields match everything.
type PhotoFilter struct {
	AssessmentID string
	Category     string
	Statuses     []models.PhotoStatus
}

// PhotoStatusUpdate is the upload state written by UpdatePhotoStatus. Empty
// remote fields and a zero UploadedAt are stored as NULL.
type PhotoStatusUpdate struct {
	Status     models.PhotoStatus
	RemotePath string
	RemoteURL  string
	UploadedAt time.Time
}

// TaskFilter narrows queue queries. Zero fields match everything.
type TaskFilter struct {
	Statuses []models.QueueStatus
	Type     models.QueueItemType
	EntityID string
}
