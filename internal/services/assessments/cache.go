// Package assessments caches assessment snapshots on the device and records
// local edits for later sync.
package assessments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
)

// Cache is the assessment cache. It is an acceleration layer, not the system
// of record: every store failure is returned to the caller.
type Cache struct {
	store       store.Store
	logger      *events.Logger
	maxAttempts int

	now   func() time.Time
	newID func() string
}

// NewCache creates a cache over st. Queue items it creates allow maxAttempts
// automatic attempts.
func NewCache(st store.Store, maxAttempts int, logger *events.Logger) *Cache {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}

	return &Cache{
		store:       st,
		logger:      logger.WithField("service", "assessments"),
		maxAttempts: maxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Preload stores a snapshot fetched from the backend. A record holding
// unsynced local edits is left untouched; the return value reports whether
// the snapshot was applied.
func (c *Cache) Preload(ctx context.Context, id string, data map[models.Tab]json.RawMessage, parents models.ParentIDs) (bool, error) {
	now := c.now()
	record := models.NewCachedAssessment(id, models.AssessmentCached)
	record.AppointmentID = parents.AppointmentID
	record.RequestID = parents.RequestID
	record.LastModified = now
	record.LastSynced = now
	for tab, raw := range data {
		record.SetTab(tab, append(json.RawMessage(nil), raw...))
	}

	applied, err := c.store.PreloadAssessment(ctx, record)
	if err != nil {
		return false, fmt.Errorf("preload %s: %w", id, err)
	}

	logger := c.logger.WithField("assessment_id", id)
	if !applied {
		logger.Debug("Keeping local edits over remote snapshot")
		return false, nil
	}
	logger.WithField("tabs", len(data)).Debug("Preloaded assessment")
	return true, nil
}

// SaveLocal writes one tab locally, marks the record modified and queues the
// edit. A pending edit to the same tab is replaced rather than duplicated.
func (c *Cache) SaveLocal(ctx context.Context, id string, tab models.Tab, tabData interface{}) (*models.CachedAssessment, error) {
	tab, err := models.ParseTab(string(tab))
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(tabData)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", tab, err)
	}

	now := c.now()
	task, err := c.task(id, tab, raw, now)
	if err != nil {
		return nil, err
	}

	record, item, err := c.store.SaveAssessmentTab(ctx, id, tab, raw, now, task)
	if err != nil {
		return nil, fmt.Errorf("save %s/%s: %w", id, tab, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"assessment_id": id,
		"tab":           tab,
		"queue_item":    item.ID,
	}).Debug("Saved tab locally")

	return record, nil
}

// GetTabData decodes one tab of a cached assessment. It returns nil when the
// assessment or the tab is not cached.
func GetTabData[T any](ctx context.Context, c *Cache, id string, tab models.Tab) (*T, error) {
	record, err := c.store.GetAssessment(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw := record.Tab(tab)
	if len(raw) == 0 {
		return nil, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", id, tab, err)
	}
	return &out, nil
}

// GetAssessment returns the cached record or models.ErrNotFound.
func (c *Cache) GetAssessment(ctx context.Context, id string) (*models.CachedAssessment, error) {
	return c.store.GetAssessment(ctx, id)
}

// HasLocalChanges reports whether id holds unsynced edits.
func (c *Cache) HasLocalChanges(ctx context.Context, id string) (bool, error) {
	record, err := c.store.GetAssessment(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.HasLocalChanges(), nil
}

// IsCached reports whether any record exists for id.
func (c *Cache) IsCached(ctx context.Context, id string) (bool, error) {
	_, err := c.store.GetAssessment(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ModifiedAssessments lists records holding unsynced edits.
func (c *Cache) ModifiedAssessments(ctx context.Context) ([]*models.CachedAssessment, error) {
	return c.store.ListAssessments(ctx, store.AssessmentFilter{
		Statuses: []models.AssessmentStatus{models.AssessmentModified, models.AssessmentPendingSync},
	})
}

// SyncStatus counts outstanding and failed queue items for id. Items in
// flight count as pending.
func (c *Cache) SyncStatus(ctx context.Context, id string) (models.QueueCounts, error) {
	var counts models.QueueCounts

	pending, err := c.store.CountTasks(ctx, store.TaskFilter{
		Type:     models.QueueAssessment,
		EntityID: id,
		Statuses: []models.QueueStatus{models.QueuePending, models.QueueInProgress},
	})
	if err != nil {
		return counts, err
	}

	failed, err := c.store.CountTasks(ctx, store.TaskFilter{
		Type:     models.QueueAssessment,
		EntityID: id,
		Statuses: []models.QueueStatus{models.QueueFailed},
	})
	if err != nil {
		return counts, err
	}

	counts.Pending = pending
	counts.Failed = failed
	return counts, nil
}

// MarkSynced records that the backend acknowledged every edit of id. A
// record with edits still queued keeps its status; the return value reports
// whether it was marked.
func (c *Cache) MarkSynced(ctx context.Context, id string) (bool, error) {
	return c.store.MarkAssessmentSynced(ctx, id, c.now())
}

// MarkPendingSync records that an edit of id is in flight. Records without
// local changes are left alone.
func (c *Cache) MarkPendingSync(ctx context.Context, id string) error {
	_, err := c.store.MarkAssessmentPendingSync(ctx, id)
	return err
}

// Delete removes the record and its queued edits.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteAssessment(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	c.logger.WithField("assessment_id", id).Info("Deleted cached assessment")
	return nil
}

// RequeueModified queues every tab of records that hold local changes but
// have no outstanding queue item, for instance after a save whose enqueue
// failed. It returns the number of items queued.
func (c *Cache) RequeueModified(ctx context.Context) (int, error) {
	records, err := c.ModifiedAssessments(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, record := range records {
		outstanding, err := c.store.CountTasks(ctx, store.TaskFilter{
			Type:     models.QueueAssessment,
			EntityID: record.ID,
			Statuses: []models.QueueStatus{models.QueuePending, models.QueueInProgress, models.QueueFailed},
		})
		if err != nil {
			return queued, err
		}
		if outstanding > 0 {
			continue
		}

		for _, tab := range models.Tabs {
			raw := record.Tab(tab)
			if len(raw) == 0 {
				continue
			}
			if _, err := c.enqueue(ctx, record.ID, tab, raw, c.now()); err != nil {
				return queued, fmt.Errorf("requeue %s/%s: %w", record.ID, tab, err)
			}
			queued++
		}
	}

	if queued > 0 {
		c.logger.WithField("count", queued).Info("Requeued local edits")
	}
	return queued, nil
}

func (c *Cache) enqueue(ctx context.Context, id string, tab models.Tab, raw json.RawMessage, at time.Time) (*models.QueueItem, error) {
	item, err := c.task(id, tab, raw, at)
	if err != nil {
		return nil, err
	}
	return c.store.EnqueueTask(ctx, item)
}

func (c *Cache) task(id string, tab models.Tab, raw json.RawMessage, at time.Time) (*models.QueueItem, error) {
	payload, err := json.Marshal(models.AssessmentPayload{Tab: tab, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tab, err)
	}

	return &models.QueueItem{
		ID:            c.newID(),
		Type:          models.QueueAssessment,
		EntityID:      id,
		Action:        models.ActionUpdate,
		Discriminator: string(tab),
		Payload:       payload,
		Status:        models.QueuePending,
		MaxAttempts:   c.maxAttempts,
		CreatedAt:     at,
		Priority:      models.PriorityHigh,
	}, nil
}
