package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/internal/transport"
)

// PhotoTable receives one metadata row per uploaded photo, keyed by "id".
const PhotoTable = "assessment_photos"

// AssessmentKey is the key field of every tab table.
const AssessmentKey = "assessment_id"

// TabTables maps each assessment tab to its remote table.
var TabTables = map[models.Tab]string{
	models.TabIdentification: "vehicle_identification",
	models.TabExterior:       "exterior_360",
	models.TabDamage:         "damage_records",
	models.TabTyres:          "tyres",
	models.TabMileage:        "mileage",
	models.TabNotes:          "assessment_notes",
	models.TabEstimate:       "estimates",
	models.TabInterior:       "interior_mechanical",
	models.TabWindows:        "windows",
	models.TabAccessories:    "accessories",
}

// maxBackoffShift caps the exponent so the delay cannot overflow.
const maxBackoffShift = 16

func (m *Manager) drain(ctx context.Context, remote transport.Remote) (*Result, error) {
	result := &Result{}
	start := m.now()

	m.updateState(func(s *State) {
		s.IsSyncing = true
		s.LastError = ""
		s.Progress = 0
		s.CurrentItem = nil
	})

	if n, err := m.store.ResetInProgress(ctx); err != nil {
		m.finish(ctx, result, false)
		return nil, fmt.Errorf("recover in-progress items: %w", err)
	} else if n > 0 {
		m.logger.WithField("count", n).Warn("Recovered items left in progress")
	}

	pending, err := m.store.ListTasks(ctx, store.TaskFilter{Statuses: []models.QueueStatus{models.QueuePending}})
	if err != nil {
		m.finish(ctx, result, false)
		return nil, fmt.Errorf("list pending items: %w", err)
	}

	items := pending[:0]
	for _, item := range pending {
		if m.ready(item, start) {
			items = append(items, item)
		} else {
			result.Deferred++
		}
	}

	if len(items) == 0 {
		m.finish(ctx, result, false)
		return result, nil
	}

	m.logger.WithFields(map[string]interface{}{
		"items":    len(items),
		"deferred": result.Deferred,
	}).Info("Starting sync")
	m.emitEvent(Event{Type: EventStarted, Timestamp: start})

	for i, queued := range items {
		if ctx.Err() != nil || !m.conn.IsOnline() {
			result.Stopped = true
			m.logger.WithFields(map[string]interface{}{
				"remaining": len(items) - i,
				"cancelled": ctx.Err() != nil,
			}).Info("Sync stopped before queue was drained")
			m.emitEvent(Event{Type: EventStopped, Timestamp: m.now()})
			break
		}

		// The queued copy may be stale: a later edit can fold a new payload
		// into it, and a delete can remove it. Claiming returns the item as
		// stored at the moment it left pending.
		item, claimed, err := m.store.ClaimTask(ctx, queued.ID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			m.finish(ctx, result, true)
			return result, fmt.Errorf("claim item %s: %w", queued.ID, err)
		}
		if !claimed {
			continue
		}

		m.updateState(func(s *State) {
			s.CurrentItem = item
			s.Progress = i * 100 / len(items)
		})

		if err := m.process(ctx, remote, item, result); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				m.logger.WithField("item_id", item.ID).Debug("Item removed during sync")
				continue
			}
			m.finish(ctx, result, true)
			return result, err
		}
	}

	m.finish(ctx, result, true)

	m.logger.WithFields(map[string]interface{}{
		"duration":  m.now().Sub(start),
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"stopped":   result.Stopped,
	}).Info("Sync completed")

	return result, nil
}

// process dispatches one claimed item and records the outcome. Only local store
// failures are returned; remote failures are recorded on the item.
func (m *Manager) process(ctx context.Context, remote transport.Remote, item *models.QueueItem, result *Result) error {
	logger := m.logger.WithFields(map[string]interface{}{
		"item_id":   item.ID,
		"type":      item.Type,
		"entity_id": item.EntityID,
		"action":    item.Action,
		"attempt":   item.Attempts + 1,
	})

	// Local bookkeeping outlives cancellation so the item is never left
	// half-recorded.
	storeCtx := context.WithoutCancel(ctx)

	if item.Type == models.QueueAssessment {
		if err := m.assessments.MarkPendingSync(storeCtx, item.EntityID); err != nil && !errors.Is(err, models.ErrNotFound) {
			logger.WithError(err).Warn("Failed to mark assessment pending sync")
		}
	}

	m.emitEvent(Event{Type: EventItemStarted, Timestamp: m.now(), Item: item})
	logger.Debug("Processing item")

	result.Processed++
	dispatchErr := m.dispatch(ctx, remote, item)
	now := m.now()

	if dispatchErr != nil && ctx.Err() != nil {
		// Cancelled mid-call: the attempt does not count.
		item.Status = models.QueuePending
		if err := m.store.UpdateTask(storeCtx, item); err != nil {
			return fmt.Errorf("requeue item %s: %w", item.ID, err)
		}
		result.Processed--
		result.Stopped = true
		logger.Info("Item interrupted by cancellation")
		return nil
	}

	if dispatchErr == nil {
		item.Status = models.QueueCompleted
		item.LastAttempt = now
		item.LastError = ""
		if err := m.store.UpdateTask(storeCtx, item); err != nil {
			return fmt.Errorf("complete item %s: %w", item.ID, err)
		}
		result.Succeeded++

		if item.Type == models.QueueAssessment {
			if err := m.settleAssessment(storeCtx, item.EntityID); err != nil {
				logger.WithError(err).Warn("Failed to mark assessment synced")
			}
		}

		logger.Debug("Item synced")
		m.emitEvent(Event{Type: EventItemCompleted, Timestamp: now, Item: item})
		return nil
	}

	syncErr := &models.SyncError{
		Code:     errorCode(dispatchErr),
		Phase:    string(item.Type),
		ItemID:   item.ID,
		EntityID: item.EntityID,
		Err:      dispatchErr,
	}

	exhausted := item.RecordFailure(dispatchErr, now)
	if err := m.store.UpdateTask(storeCtx, item); err != nil {
		return fmt.Errorf("record failure of item %s: %w", item.ID, err)
	}
	result.Failed++

	if item.Type == models.QueuePhoto && item.Action == models.ActionCreate {
		if err := m.photos.MarkFailed(storeCtx, item.EntityID); err != nil && !errors.Is(err, models.ErrNotFound) {
			logger.WithError(err).Warn("Failed to mark photo failed")
		}
	}

	m.updateState(func(s *State) { s.LastError = syncErr.Error() })

	entry := logger.WithError(dispatchErr).WithField("exhausted", exhausted)
	if exhausted {
		entry.Error("Item failed permanently")
	} else {
		entry.Warn("Item failed, will retry")
	}

	m.emitEvent(Event{Type: EventItemFailed, Timestamp: now, Item: item, Error: syncErr})
	return nil
}

func (m *Manager) dispatch(ctx context.Context, remote transport.Remote, item *models.QueueItem) error {
	switch item.Type {
	case models.QueueAssessment:
		return m.syncAssessment(ctx, remote, item)
	case models.QueuePhoto:
		switch item.Action {
		case models.ActionCreate:
			return m.uploadPhoto(ctx, remote, item.EntityID)
		case models.ActionUpdate:
			return m.updatePhoto(ctx, remote, item.EntityID)
		}
	}
	return fmt.Errorf("unsupported %s action %q", item.Type, item.Action)
}

func (m *Manager) syncAssessment(ctx context.Context, remote transport.Remote, item *models.QueueItem) error {
	var payload models.AssessmentPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	table, ok := TabTables[payload.Tab]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownTab, payload.Tab)
	}

	row := map[string]interface{}{}
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &row); err != nil {
			// Tab data that is not an object is sent whole.
			row = map[string]interface{}{"data": payload.Data}
		}
	}
	row[AssessmentKey] = item.EntityID

	return remote.UpsertRecord(ctx, table, AssessmentKey, row)
}

// settleAssessment marks id synced once no edit of it is outstanding. The
// store checks the queue in the same statement, so an edit saved meanwhile
// keeps the record modified.
func (m *Manager) settleAssessment(ctx context.Context, id string) error {
	marked, err := m.assessments.MarkSynced(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !marked {
		m.logger.WithField("assessment_id", id).Debug("Assessment still has queued edits")
	}
	return nil
}

func (m *Manager) uploadPhoto(ctx context.Context, remote transport.Remote, id string) error {
	photo, err := m.photos.Photo(ctx, id)
	if err != nil {
		return fmt.Errorf("load photo: %w", err)
	}

	if err := m.photos.MarkUploading(ctx, id); err != nil {
		return fmt.Errorf("mark uploading: %w", err)
	}

	stored, err := remote.UploadBinary(ctx, photo.RemoteObjectPath(), photo.Blob, photo.ContentType)
	if err != nil {
		return err
	}

	url, err := remote.PublicURL(stored)
	if err != nil {
		return fmt.Errorf("resolve public url: %w", err)
	}

	photo.RemotePath = stored
	photo.RemoteURL = url
	if err := remote.UpsertRecord(ctx, PhotoTable, "id", photoRow(photo)); err != nil {
		return err
	}

	return m.photos.MarkUploaded(ctx, id, stored, url)
}

// updatePhoto pushes a label change. Photos not yet uploaded carry their
// current label in the upload itself, so there is nothing to send.
func (m *Manager) updatePhoto(ctx context.Context, remote transport.Remote, id string) error {
	photo, err := m.photos.Photo(ctx, id)
	if err != nil {
		return fmt.Errorf("load photo: %w", err)
	}
	if photo.Status != models.PhotoUploaded {
		return nil
	}
	return remote.UpsertRecord(ctx, PhotoTable, "id", photoRow(photo))
}

func photoRow(p *models.OfflinePhoto) map[string]interface{} {
	return map[string]interface{}{
		"id":            p.ID,
		"assessment_id": p.AssessmentID,
		"category":      p.Category,
		"label":         p.Label,
		"storage_path":  p.RemotePath,
		"url":           p.RemoteURL,
		"content_type":  p.ContentType,
		"size":          p.Size,
		"created_at":    p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ready reports whether item is past its retry backoff.
func (m *Manager) ready(item *models.QueueItem, now time.Time) bool {
	if m.opts.RetryDelay <= 0 || item.Attempts == 0 || item.LastAttempt.IsZero() {
		return true
	}

	shift := item.Attempts - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return !now.Before(item.LastAttempt.Add(m.opts.RetryDelay << shift))
}

func (m *Manager) finish(ctx context.Context, result *Result, ran bool) {
	now := m.now()
	m.updateState(func(s *State) {
		s.IsSyncing = false
		s.CurrentItem = nil
		if ran {
			s.Progress = 100
			s.LastSyncTime = now
		}
	})

	if !ran {
		return
	}

	// Bookkeeping below uses a fresh context so a cancelled drain still
	// leaves accurate counts behind.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := m.RefreshCounts(cleanupCtx); err != nil {
		m.logger.WithError(err).Warn("Failed to refresh queue counts")
	}

	reaped, err := m.store.DeleteCompletedBefore(cleanupCtx, now.Add(-m.opts.CompletedRetention))
	if err != nil {
		m.logger.WithError(err).Warn("Failed to reap completed items")
	} else if reaped > 0 {
		m.logger.WithField("count", reaped).Debug("Reaped completed items")
	}

	m.emitEvent(Event{Type: EventCompleted, Timestamp: now})
}

func errorCode(err error) string {
	var apiErr *models.APIError
	var codecErr *models.CodecError
	var storageErr *models.StorageError
	switch {
	case errors.As(err, &apiErr):
		return models.ErrCodeRemote
	case errors.As(err, &codecErr):
		return models.ErrCodeCodec
	case errors.As(err, &storageErr):
		return models.ErrCodeStorage
	case errors.Is(err, models.ErrUnknownTab):
		return models.ErrCodePayload
	default:
		return models.ErrCodeNetwork
	}
}
