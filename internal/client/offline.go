package client

import (
	"context"

	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/services/assessments"
)

// OnlineSignal reports whether the device is online.
type OnlineSignal interface {
	IsOnline() bool
}

// Offline is the surface page-level code uses to work against the local
// cache. Reads degrade to "not cached" after logging; local saves report
// their errors.
type Offline struct {
	cache  *assessments.Cache
	signal OnlineSignal
	logger *events.Logger
}

// NewOffline creates the facade.
func NewOffline(cache *assessments.Cache, signal OnlineSignal, logger *events.Logger) *Offline {
	return &Offline{
		cache:  cache,
		signal: signal,
		logger: logger.WithField("component", "offline"),
	}
}

// CacheAssessment preloads a remote snapshot (a JSON object keyed by tab
// name). Nothing is cached while offline or over unsynced local edits. It
// reports whether the snapshot was applied.
func (o *Offline) CacheAssessment(ctx context.Context, id string, payload interface{}, parents models.ParentIDs) bool {
	logger := o.logger.WithField("assessment_id", id)

	if !o.signal.IsOnline() {
		logger.Debug("Offline, skipping preload")
		return false
	}

	tabs, err := assessments.TabsFromPayload(payload)
	if err != nil {
		logger.WithError(err).Warn("Failed to decode assessment snapshot")
		return false
	}

	applied, err := o.cache.Preload(ctx, id, tabs, parents)
	if err != nil {
		logger.WithError(err).Warn("Failed to cache assessment")
		return false
	}
	return applied
}

// SaveLocal writes one tab locally and queues it for sync.
func (o *Offline) SaveLocal(ctx context.Context, id string, tab models.Tab, data interface{}) error {
	_, err := o.cache.SaveLocal(ctx, id, tab, data)
	if err != nil {
		o.logger.WithError(err).WithFields(map[string]interface{}{
			"assessment_id": id,
			"tab":           tab,
		}).Error("Local save failed")
	}
	return err
}

// GetCachedData returns the cached tab, or nil when it is not cached or
// cannot be read.
func GetCachedData[T any](ctx context.Context, o *Offline, id string, tab models.Tab) *T {
	data, err := assessments.GetTabData[T](ctx, o.cache, id, tab)
	if err != nil {
		o.logger.WithError(err).WithFields(map[string]interface{}{
			"assessment_id": id,
			"tab":           tab,
		}).Warn("Failed to read cached data")
		return nil
	}
	return data
}

// HasCachedData reports whether id is cached.
func (o *Offline) HasCachedData(ctx context.Context, id string) bool {
	cached, err := o.cache.IsCached(ctx, id)
	if err != nil {
		o.logger.WithError(err).WithField("assessment_id", id).Warn("Failed to check cache")
		return false
	}
	return cached
}

// SyncStatus returns the pending and failed queue depth for id.
func (o *Offline) SyncStatus(ctx context.Context, id string) models.QueueCounts {
	counts, err := o.cache.SyncStatus(ctx, id)
	if err != nil {
		o.logger.WithError(err).WithField("assessment_id", id).Warn("Failed to read sync status")
		return models.QueueCounts{}
	}
	return counts
}

// IsOnline reports the connectivity signal.
func (o *Offline) IsOnline() bool {
	return o.signal.IsOnline()
}

// IsOffline is the negation of IsOnline.
func (o *Offline) IsOffline() bool {
	return !o.signal.IsOnline()
}

// SaveFunc saves a tab directly against the backend.
type SaveFunc[T any] func(ctx context.Context, data T) (T, error)

// WrapSave adapts an online save of one tab. The returned function always
// saves locally first. Online, it then calls save; offline, it returns the
// local data and leaves the write to the sync queue.
func WrapSave[T any](o *Offline, id string, tab models.Tab, save SaveFunc[T]) SaveFunc[T] {
	return func(ctx context.Context, data T) (T, error) {
		if err := o.SaveLocal(ctx, id, tab, data); err != nil {
			var zero T
			return zero, err
		}

		if !o.signal.IsOnline() {
			o.logger.WithFields(map[string]interface{}{
				"assessment_id": id,
				"tab":           tab,
			}).Debug("Offline, save deferred to sync queue")
			return data, nil
		}

		return save(ctx, data)
	}
}
