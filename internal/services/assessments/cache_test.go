package assessments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/test/testutil"
)

func newTestCache(t *testing.T) (*Cache, *store.SQLiteStore) {
	t.Helper()
	st := testutil.NewTestStore(t)
	return NewCache(st, 3, testutil.NewTestLogger()), st
}

func snapshot(t *testing.T) map[models.Tab]json.RawMessage {
	t.Helper()
	tabs, err := TabsFromPayload(testutil.SnapshotPayload())
	require.NoError(t, err)
	return tabs
}

func TestPreloadStoresSnapshot(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	applied, err := cache.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{AppointmentID: "apt-1"})
	require.NoError(t, err)
	assert.True(t, applied)

	record, err := cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentCached, record.Status)
	assert.Equal(t, "apt-1", record.AppointmentID)
	assert.False(t, record.LastSynced.IsZero())

	notes, err := GetTabData[testutil.NotesTab](ctx, cache, "a-1", models.TabNotes)
	require.NoError(t, err)
	require.NotNil(t, notes)
	assert.Equal(t, "remote notes", notes.Text)

	cached, err := cache.IsCached(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestLocalEditsWinOverPreload(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	_, err := cache.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)

	_, err = cache.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "local notes"})
	require.NoError(t, err)

	applied, err := cache.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)
	assert.False(t, applied)

	notes, err := GetTabData[testutil.NotesTab](ctx, cache, "a-1", models.TabNotes)
	require.NoError(t, err)
	assert.Equal(t, "local notes", notes.Text)

	damage, err := GetTabData[testutil.DamageTab](ctx, cache, "a-1", models.TabDamage)
	require.NoError(t, err)
	require.NotNil(t, damage)
	assert.Equal(t, "minor", damage.Severity)

	changed, err := cache.HasLocalChanges(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSaveLocalCreatesRecordAndQueuesEdit(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	record, err := cache.SaveLocal(ctx, "a-new", models.TabDamage, testutil.DamageTab{Severity: "major"})
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentModified, record.Status)

	items, err := st.ListTasks(ctx, store.TaskFilter{EntityID: "a-new"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, models.QueueAssessment, item.Type)
	assert.Equal(t, models.ActionUpdate, item.Action)
	assert.Equal(t, models.PriorityHigh, item.Priority)
	assert.Equal(t, 3, item.MaxAttempts)

	var payload models.AssessmentPayload
	require.NoError(t, json.Unmarshal(item.Payload, &payload))
	assert.Equal(t, models.TabDamage, payload.Tab)
	assert.JSONEq(t, `{"panels":null,"severity":"major"}`, string(payload.Data))
}

func TestSaveLocalDeduplicatesPerTab(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	for _, text := range []string{"first", "second", "third"} {
		_, err := cache.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: text})
		require.NoError(t, err)
	}
	_, err := cache.SaveLocal(ctx, "a-1", models.TabDamage, testutil.DamageTab{Severity: "minor"})
	require.NoError(t, err)

	items, err := st.ListTasks(ctx, store.TaskFilter{EntityID: "a-1", Statuses: []models.QueueStatus{models.QueuePending}})
	require.NoError(t, err)
	require.Len(t, items, 2)

	for _, item := range items {
		var payload models.AssessmentPayload
		require.NoError(t, json.Unmarshal(item.Payload, &payload))
		if payload.Tab == models.TabNotes {
			assert.JSONEq(t, `{"text":"third"}`, string(payload.Data))
		}
	}
}

func TestSaveLocalRejectsUnknownTab(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.SaveLocal(context.Background(), "a-1", models.Tab("glovebox"), map[string]string{})
	assert.ErrorIs(t, err, models.ErrUnknownTab)
}

func TestGetTabDataMissing(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	notes, err := GetTabData[testutil.NotesTab](ctx, cache, "missing", models.TabNotes)
	require.NoError(t, err)
	assert.Nil(t, notes)

	_, err = cache.SaveLocal(ctx, "a-1", models.TabDamage, testutil.DamageTab{})
	require.NoError(t, err)

	notes, err = GetTabData[testutil.NotesTab](ctx, cache, "a-1", models.TabNotes)
	require.NoError(t, err)
	assert.Nil(t, notes)

	_, err = cache.GetAssessment(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSyncStatusAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	_, err := cache.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "x"})
	require.NoError(t, err)
	_, err = cache.SaveLocal(ctx, "a-1", models.TabMileage, map[string]int{"odometer": 42000})
	require.NoError(t, err)

	counts, err := cache.SyncStatus(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueCounts{Pending: 2}, counts)

	items, err := st.ListTasks(ctx, store.TaskFilter{EntityID: "a-1"})
	require.NoError(t, err)
	items[0].Status = models.QueueInProgress
	require.NoError(t, st.UpdateTask(ctx, items[0]))
	items[1].Status = models.QueueFailed
	require.NoError(t, st.UpdateTask(ctx, items[1]))

	counts, err = cache.SyncStatus(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueCounts{Pending: 1, Failed: 1}, counts)

	require.NoError(t, cache.MarkPendingSync(ctx, "a-1"))
	record, err := cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentPendingSync, record.Status)

	// Edits still queued keep the record unsynced.
	marked, err := cache.MarkSynced(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, marked)
	record, err = cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentPendingSync, record.Status)

	for _, item := range items {
		item.Status = models.QueueCompleted
		require.NoError(t, st.UpdateTask(ctx, item))
	}

	marked, err = cache.MarkSynced(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, marked)
	record, err = cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentSynced, record.Status)
	assert.False(t, record.HasLocalChanges())
	assert.False(t, record.LastSynced.IsZero())

	// A synced record is not demoted back to pending_sync.
	require.NoError(t, cache.MarkPendingSync(ctx, "a-1"))
	record, err = cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentSynced, record.Status)

	_, err = cache.MarkSynced(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, cache.MarkPendingSync(ctx, "missing"), models.ErrNotFound)
}

// racingStore runs beforeWrite ahead of the next guarded status write, the
// way an edit saved from another goroutine can land between a caller's
// decision and its write.
type racingStore struct {
	store.Store
	beforeWrite func()
}

func (s *racingStore) race() {
	if hook := s.beforeWrite; hook != nil {
		s.beforeWrite = nil
		hook()
	}
}

func (s *racingStore) MarkAssessmentSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	s.race()
	return s.Store.MarkAssessmentSynced(ctx, id, at)
}

func (s *racingStore) PreloadAssessment(ctx context.Context, a *models.CachedAssessment) (bool, error) {
	s.race()
	return s.Store.PreloadAssessment(ctx, a)
}

func TestEditDuringSettleKeepsRecordModified(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	racing := &racingStore{Store: st}
	settler := NewCache(racing, 3, testutil.NewTestLogger())
	editor := NewCache(st, 3, testutil.NewTestLogger())

	_, err := editor.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "x"})
	require.NoError(t, err)
	items, err := st.ListTasks(ctx, store.TaskFilter{EntityID: "a-1"})
	require.NoError(t, err)
	items[0].Status = models.QueueCompleted
	require.NoError(t, st.UpdateTask(ctx, items[0]))

	racing.beforeWrite = func() {
		_, err := editor.SaveLocal(ctx, "a-1", models.TabMileage, map[string]int{"odometer": 42000})
		require.NoError(t, err)
	}

	marked, err := settler.MarkSynced(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, marked)

	record, err := editor.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentModified, record.Status)
	assert.JSONEq(t, `{"odometer":42000}`, string(record.Tab(models.TabMileage)))
	assert.JSONEq(t, `{"text":"x"}`, string(record.Tab(models.TabNotes)))

	counts, err := editor.SyncStatus(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)

	applied, err := editor.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestEditDuringPreloadWins(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	racing := &racingStore{Store: st}
	loader := NewCache(racing, 3, testutil.NewTestLogger())
	editor := NewCache(st, 3, testutil.NewTestLogger())

	_, err := loader.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)

	racing.beforeWrite = func() {
		_, err := editor.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "local notes"})
		require.NoError(t, err)
	}

	applied, err := loader.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)
	assert.False(t, applied)

	record, err := editor.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentModified, record.Status)

	notes, err := GetTabData[testutil.NotesTab](ctx, editor, "a-1", models.TabNotes)
	require.NoError(t, err)
	require.NotNil(t, notes)
	assert.Equal(t, "local notes", notes.Text)
}

func TestConcurrentSaveAndSettle(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	_, err := cache.Preload(ctx, "a-1", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, tab := range models.Tabs {
			_, err := cache.SaveLocal(ctx, "a-1", tab, map[string]int{"rev": i})
			assert.NoError(t, err)
		}
	}()

	// Settle the way a drain does: claim, complete, mark synced.
	settle := func() {
		pending, err := st.ListTasks(ctx, store.TaskFilter{
			EntityID: "a-1",
			Statuses: []models.QueueStatus{models.QueuePending},
		})
		require.NoError(t, err)
		for _, queued := range pending {
			item, claimed, err := st.ClaimTask(ctx, queued.ID)
			require.NoError(t, err)
			if !claimed {
				continue
			}
			item.Status = models.QueueCompleted
			require.NoError(t, st.UpdateTask(ctx, item))
		}
		_, err = cache.MarkSynced(ctx, "a-1")
		require.NoError(t, err)
	}

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		settle()
	}
	settle()

	record, err := cache.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentSynced, record.Status)
	for i, tab := range models.Tabs {
		assert.JSONEq(t, fmt.Sprintf(`{"rev":%d}`, i), string(record.Tab(tab)), "tab %s", tab)
	}
}

func TestDeleteRemovesQueuedEdits(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	_, err := cache.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "x"})
	require.NoError(t, err)

	require.NoError(t, cache.Delete(ctx, "a-1"))

	cached, err := cache.IsCached(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, cached)

	n, err := st.CountTasks(ctx, store.TaskFilter{EntityID: "a-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequeueModified(t *testing.T) {
	ctx := context.Background()
	cache, st := newTestCache(t)

	_, err := cache.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "x"})
	require.NoError(t, err)
	_, err = cache.SaveLocal(ctx, "a-1", models.TabDamage, testutil.DamageTab{Severity: "minor"})
	require.NoError(t, err)
	_, err = cache.SaveLocal(ctx, "a-2", models.TabNotes, testutil.NotesTab{Text: "y"})
	require.NoError(t, err)

	// Simulate an edit whose queue item was lost.
	_, err = st.DeleteTasks(ctx, store.TaskFilter{EntityID: "a-1"})
	require.NoError(t, err)

	queued, err := cache.RequeueModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	n, err := st.CountTasks(ctx, store.TaskFilter{EntityID: "a-1", Statuses: []models.QueueStatus{models.QueuePending}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a-2 still had its item and gains nothing.
	n, err = st.CountTasks(ctx, store.TaskFilter{EntityID: "a-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queued, err = cache.RequeueModified(ctx)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestModifiedAssessments(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	_, err := cache.Preload(ctx, "a-clean", snapshot(t), models.ParentIDs{})
	require.NoError(t, err)
	_, err = cache.SaveLocal(ctx, "a-dirty", models.TabNotes, testutil.NotesTab{Text: "x"})
	require.NoError(t, err)

	modified, err := cache.ModifiedAssessments(ctx)
	require.NoError(t, err)
	require.Len(t, modified, 1)
	assert.Equal(t, "a-dirty", modified[0].ID)
}

func TestTabsFromPayload(t *testing.T) {
	tabs, err := TabsFromPayload(map[string]interface{}{
		"notes":             map[string]string{"text": "x"},
		"DAMAGE":            nil,
		"estimate":          nil,
		"assessment_number": "ASM-1",
	})
	require.NoError(t, err)
	assert.Len(t, tabs, 1)
	assert.JSONEq(t, `{"text":"x"}`, string(tabs[models.TabNotes]))

	tabs, err = TabsFromPayload(json.RawMessage(`{"tyres":{"tread_mm":4}}`))
	require.NoError(t, err)
	assert.Contains(t, tabs, models.TabTyres)

	_, err = TabsFromPayload([]string{"not", "an", "object"})
	assert.Error(t, err)
}

func TestAppointmentsAndCleanup(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	require.NoError(t, cache.CacheAppointment(ctx, &models.CachedAppointment{
		ID:            "apt-old",
		ScheduledDate: base.Add(48 * time.Hour),
		Status:        "scheduled",
	}))
	_, err := cache.Preload(ctx, "a-old", snapshot(t), models.ParentIDs{AppointmentID: "apt-old"})
	require.NoError(t, err)
	_, err = cache.SaveLocal(ctx, "a-edited", models.TabNotes, testutil.NotesTab{Text: "keep me"})
	require.NoError(t, err)

	cache.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	require.NoError(t, cache.CacheAppointment(ctx, &models.CachedAppointment{
		ID:            "apt-new",
		ScheduledDate: base.Add(24 * time.Hour),
		Status:        "scheduled",
	}))

	appointments, err := cache.Appointments(ctx)
	require.NoError(t, err)
	require.Len(t, appointments, 2)
	assert.Equal(t, "apt-new", appointments[0].ID)

	result, err := cache.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Assessments: 1, Appointments: 1}, result)

	_, err = cache.Appointment(ctx, "apt-old")
	assert.ErrorIs(t, err, models.ErrNotFound)

	cached, err := cache.IsCached(ctx, "a-edited")
	require.NoError(t, err)
	assert.True(t, cached)
}
