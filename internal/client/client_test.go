package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/connectivity"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/internal/transport"
	"github.com/TheMichaelB/fieldsync/test/testutil"
)

func newTestClient(t *testing.T, cfg *config.Config, opts ...Option) *Client {
	t.Helper()

	c, err := New(context.Background(), cfg, testutil.NewTestLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewSelectsBackend(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		c := newTestClient(t, testutil.TestConfigWithDir(t.TempDir()))
		assert.False(t, c.HasRemote())
		assert.True(t, c.Offline.IsOnline())

		_, err := c.Sync.ForceSyncNow(context.Background())
		assert.ErrorIs(t, err, models.ErrNoRemote)
	})

	t.Run("http", func(t *testing.T) {
		cfg := testutil.TestConfigWithDir(t.TempDir())
		cfg.Remote.Backend = "http"
		cfg.Remote.BaseURL = "http://127.0.0.1:1"
		cfg.Remote.Bucket = "photos"

		c := newTestClient(t, cfg)
		assert.True(t, c.HasRemote())
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := testutil.TestConfigWithDir(t.TempDir())
		cfg.Remote.Backend = "ftp"

		_, err := New(context.Background(), cfg, testutil.NewTestLogger())
		assert.Error(t, err)
	})

	t.Run("override", func(t *testing.T) {
		c := newTestClient(t, testutil.TestConfigWithDir(t.TempDir()), WithRemote(transport.NewMockRemote()))
		assert.True(t, c.HasRemote())
	})
}

func TestOfflineFacade(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testutil.TestConfigWithDir(t.TempDir()), WithInitialOnline(false))
	o := c.Offline

	assert.True(t, o.IsOffline())
	assert.False(t, o.HasCachedData(ctx, "a-1"))
	assert.Nil(t, GetCachedData[testutil.NotesTab](ctx, o, "a-1", models.TabNotes))

	// Snapshots are only taken while online.
	assert.False(t, o.CacheAssessment(ctx, "a-1", testutil.SnapshotPayload(), models.ParentIDs{}))

	require.NoError(t, o.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "offline"}))
	assert.True(t, o.HasCachedData(ctx, "a-1"))
	assert.Equal(t, models.QueueCounts{Pending: 1}, o.SyncStatus(ctx, "a-1"))

	notes := GetCachedData[testutil.NotesTab](ctx, o, "a-1", models.TabNotes)
	require.NotNil(t, notes)
	assert.Equal(t, "offline", notes.Text)

	assert.Error(t, o.SaveLocal(ctx, "a-1", models.Tab("glovebox"), "x"))

	c.Monitor.SetOnline(true)
	assert.True(t, o.IsOnline())

	// Local edits win over the remote snapshot.
	assert.False(t, o.CacheAssessment(ctx, "a-1", testutil.SnapshotPayload(), models.ParentIDs{}))
	notes = GetCachedData[testutil.NotesTab](ctx, o, "a-1", models.TabNotes)
	require.NotNil(t, notes)
	assert.Equal(t, "offline", notes.Text)

	assert.True(t, o.CacheAssessment(ctx, "a-2", testutil.SnapshotPayload(), models.ParentIDs{AppointmentID: "ap-1"}))
	damage := GetCachedData[testutil.DamageTab](ctx, o, "a-2", models.TabDamage)
	require.NotNil(t, damage)
	assert.Equal(t, "minor", damage.Severity)

	record, err := c.Assessments.GetAssessment(ctx, "a-2")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentCached, record.Status)
	assert.Equal(t, "ap-1", record.AppointmentID)

	assert.False(t, o.CacheAssessment(ctx, "a-3", []string{"not", "an", "object"}, models.ParentIDs{}))
}

func TestWrapSave(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testutil.TestConfigWithDir(t.TempDir()), WithInitialOnline(false))

	calls := 0
	online := func(ctx context.Context, data testutil.NotesTab) (testutil.NotesTab, error) {
		calls++
		data.Text += " (saved)"
		return data, nil
	}
	save := WrapSave(c.Offline, "a-1", models.TabNotes, online)

	got, err := save(ctx, testutil.NotesTab{Text: "first"})
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)
	assert.Zero(t, calls)

	c.Monitor.SetOnline(true)
	got, err = save(ctx, testutil.NotesTab{Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second (saved)", got.Text)
	assert.Equal(t, 1, calls)

	// The local copy is written either way.
	notes := GetCachedData[testutil.NotesTab](ctx, c.Offline, "a-1", models.TabNotes)
	require.NotNil(t, notes)
	assert.Equal(t, "second", notes.Text)

	boom := errors.New("backend rejected")
	failing := WrapSave(c.Offline, "a-1", models.TabNotes, func(ctx context.Context, data testutil.NotesTab) (testutil.NotesTab, error) {
		return data, boom
	})
	_, err = failing(ctx, testutil.NotesTab{Text: "third"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.QueueCounts{Pending: 1}, c.Offline.SyncStatus(ctx, "a-1"))
}

func TestRunSyncsOnReconnect(t *testing.T) {
	cfg := testutil.TestConfigWithDir(t.TempDir())
	remote := transport.NewMockRemote()
	c := newTestClient(t, cfg, WithRemote(remote), WithInitialOnline(false))

	ctx, cancel := testutil.TestContext()
	defer cancel()

	require.NoError(t, c.Offline.SaveLocal(ctx, "A1", models.TabNotes, testutil.NotesTab{Text: "x"}))

	record, err := c.Assessments.GetAssessment(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentModified, record.Status)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	c.Monitor.SetOnline(true)

	testutil.WaitForCondition(t, func() bool {
		record, err := c.Assessments.GetAssessment(ctx, "A1")
		return err == nil && record.Status == models.AssessmentSynced
	}, 5*time.Second, "assessment synced after reconnect")

	stop()
	assert.NoError(t, <-done)

	row, ok := remote.Row("assessment_notes", "A1")
	require.True(t, ok)
	assert.Equal(t, "x", row["text"])
}

func TestRunFollowsLinkStateFile(t *testing.T) {
	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.Sync.AutoSync = false
	cfg.Connectivity.LinkStateFile = filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.WriteFile(cfg.Connectivity.LinkStateFile, []byte("offline\n"), 0600))

	c := newTestClient(t, cfg)
	assert.False(t, c.Monitor.IsOnline())

	ctx, cancel := testutil.TestContext()
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	require.NoError(t, os.WriteFile(cfg.Connectivity.LinkStateFile, []byte("online 3g\n"), 0600))

	testutil.WaitForCondition(t, func() bool {
		return c.Monitor.IsOnline()
	}, 5*time.Second, "online after link state change")
	assert.Equal(t, connectivity.QualitySlow, c.Monitor.Status().Quality)

	stop()
	assert.NoError(t, <-done)
}

func TestLogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testutil.TestConfigWithDir(t.TempDir()))

	require.NoError(t, c.Offline.SaveLocal(ctx, "a-1", models.TabNotes, testutil.NotesTab{Text: "x"}))
	_, err := c.Photos.StorePhoto(ctx, "a-1", "damage", testutil.TestJPEG(t, 64, 48), "")
	require.NoError(t, err)
	require.NoError(t, c.Sync.RefreshCounts(ctx))
	assert.Equal(t, 2, c.Sync.State().PendingCount)

	require.NoError(t, c.Logout(ctx))

	assert.False(t, c.Offline.HasCachedData(ctx, "a-1"))
	n, err := c.Store.CountPhotos(ctx, store.PhotoFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, c.Sync.State().PendingCount)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.Sync.CacheRetention = 0
	cfg.Sync.PhotoRetentionDays = 0
	cfg.Sync.CompletedRetention = 0
	remote := transport.NewMockRemote()
	c := newTestClient(t, cfg, WithRemote(remote))

	assert.True(t, c.Offline.CacheAssessment(ctx, "cached", testutil.SnapshotPayload(), models.ParentIDs{}))
	require.NoError(t, c.Offline.SaveLocal(ctx, "edited", models.TabNotes, testutil.NotesTab{Text: "x"}))
	require.NoError(t, c.Offline.SaveLocal(ctx, "unsynced", models.TabNotes, testutil.NotesTab{Text: "y"}))
	_, err := c.Photos.StorePhoto(ctx, "edited", "damage", testutil.TestJPEG(t, 64, 48), "")
	require.NoError(t, err)

	remote.OnUpsert = func(table string, payload map[string]interface{}) {
		if payload["assessment_id"] == "unsynced" && table != "assessment_photos" {
			remote.FailUpserts(1, errors.New("unreachable"))
		}
	}
	_, err = c.Sync.ForceSyncNow(ctx)
	require.NoError(t, err)

	result, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Assessments)
	assert.Equal(t, 1, result.Photos)

	assert.False(t, c.Offline.HasCachedData(ctx, "cached"))
	assert.False(t, c.Offline.HasCachedData(ctx, "edited"))
	assert.True(t, c.Offline.HasCachedData(ctx, "unsynced"))

	pending, err := c.Store.CountTasks(ctx, store.TaskFilter{Statuses: []models.QueueStatus{models.QueuePending}})
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
