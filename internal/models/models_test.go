package models_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

func TestParseTab(t *testing.T) {
	tab, err := models.ParseTab(" Notes ")
	require.NoError(t, err)
	assert.Equal(t, models.TabNotes, tab)

	_, err = models.ParseTab("engine-bay")
	assert.ErrorIs(t, err, models.ErrUnknownTab)
}

func TestCachedAssessmentLocalChanges(t *testing.T) {
	tests := []struct {
		status models.AssessmentStatus
		want   bool
	}{
		{models.AssessmentCached, false},
		{models.AssessmentModified, true},
		{models.AssessmentPendingSync, true},
		{models.AssessmentSynced, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			a := models.NewCachedAssessment("A1", tt.status)
			assert.Equal(t, tt.want, a.HasLocalChanges())
		})
	}
}

func TestCachedAssessmentClone(t *testing.T) {
	a := models.NewCachedAssessment("A1", models.AssessmentModified)
	a.SetTab(models.TabNotes, json.RawMessage(`{"text":"x"}`))

	clone := a.Clone()
	clone.SetTab(models.TabNotes, json.RawMessage(`{"text":"y"}`))
	clone.Status = models.AssessmentSynced

	assert.JSONEq(t, `{"text":"x"}`, string(a.Tab(models.TabNotes)))
	assert.Equal(t, models.AssessmentModified, a.Status)
}

func TestCachedAssessmentValidate(t *testing.T) {
	a := models.NewCachedAssessment("A1", models.AssessmentCached)
	assert.NoError(t, a.Validate())

	a.SetTab(models.TabDamage, json.RawMessage(`{broken`))
	assert.Error(t, a.Validate())

	empty := models.NewCachedAssessment("", models.AssessmentCached)
	assert.Error(t, empty.Validate())

	bad := models.NewCachedAssessment("A2", "archived")
	assert.Error(t, bad.Validate())
}

func TestOfflinePhotoRemoteInvariant(t *testing.T) {
	tests := []struct {
		name    string
		status  models.PhotoStatus
		path    string
		url     string
		wantErr bool
	}{
		{"pending without remote", models.PhotoPending, "", "", false},
		{"uploaded with remote", models.PhotoUploaded, "A1/damage/p1.jpg", "https://cdn/p1.jpg", false},
		{"uploaded without remote", models.PhotoUploaded, "", "", true},
		{"failed with remote", models.PhotoFailed, "A1/damage/p1.jpg", "", true},
		{"uploading with url", models.PhotoUploading, "", "https://cdn/p1.jpg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.OfflinePhoto{
				ID:           "p1",
				AssessmentID: "A1",
				Category:     "damage",
				Status:       tt.status,
				RemotePath:   tt.path,
				RemoteURL:    tt.url,
			}
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOfflinePhotoRemoteObjectPath(t *testing.T) {
	p := &models.OfflinePhoto{ID: "p1", AssessmentID: "A1", Category: "damage", ContentType: "image/jpeg"}
	assert.Equal(t, "A1/damage/p1.jpg", p.RemoteObjectPath())

	p.ContentType = "image/png"
	assert.Equal(t, "A1/damage/p1.png", p.RemoteObjectPath())
}

func TestQueueItemRecordFailure(t *testing.T) {
	item := &models.QueueItem{
		ID:          "q1",
		Type:        models.QueueAssessment,
		EntityID:    "A1",
		Action:      models.ActionUpdate,
		Status:      models.QueueInProgress,
		MaxAttempts: 3,
	}
	now := time.Now()

	assert.False(t, item.RecordFailure(errors.New("boom 1"), now))
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Equal(t, 1, item.Attempts)

	assert.False(t, item.RecordFailure(errors.New("boom 2"), now))
	assert.True(t, item.RecordFailure(errors.New("boom 3"), now))

	assert.Equal(t, models.QueueFailed, item.Status)
	assert.Equal(t, 3, item.Attempts)
	assert.Equal(t, "boom 3", item.LastError)
	assert.Equal(t, now, item.LastAttempt)
}

func TestQueueItemDedupKey(t *testing.T) {
	a := &models.QueueItem{Type: models.QueueAssessment, EntityID: "A1", Discriminator: "notes"}
	b := &models.QueueItem{Type: models.QueueAssessment, EntityID: "A1", Discriminator: "damage"}
	c := &models.QueueItem{Type: models.QueueAssessment, EntityID: "A1", Discriminator: "notes"}

	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
	assert.Equal(t, a.DedupKey(), c.DedupKey())
}

func TestQueueItemValidate(t *testing.T) {
	item := &models.QueueItem{
		ID:          "q1",
		Type:        models.QueuePhoto,
		EntityID:    "p1",
		Action:      models.ActionCreate,
		Payload:     json.RawMessage(`{"assessment_id":"A1"}`),
		MaxAttempts: models.DefaultMaxAttempts,
	}
	assert.NoError(t, item.Validate())

	item.Type = "video"
	assert.Error(t, item.Validate())

	item.Type = models.QueuePhoto
	item.MaxAttempts = 0
	assert.Error(t, item.Validate())
}
