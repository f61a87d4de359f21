package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

func TestSyncError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.SyncError
		want string
	}{
		{
			name: "with entity",
			err: &models.SyncError{
				Code:     models.ErrCodeRemote,
				Phase:    "upsert",
				ItemID:   "item-1",
				EntityID: "A1",
				Err:      errors.New("conflict"),
			},
			want: "sync upsert [REMOTE_ERROR]: item item-1: entity A1: conflict",
		},
		{
			name: "without entity",
			err: &models.SyncError{
				Code:   models.ErrCodeNetwork,
				Phase:  "upload",
				ItemID: "item-2",
				Err:    errors.New("connection timeout"),
			},
			want: "sync upload [NETWORK_ERROR]: item item-2: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("drain: %w", &models.SyncError{
		Code:  models.ErrCodeStorage,
		Phase: "load",
		Err:   models.ErrNotFound,
	})

	assert.ErrorIs(t, err, models.ErrNotFound)

	var syncErr *models.SyncError
	assert.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "load", syncErr.Phase)
}

func TestAPIError(t *testing.T) {
	err := &models.APIError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid token",
		StatusCode: 401,
	}

	assert.Equal(t, "API error 401 (UNAUTHORIZED): Invalid token", err.Error())
	assert.False(t, err.Temporary())
	assert.True(t, (&models.APIError{StatusCode: 503}).Temporary())
	assert.True(t, (&models.APIError{StatusCode: 429}).Temporary())
}

func TestStorageError(t *testing.T) {
	err := &models.StorageError{Op: "get assessment", Key: "A1", Err: models.ErrNotFound}

	assert.Equal(t, "local store get assessment A1: not found", err.Error())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCodecErrorMatchesSentinels(t *testing.T) {
	decodeErr := &models.CodecError{Op: "decode", Err: errors.New("unexpected EOF")}
	encodeErr := &models.CodecError{Op: "encode", Format: "jpeg", Err: errors.New("short write")}

	assert.ErrorIs(t, decodeErr, models.ErrDecode)
	assert.NotErrorIs(t, decodeErr, models.ErrEncode)
	assert.ErrorIs(t, encodeErr, models.ErrEncode)
	assert.Equal(t, "encode jpeg image: short write", encodeErr.Error())
	assert.Equal(t, "decode image: unexpected EOF", decodeErr.Error())
}
