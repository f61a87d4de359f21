package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeNetwork  = "NETWORK_ERROR"
	ErrCodeStorage  = "STORAGE_ERROR"
	ErrCodeCodec    = "CODEC_ERROR"
	ErrCodeRemote   = "REMOTE_ERROR"
	ErrCodeConfig   = "CONFIG_ERROR"
	ErrCodePayload  = "PAYLOAD_ERROR"
	ErrCodeNotFound = "NOT_FOUND"
)

// Sentinel errors
var (
	ErrNotFound       = errors.New("not found")
	ErrOffline        = errors.New("device is offline")
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNoRemote       = errors.New("no remote backend attached")
	ErrUnknownTab     = errors.New("unknown assessment tab")
	ErrDecode         = errors.New("decode image")
	ErrEncode         = errors.New("encode image")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// APIError represents an error from the remote backend.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// SyncError provides detailed failure information for one queue item.
type SyncError struct {
	Code     string
	Phase    string
	ItemID   string
	EntityID string
	Err      error
}

func (e *SyncError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("sync %s [%s]: item %s: entity %s: %v", e.Phase, e.Code, e.ItemID, e.EntityID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: item %s: %v", e.Phase, e.Code, e.ItemID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// StorageError wraps a local store failure with the operation that hit it.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("local store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CodecError represents an image decode or encode failure. These are not
// retried: a corrupt input will not succeed on a second pass.
type CodecError struct {
	Op     string // decode, encode
	Format string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("%s %s image: %v", e.Op, e.Format, e.Err)
	}
	return fmt.Sprintf("%s image: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match CodecError against ErrDecode / ErrEncode.
func (e *CodecError) Is(target error) bool {
	switch target {
	case ErrDecode:
		return e.Op == "decode"
	case ErrEncode:
		return e.Op == "encode"
	}
	return false
}
