// Package transport carries queued mutations to the remote backend.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/events"
)

// Remote is the backend the sync queue drains into. Implementations must be
// idempotent: uploading to the same path overwrites, and upserting the same
// key replaces the row.
type Remote interface {
	// UploadBinary stores data at path and returns the stored path.
	UploadBinary(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// PublicURL returns the address a stored object can be fetched from.
	PublicURL(path string) (string, error)

	// UpsertRecord writes payload to table, replacing any row whose keyField
	// value matches.
	UpsertRecord(ctx context.Context, table, keyField string, payload map[string]interface{}) error
}

// NewHTTPRemoteFromConfig builds the REST remote, or returns nil when the
// configured backend is not "http".
func NewHTTPRemoteFromConfig(cfg *config.RemoteConfig, logger *events.Logger) (Remote, error) {
	if cfg.Backend != "http" {
		return nil, nil
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http remote: base URL is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("http remote: bucket is required")
	}
	return NewHTTPRemote(cfg, logger), nil
}

// escapePath escapes each segment of an object path, leaving separators.
func escapePath(objectPath string) string {
	segments := strings.Split(strings.Trim(objectPath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// checkUpsert validates the arguments every UpsertRecord implementation
// requires.
func checkUpsert(table, keyField string, payload map[string]interface{}) error {
	if table == "" {
		return fmt.Errorf("upsert: table is required")
	}
	if keyField == "" {
		return fmt.Errorf("upsert %s: key field is required", table)
	}
	if _, ok := payload[keyField]; !ok {
		return fmt.Errorf("upsert %s: payload has no %q value", table, keyField)
	}
	return nil
}
