package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/events"
)

// HTTPRemote talks to a REST backend exposing object storage under
// /storage/v1 and table upserts under /rest/v1.
type HTTPRemote struct {
	http    *HTTPClient
	baseURL string
	bucket  string
	logger  *events.Logger
}

// NewHTTPRemote creates a REST remote.
func NewHTTPRemote(cfg *config.RemoteConfig, logger *events.Logger) *HTTPRemote {
	return &HTTPRemote{
		http:    NewHTTPClient(cfg, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		bucket:  cfg.Bucket,
		logger:  logger.WithField("component", "http_remote"),
	}
}

// UploadBinary stores data in the bucket, overwriting any object at path.
func (r *HTTPRemote) UploadBinary(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("upload: path is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := r.http.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/storage/v1/object/%s/%s", url.PathEscape(r.bucket), escapePath(objectPath)),
		Body:   data,
		Headers: map[string]string{
			"Content-Type":  contentType,
			"Cache-Control": "max-age=3600",
			"x-upsert":      "true",
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"path": objectPath,
		"size": len(data),
	}).Debug("Uploaded object")

	return objectPath, nil
}

// PublicURL returns the public address of an object in the bucket.
func (r *HTTPRemote) PublicURL(objectPath string) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("public url: path is required")
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", r.baseURL, url.PathEscape(r.bucket), escapePath(objectPath)), nil
}

// UpsertRecord inserts payload into table, merging on keyField conflicts.
func (r *HTTPRemote) UpsertRecord(ctx context.Context, table, keyField string, payload map[string]interface{}) error {
	if err := checkUpsert(table, keyField, payload); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s row: %w", table, err)
	}

	query := url.Values{"on_conflict": {keyField}}
	_, err = r.http.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/rest/v1/%s?%s", url.PathEscape(table), query.Encode()),
		Body:   body,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Prefer":       "resolution=merge-duplicates,return=minimal",
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"table": table,
		"key":   payload[keyField],
	}).Debug("Upserted record")

	return nil
}
