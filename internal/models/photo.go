package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// PhotoStatus tracks the upload lifecycle of a captured photo.
type PhotoStatus string

const (
	PhotoPending   PhotoStatus = "pending"
	PhotoUploading PhotoStatus = "uploading"
	PhotoUploaded  PhotoStatus = "uploaded"
	PhotoFailed    PhotoStatus = "failed"
)

// OfflinePhoto is a captured photo held on the device until uploaded.
type OfflinePhoto struct {
	ID           string      `json:"id"`
	AssessmentID string      `json:"assessment_id"`
	Category     string      `json:"category"`
	Label        string      `json:"label,omitempty"`
	Blob         []byte      `json:"-"`
	Thumbnail    []byte      `json:"-"`
	ContentType  string      `json:"content_type"`
	Status       PhotoStatus `json:"status"`
	RemotePath   string      `json:"remote_path,omitempty"`
	RemoteURL    string      `json:"remote_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UploadedAt   time.Time   `json:"uploaded_at,omitempty"`
	Size         int64       `json:"size"`
}

// RemoteObjectPath is the deterministic storage path for the photo. Retried
// uploads land on the same object.
func (p *OfflinePhoto) RemoteObjectPath() string {
	return path.Join(p.AssessmentID, p.Category, p.ID+p.extension())
}

func (p *OfflinePhoto) extension() string {
	switch p.ContentType {
	case "image/png":
		return ".png"
	case "image/jpeg", "":
		return ".jpg"
	default:
		return ""
	}
}

// Validate checks the photo record, including that remote location is set
// exactly when the photo is uploaded.
func (p *OfflinePhoto) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("photo ID is required")
	}

	if strings.TrimSpace(p.AssessmentID) == "" {
		return fmt.Errorf("photo assessment ID is required")
	}

	switch p.Status {
	case PhotoPending, PhotoUploading, PhotoUploaded, PhotoFailed:
	default:
		return fmt.Errorf("invalid photo status: %q", p.Status)
	}

	hasRemote := p.RemotePath != "" || p.RemoteURL != ""
	if p.Status == PhotoUploaded && p.RemotePath == "" {
		return fmt.Errorf("uploaded photo %s has no remote path", p.ID)
	}
	if p.Status != PhotoUploaded && hasRemote {
		return fmt.Errorf("photo %s has a remote location but status %s", p.ID, p.Status)
	}

	return nil
}

// PhotoStatusCounts summarises photos by status.
type PhotoStatusCounts struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
}

// Total returns the number of photos counted.
func (c PhotoStatusCounts) Total() int {
	return c.Pending + c.Uploading + c.Uploaded + c.Failed
}
