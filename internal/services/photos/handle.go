package photos

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

// DisplayHandle is a transient file holding photo bytes for display. The
// caller owns it and must call Release once the view that requested it is
// gone.
type DisplayHandle struct {
	Path        string
	URL         string
	ContentType string

	once sync.Once
	err  error
}

// Release removes the backing file. It is safe to call more than once.
func (h *DisplayHandle) Release() error {
	h.once.Do(func() {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			h.err = fmt.Errorf("release %s: %w", h.Path, err)
		}
	})
	return h.err
}

// PhotoURL writes the photo, or its thumbnail, to a transient file and
// returns a handle to it.
func (s *Service) PhotoURL(photo *models.OfflinePhoto, thumbnail bool) (*DisplayHandle, error) {
	data := photo.Blob
	if thumbnail {
		data = photo.Thumbnail
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("photo %s has no image data", photo.ID)
	}
	contentType := http.DetectContentType(data)

	dir := s.tempDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	pattern := "photo-" + photo.ID + "-*.jpg"
	if contentType == "image/png" {
		pattern = "photo-" + photo.ID + "-*.png"
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create display file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write display file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close display file: %w", err)
	}

	return &DisplayHandle{
		Path:        f.Name(),
		URL:         "file://" + f.Name(),
		ContentType: contentType,
	}, nil
}

// PhotoURLByID loads a photo and returns a display handle for it.
func (s *Service) PhotoURLByID(ctx context.Context, id string, thumbnail bool) (*DisplayHandle, error) {
	photo, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.PhotoURL(photo, thumbnail)
}

// WithPhotoURL runs fn with a display handle that is released however fn
// exits, panics included.
func (s *Service) WithPhotoURL(ctx context.Context, id string, thumbnail bool, fn func(*DisplayHandle) error) error {
	handle, err := s.PhotoURLByID(ctx, id, thumbnail)
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			s.logger.WithError(err).WithField("photo_id", id).Warn("Failed to release display handle")
		}
	}()

	return fn(handle)
}
