// Package client wires the offline engine together: local store,
// connectivity monitor, assessment cache, photo store, remote backend and
// sync manager.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/adapters"
	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/connectivity"
	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/media"
	"github.com/TheMichaelB/fieldsync/internal/services/assessments"
	"github.com/TheMichaelB/fieldsync/internal/services/photos"
	"github.com/TheMichaelB/fieldsync/internal/services/sync"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/internal/transport"
)

// Client provides the high-level API for fieldsync operations.
type Client struct {
	Store       *store.SQLiteStore
	Monitor     *connectivity.Monitor
	Assessments *assessments.Cache
	Photos      *photos.Service
	Sync        *sync.Manager
	Offline     *Offline

	config *config.Config
	logger *events.Logger
	remote transport.Remote
	source *connectivity.FileSource
}

// Option customises a Client.
type Option func(*options)

type options struct {
	remote    transport.Remote
	remoteSet bool
	online    *bool
}

// WithRemote replaces the configured remote backend. Passing nil runs the
// client without one.
func WithRemote(remote transport.Remote) Option {
	return func(o *options) {
		o.remote = remote
		o.remoteSet = true
	}
}

// WithInitialOnline overrides the starting connectivity state.
func WithInitialOnline(online bool) Option {
	return func(o *options) {
		o.online = &online
	}
}

// New creates a client from cfg. The store is opened immediately; nothing
// runs in the background until Run.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Store:  st,
		config: cfg,
		logger: logger.WithField("component", "client"),
	}

	remote := o.remote
	if !o.remoteSet {
		remote, err = newRemote(ctx, &cfg.Remote, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}
	c.remote = remote

	// Without a platform signal the device is assumed online until an
	// active probe or a transition says otherwise.
	initialOnline := true
	var hinter connectivity.LinkHinter
	if cfg.Connectivity.LinkStateFile != "" {
		c.source, err = connectivity.NewFileSource(cfg.Connectivity.LinkStateFile, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		hinter = c.source
		initialOnline = false
	}
	if o.online != nil {
		initialOnline = *o.online
	}

	c.Monitor = connectivity.NewMonitor(connectivity.Options{
		ProbeURL:      cfg.Connectivity.ProbeURL,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
		PollInterval:  cfg.Connectivity.PollInterval,
		InitialOnline: initialOnline,
		Hinter:        hinter,
	}, logger)

	c.Assessments = assessments.NewCache(st, cfg.Sync.MaxAttempts, logger)
	c.Photos = photos.NewService(st, photos.Options{
		Compression: media.Options{
			MaxWidth:  cfg.Photo.MaxWidth,
			MaxHeight: cfg.Photo.MaxHeight,
			Quality:   cfg.Photo.Quality,
			Format:    cfg.Photo.Format,
		},
		Thumbnail: media.Options{
			MaxWidth:  cfg.Photo.ThumbnailSize,
			MaxHeight: cfg.Photo.ThumbnailSize,
			Quality:   cfg.Photo.ThumbnailQuality,
		},
		TempDir:     cfg.Storage.TempDir,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}, logger)

	c.Sync = sync.NewManager(st, c.Assessments, c.Photos, c.Monitor, sync.Options{
		RetryDelay:         cfg.Sync.RetryDelay,
		CompletedRetention: cfg.Sync.CompletedRetention,
		Interval:           cfg.Sync.Interval,
	}, logger)
	if remote != nil {
		c.Sync.AttachRemote(remote)
	}

	c.Offline = NewOffline(c.Assessments, c.Monitor, logger)

	c.logger.WithFields(map[string]interface{}{
		"db_path": cfg.Storage.DBPath,
		"backend": cfg.Remote.Backend,
		"online":  initialOnline,
	}).Debug("Client initialised")

	return c, nil
}

// newRemote builds the configured backend. The "none" backend yields nil.
func newRemote(ctx context.Context, cfg *config.RemoteConfig, logger *events.Logger) (transport.Remote, error) {
	switch cfg.Backend {
	case "http":
		return transport.NewHTTPRemoteFromConfig(cfg, logger)
	case "aws":
		remote, err := adapters.NewAWSRemote(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported remote backend: %s", cfg.Backend)
	}
}

// HasRemote reports whether a remote backend is attached.
func (c *Client) HasRemote() bool {
	return c.remote != nil
}

// Run follows connectivity and, when auto-sync is enabled, drains the queue
// on every online transition until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	var src connectivity.Source
	if c.source != nil {
		src = c.source
	}
	go func() { errCh <- c.Monitor.Run(ctx, src) }()

	if c.source == nil && c.config.Connectivity.ProbeURL != "" {
		c.Monitor.CheckConnection(ctx)
	}

	running := 1
	if c.config.Sync.AutoSync {
		running++
		go func() { errCh <- c.Sync.Run(ctx) }()
	}

	c.logger.WithFields(map[string]interface{}{
		"auto_sync": c.config.Sync.AutoSync,
		"online":    c.Monitor.IsOnline(),
	}).Info("Client running")

	var firstErr error
	for i := 0; i < running; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Assessments    int `json:"assessments"`
	Appointments   int `json:"appointments"`
	Photos         int `json:"photos"`
	CompletedItems int `json:"completed_items"`
}

// Cleanup applies every configured retention window.
func (c *Client) Cleanup(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}

	cached, err := c.Assessments.Cleanup(ctx, c.config.Sync.CacheRetention)
	if err != nil {
		return result, err
	}
	result.Assessments = cached.Assessments
	result.Appointments = cached.Appointments

	result.Photos, err = c.Photos.Cleanup(ctx, c.config.Sync.PhotoRetentionDays)
	if err != nil {
		return result, err
	}

	cutoff := time.Now().Add(-c.config.Sync.CompletedRetention)
	result.CompletedItems, err = c.Store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("reap completed items: %w", err)
	}

	if err := c.Sync.RefreshCounts(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to refresh queue counts")
	}

	c.logger.WithFields(map[string]interface{}{
		"assessments":     result.Assessments,
		"appointments":    result.Appointments,
		"photos":          result.Photos,
		"completed_items": result.CompletedItems,
	}).Info("Cleanup completed")

	return result, nil
}

// Logout discards every locally held record, including unsynced edits.
func (c *Client) Logout(ctx context.Context) error {
	c.Sync.Cancel()

	if err := c.Store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear local data: %w", err)
	}

	if err := c.Sync.RefreshCounts(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to refresh queue counts")
	}

	c.logger.Info("Local data cleared")
	return nil
}

// Close stops watching connectivity and closes the store.
func (c *Client) Close() error {
	c.Sync.Cancel()

	var errs []error
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
