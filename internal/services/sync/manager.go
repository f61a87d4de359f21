// Package sync drains the local sync queue against the remote backend.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/connectivity"
	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
	"github.com/TheMichaelB/fieldsync/internal/services/assessments"
	"github.com/TheMichaelB/fieldsync/internal/services/photos"
	"github.com/TheMichaelB/fieldsync/internal/store"
	"github.com/TheMichaelB/fieldsync/internal/transport"
)

// Connectivity is the online signal the manager follows.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(connectivity.Status)) func()
}

// Options configures a Manager.
type Options struct {
	// RetryDelay is the base backoff before a failed item is retried. Each
	// further attempt doubles it. Zero retries on the next drain.
	RetryDelay time.Duration

	// CompletedRetention is how long completed items are kept.
	CompletedRetention time.Duration

	// Interval triggers a drain periodically while online. Zero disables.
	Interval time.Duration
}

// State is a snapshot of the manager for observers.
type State struct {
	IsSyncing    bool              `json:"is_syncing"`
	PendingCount int               `json:"pending_count"`
	FailedCount  int               `json:"failed_count"`
	CurrentItem  *models.QueueItem `json:"current_item,omitempty"`
	Progress     int               `json:"progress"`
	LastSyncTime time.Time         `json:"last_sync_time,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
}

// Result summarises one drain.
type Result struct {
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Deferred  int  `json:"deferred"` // Skipped while backing off
	Stopped   bool `json:"stopped"`  // Went offline or was cancelled mid-drain
}

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Item      *models.QueueItem
	Error     error
	State     State
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted       EventType = "started"
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventStopped       EventType = "stopped"
	EventCompleted     EventType = "completed"
)

// Manager drains the sync queue one item at a time.
type Manager struct {
	store       store.Store
	assessments *assessments.Cache
	photos      *photos.Service
	conn        Connectivity
	logger      *events.Logger
	opts        Options
	now         func() time.Time

	events chan Event

	// Sync state
	mu       sync.Mutex
	syncing  bool
	remote   transport.Remote
	cancelFn context.CancelFunc

	stateMu sync.RWMutex
	state   State

	observersMu sync.Mutex
	observers   map[int]func(State)
	nextID      int
}

// NewManager creates a sync manager. No drain runs until a remote is
// attached.
func NewManager(
	st store.Store,
	cache *assessments.Cache,
	photoService *photos.Service,
	conn Connectivity,
	opts Options,
	logger *events.Logger,
) *Manager {
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = 24 * time.Hour
	}

	return &Manager{
		store:       st,
		assessments: cache,
		photos:      photoService,
		conn:        conn,
		logger:      logger.WithField("component", "sync_manager"),
		opts:        opts,
		now:         time.Now,
		events:      make(chan Event, 100),
		observers:   make(map[int]func(State)),
	}
}

// AttachRemote sets the backend the queue drains into. Passing nil detaches.
func (m *Manager) AttachRemote(remote transport.Remote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = remote
}

// Events returns the event channel. Events are dropped when it is full.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.observersMu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.observersMu.Unlock()

	return func() {
		m.observersMu.Lock()
		delete(m.observers, id)
		m.observersMu.Unlock()
	}
}

// StartSync drains the queue if online, idle and attached to a remote, and
// is a no-op otherwise. The returned result is nil when nothing ran.
func (m *Manager) StartSync(ctx context.Context) (*Result, error) {
	result, err := m.sync(ctx)
	switch {
	case errors.Is(err, models.ErrSyncInProgress),
		errors.Is(err, models.ErrOffline),
		errors.Is(err, models.ErrNoRemote):
		m.logger.WithField("reason", err.Error()).Debug("Sync not started")
		return nil, nil
	}
	return result, err
}

// ForceSyncNow drains the queue on explicit request. Unlike StartSync it
// reports why a drain could not start.
func (m *Manager) ForceSyncNow(ctx context.Context) (*Result, error) {
	return m.sync(ctx)
}

// RetryFailed resets every failed item to pending and starts a drain.
func (m *Manager) RetryFailed(ctx context.Context) (int, *Result, error) {
	n, err := m.store.ResetFailed(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("reset failed items: %w", err)
	}

	m.logger.WithField("count", n).Info("Retrying failed items")
	if err := m.RefreshCounts(ctx); err != nil {
		return n, nil, err
	}

	result, err := m.StartSync(ctx)
	return n, result, err
}

// ClearFailed deletes every failed item without retrying it.
func (m *Manager) ClearFailed(ctx context.Context) (int, error) {
	n, err := m.store.DeleteTasks(ctx, store.TaskFilter{Statuses: []models.QueueStatus{models.QueueFailed}})
	if err != nil {
		return 0, fmt.Errorf("clear failed items: %w", err)
	}

	m.logger.WithField("count", n).Info("Cleared failed items")
	return n, m.RefreshCounts(ctx)
}

// RefreshCounts reloads the pending and failed counts. Items in flight count
// as pending.
func (m *Manager) RefreshCounts(ctx context.Context) error {
	pending, err := m.store.CountTasks(ctx, store.TaskFilter{
		Statuses: []models.QueueStatus{models.QueuePending, models.QueueInProgress},
	})
	if err != nil {
		return fmt.Errorf("count pending items: %w", err)
	}

	failed, err := m.store.CountTasks(ctx, store.TaskFilter{Statuses: []models.QueueStatus{models.QueueFailed}})
	if err != nil {
		return fmt.Errorf("count failed items: %w", err)
	}

	m.updateState(func(s *State) {
		s.PendingCount = pending
		s.FailedCount = failed
	})
	return nil
}

// Cancel stops an ongoing drain after the current item.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelFn != nil {
		m.logger.Info("Cancelling sync")
		m.cancelFn()
	}
}

// Run starts a drain on every online transition, and every Interval while
// online, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	var (
		onlineMu  sync.Mutex
		wasOnline bool
	)
	unsubscribe := m.conn.Subscribe(func(status connectivity.Status) {
		onlineMu.Lock()
		cameOnline := status.Online && !wasOnline
		wasOnline = status.Online
		onlineMu.Unlock()

		if cameOnline {
			kick()
		}
	})
	defer unsubscribe()

	onlineMu.Lock()
	wasOnline = m.conn.IsOnline()
	startOnline := wasOnline
	onlineMu.Unlock()

	if err := m.RefreshCounts(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to load queue counts")
	}
	if startOnline {
		kick()
	}

	var tick <-chan time.Time
	if m.opts.Interval > 0 {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			kick()
		case <-trigger:
			if _, err := m.StartSync(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Error("Sync failed")
			}
		}
	}
}

func (m *Manager) sync(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.remote == nil {
		m.mu.Unlock()
		return nil, models.ErrNoRemote
	}
	if !m.conn.IsOnline() {
		m.mu.Unlock()
		return nil, models.ErrOffline
	}
	if m.syncing {
		m.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	m.syncing = true
	remote := m.remote

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.syncing = false
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return m.drain(ctx, remote)
}

func (m *Manager) updateState(fn func(*State)) {
	m.stateMu.Lock()
	fn(&m.state)
	snapshot := m.state
	m.stateMu.Unlock()

	m.observersMu.Lock()
	observers := make([]func(State), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.observersMu.Unlock()

	for _, o := range observers {
		o(snapshot)
	}
}

func (m *Manager) emitEvent(event Event) {
	event.State = m.State()
	select {
	case m.events <- event:
	default:
		// Channel full, drop event
		m.logger.Debug("Event channel full, dropping event")
	}
}
