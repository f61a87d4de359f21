// Package connectivity tracks whether the device can reach the backend.
//
// Platform transition events are the only thing that can take the monitor
// offline. The active probe can confirm a route exists but a failed probe
// never asserts offline, so a flaky backend does not make the signal flap.
package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/events"
)

// Quality is a coarse estimate of link quality.
type Quality string

const (
	QualityOffline Quality = "offline"
	QualitySlow    Quality = "slow"
	QualityGood    Quality = "good"
	QualityUnknown Quality = "unknown"
)

// Status is a snapshot of the monitor.
type Status struct {
	Online      bool      `json:"online"`
	Quality     Quality   `json:"quality"`
	LastOnline  time.Time `json:"last_online,omitempty"`
	LastOffline time.Time `json:"last_offline,omitempty"`
}

// Source delivers platform online/offline transitions.
type Source interface {
	Transitions() <-chan bool
}

// LinkHinter reports the platform's link type hint (e.g. "wifi", "3g").
// An empty string means no hint is currently available.
type LinkHinter interface {
	LinkType() string
}

// Options configures a Monitor.
type Options struct {
	ProbeURL      string
	ProbeTimeout  time.Duration
	PollInterval  time.Duration
	InitialOnline bool
	Hinter        LinkHinter
	HTTPClient    *http.Client
}

// Monitor is the reactive online/offline signal.
type Monitor struct {
	logger *events.Logger

	probeURL     string
	probeTimeout time.Duration
	pollInterval time.Duration
	hinter       LinkHinter
	client       *http.Client
	now          func() time.Time

	mu     sync.RWMutex
	status Status

	listenersMu sync.Mutex
	listeners   map[int]func(Status)
	nextID      int
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(opts Options, logger *events.Logger) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	m := &Monitor{
		logger:       logger.WithField("component", "connectivity"),
		probeURL:     opts.ProbeURL,
		probeTimeout: opts.ProbeTimeout,
		pollInterval: opts.PollInterval,
		hinter:       opts.Hinter,
		client:       opts.HTTPClient,
		now:          time.Now,
		listeners:    make(map[int]func(Status)),
	}

	now := m.now()
	m.status.Online = opts.InitialOnline
	if opts.InitialOnline {
		m.status.LastOnline = now
		m.status.Quality = m.evaluateQuality()
	} else {
		m.status.LastOffline = now
		m.status.Quality = QualityOffline
	}

	return m
}

// IsOnline reports the current online flag.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

// Status returns a snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// OfflineDuration is how long the device has been offline, zero when online.
func (m *Monitor) OfflineDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status.Online || m.status.LastOffline.IsZero() {
		return 0
	}
	return m.now().Sub(m.status.LastOffline)
}

// Subscribe registers fn to receive every status change. The returned
// function removes the subscription.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

// SetOnline applies a platform transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.status.Online == online {
		m.mu.Unlock()
		return
	}

	now := m.now()
	m.status.Online = online
	if online {
		m.status.LastOnline = now
		m.status.Quality = m.evaluateQuality()
	} else {
		m.status.LastOffline = now
		m.status.Quality = QualityOffline
	}
	snapshot := m.status
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"online":  snapshot.Online,
		"quality": snapshot.Quality,
	}).Info("Connectivity changed")

	m.notify(snapshot)
}

// RefreshQuality re-reads the link hint while online.
func (m *Monitor) RefreshQuality() {
	m.mu.Lock()
	if !m.status.Online {
		m.mu.Unlock()
		return
	}

	quality := m.evaluateQuality()
	if quality == m.status.Quality {
		m.mu.Unlock()
		return
	}
	m.status.Quality = quality
	snapshot := m.status
	m.mu.Unlock()

	m.logger.WithField("quality", quality).Debug("Link quality changed")
	m.notify(snapshot)
}

// Run consumes transitions from src and polls the link hint until ctx is
// done. src may be nil.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var transitions <-chan bool
	if src != nil {
		transitions = src.Transitions()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case online, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			m.SetOnline(online)

		case <-ticker.C:
			m.RefreshQuality()
		}
	}
}

// CheckConnection actively probes the backend. A successful probe marks the
// monitor online; a failed probe returns the last known flag unchanged.
func (m *Monitor) CheckConnection(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.IsOnline()
	}

	if err := m.probe(ctx); err != nil {
		m.logger.WithError(err).Debug("Connectivity probe failed")
		return m.IsOnline()
	}

	m.mu.Lock()
	wasOnline := m.status.Online
	m.status.LastOnline = m.now()
	m.mu.Unlock()

	if !wasOnline {
		m.SetOnline(true)
	}
	return true
}

func (m *Monitor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	u, err := url.Parse(m.probeURL)
	if err != nil {
		return fmt.Errorf("parse probe URL: %w", err)
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(m.now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// evaluateQuality must be called with mu held.
func (m *Monitor) evaluateQuality() Quality {
	if m.hinter == nil {
		return QualityGood
	}
	return QualityForLink(m.hinter.LinkType())
}

func (m *Monitor) notify(status Status) {
	m.listenersMu.Lock()
	listeners := make([]func(Status), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

// QualityForLink maps a coarse link type to a quality estimate.
func QualityForLink(link string) Quality {
	switch strings.ToLower(strings.TrimSpace(link)) {
	case "slow-2g", "2g", "3g", "edge", "gprs":
		return QualitySlow
	case "4g", "lte", "5g", "wifi", "ethernet":
		return QualityGood
	default:
		return QualityUnknown
	}
}
