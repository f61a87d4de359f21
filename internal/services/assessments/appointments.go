package assessments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

// CacheAppointment mirrors an appointment for offline browsing, replacing
// any earlier copy.
func (c *Cache) CacheAppointment(ctx context.Context, appointment *models.CachedAppointment) error {
	record := *appointment
	record.CachedAt = c.now()
	if err := c.store.PutAppointment(ctx, &record); err != nil {
		return fmt.Errorf("cache appointment %s: %w", appointment.ID, err)
	}
	return nil
}

// Appointment returns a cached appointment or models.ErrNotFound.
func (c *Cache) Appointment(ctx context.Context, id string) (*models.CachedAppointment, error) {
	return c.store.GetAppointment(ctx, id)
}

// Appointments lists cached appointments by scheduled date.
func (c *Cache) Appointments(ctx context.Context) ([]*models.CachedAppointment, error) {
	return c.store.ListAppointments(ctx)
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Assessments  int `json:"assessments"`
	Appointments int `json:"appointments"`
}

// Cleanup evicts records older than retention. Records holding local edits
// are kept regardless of age.
func (c *Cache) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	var result CleanupResult
	cutoff := c.now().Add(-retention)

	n, err := c.store.DeleteStaleAssessments(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("evict assessments: %w", err)
	}
	result.Assessments = n

	n, err = c.store.DeleteAppointmentsCachedBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("evict appointments: %w", err)
	}
	result.Appointments = n

	c.logger.WithFields(map[string]interface{}{
		"assessments":  result.Assessments,
		"appointments": result.Appointments,
		"cutoff":       cutoff,
	}).Info("Cache cleanup completed")

	return result, nil
}

// TabsFromPayload splits a whole-assessment payload (a JSON object keyed by
// tab name) into tabs. Keys that are not tab names are ignored.
func TabsFromPayload(payload interface{}) (map[models.Tab]json.RawMessage, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	tabs := make(map[models.Tab]json.RawMessage, len(fields))
	for key, value := range fields {
		tab, err := models.ParseTab(key)
		if err != nil {
			continue
		}
		if string(value) == "null" {
			continue
		}
		tabs[tab] = value
	}
	return tabs, nil
}
