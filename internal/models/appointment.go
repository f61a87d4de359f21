package models

import (
	"encoding/json"
	"time"
)

// CachedAppointment is read-only reference data mirrored for offline browsing.
type CachedAppointment struct {
	ID            string          `json:"id"`
	AssessmentID  string          `json:"assessment_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	Status        string          `json:"status"`
	CachedAt      time.Time       `json:"cached_at"`
	Data          json.RawMessage `json:"data,omitempty"`
}
