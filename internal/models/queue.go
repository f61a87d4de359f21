package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QueueItemType is the kind of entity a sync task targets.
type QueueItemType string

const (
	QueueAssessment QueueItemType = "assessment"
	QueuePhoto      QueueItemType = "photo"
)

// QueueAction is the mutation a sync task replays.
type QueueAction string

const (
	ActionCreate QueueAction = "create"
	ActionUpdate QueueAction = "update"
	ActionDelete QueueAction = "delete"
)

// QueueStatus is the drain state of a sync task.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// Priorities. Lower drains first.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// DefaultMaxAttempts bounds automatic retries of a sync task.
const DefaultMaxAttempts = 3

// QueueItem is one locally-queued mutation waiting for the backend.
type QueueItem struct {
	ID            string          `json:"id"`
	Type          QueueItemType   `json:"type"`
	EntityID      string          `json:"entity_id"`
	Action        QueueAction     `json:"action"`
	Discriminator string          `json:"discriminator"`
	Payload       json.RawMessage `json:"payload"`
	Status        QueueStatus     `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastAttempt   time.Time       `json:"last_attempt,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Priority      int             `json:"priority"`
}

// DedupKey identifies the pending slot this item occupies. At most one
// pending item exists per key.
func (q *QueueItem) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", q.Type, q.EntityID, q.Discriminator)
}

// RecordFailure counts a failed attempt and demotes the item once its
// attempts are exhausted. It reports whether the item is now failed.
func (q *QueueItem) RecordFailure(err error, at time.Time) bool {
	q.Attempts++
	q.LastAttempt = at
	if err != nil {
		q.LastError = err.Error()
	}

	if q.Attempts >= q.MaxAttempts {
		q.Status = QueueFailed
		return true
	}

	q.Status = QueuePending
	return false
}

// Validate validates the item structure.
func (q *QueueItem) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("queue item ID is required")
	}

	if strings.TrimSpace(q.EntityID) == "" {
		return fmt.Errorf("queue item entity ID is required")
	}

	switch q.Type {
	case QueueAssessment, QueuePhoto:
	default:
		return fmt.Errorf("invalid queue item type: %q", q.Type)
	}

	switch q.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("invalid queue action: %q", q.Action)
	}

	if q.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}

	if len(q.Payload) > 0 && !json.Valid(q.Payload) {
		return fmt.Errorf("queue item payload is not valid JSON")
	}

	return nil
}

// AssessmentPayload is the payload of an assessment task.
type AssessmentPayload struct {
	Tab  Tab             `json:"tab"`
	Data json.RawMessage `json:"data"`
}

// PhotoPayload is the payload of a photo task.
type PhotoPayload struct {
	AssessmentID string `json:"assessment_id"`
	Category     string `json:"category"`
	Label        string `json:"label,omitempty"`
}

// QueueCounts summarises queue depth for observers.
type QueueCounts struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}
