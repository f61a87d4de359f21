package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AssessmentStatus tracks where a cached assessment sits relative to the backend.
type AssessmentStatus string

const (
	AssessmentCached      AssessmentStatus = "cached"
	AssessmentModified    AssessmentStatus = "modified"
	AssessmentPendingSync AssessmentStatus = "pending_sync"
	AssessmentSynced      AssessmentStatus = "synced"
)

// Tab names one independently-typed section of an assessment.
type Tab string

const (
	TabIdentification Tab = "identification"
	TabExterior       Tab = "exterior"
	TabDamage         Tab = "damage"
	TabTyres          Tab = "tyres"
	TabMileage        Tab = "mileage"
	TabNotes          Tab = "notes"
	TabEstimate       Tab = "estimate"
	TabInterior       Tab = "interior"
	TabWindows        Tab = "windows"
	TabAccessories    Tab = "accessories"
)

// Tabs lists every known tab in display order.
var Tabs = []Tab{
	TabIdentification,
	TabExterior,
	TabDamage,
	TabTyres,
	TabMileage,
	TabNotes,
	TabEstimate,
	TabInterior,
	TabWindows,
	TabAccessories,
}

// ParseTab validates a tab name.
func ParseTab(s string) (Tab, error) {
	t := Tab(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tabs {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTab, s)
}

// CachedAssessment is the on-device snapshot of one assessment.
type CachedAssessment struct {
	ID            string                  `json:"id"`
	AppointmentID string                  `json:"appointment_id,omitempty"`
	RequestID     string                  `json:"request_id,omitempty"`
	Status        AssessmentStatus        `json:"status"`
	LastModified  time.Time               `json:"last_modified"`
	LastSynced    time.Time               `json:"last_synced,omitempty"`
	Data          map[Tab]json.RawMessage `json:"data"`
}

// ParentIDs carries the optional owning identifiers of an assessment.
type ParentIDs struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// NewCachedAssessment creates an empty record.
func NewCachedAssessment(id string, status AssessmentStatus) *CachedAssessment {
	return &CachedAssessment{
		ID:     id,
		Status: status,
		Data:   make(map[Tab]json.RawMessage),
	}
}

// HasLocalChanges reports whether the record holds edits the backend has not acknowledged.
func (a *CachedAssessment) HasLocalChanges() bool {
	return a.Status == AssessmentModified || a.Status == AssessmentPendingSync
}

// SetTab replaces one tab's payload.
func (a *CachedAssessment) SetTab(tab Tab, data json.RawMessage) {
	if a.Data == nil {
		a.Data = make(map[Tab]json.RawMessage)
	}
	a.Data[tab] = data
}

// Tab returns the raw payload for a tab, or nil.
func (a *CachedAssessment) Tab(tab Tab) json.RawMessage {
	if a.Data == nil {
		return nil
	}
	return a.Data[tab]
}

// Validate validates the record structure.
func (a *CachedAssessment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("assessment ID is required")
	}

	switch a.Status {
	case AssessmentCached, AssessmentModified, AssessmentPendingSync, AssessmentSynced:
	default:
		return fmt.Errorf("invalid assessment status: %q", a.Status)
	}

	for tab, data := range a.Data {
		if len(data) > 0 && !json.Valid(data) {
			return fmt.Errorf("tab %s holds invalid JSON", tab)
		}
	}

	return nil
}

// Clone creates a deep copy of the record.
func (a *CachedAssessment) Clone() *CachedAssessment {
	clone := *a
	clone.Data = make(map[Tab]json.RawMessage, len(a.Data))
	for tab, data := range a.Data {
		clone.Data[tab] = append(json.RawMessage(nil), data...)
	}
	return &clone
}
