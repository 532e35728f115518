package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents a provisioning event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	UserID *uuid.UUID `json:"userId,omitempty" db:"user_id"`
	JobID  *uuid.UUID `json:"jobId,omitempty" db:"job_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	EventTypeJobCompleted  EventType = "JOB_COMPLETED"
	EventTypeJobRetried    EventType = "JOB_RETRIED"
	EventTypeJobFailed     EventType = "JOB_FAILED"
	EventTypeSyncCompleted EventType = "SYNC_COMPLETED"
	EventTypeRouterUp      EventType = "ROUTER_UP"
	EventTypeRouterDown    EventType = "ROUTER_DOWN"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)
