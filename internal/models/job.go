package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies a provisioning job kind. The set is closed;
// ParseJobType rejects anything else.
type JobType string

const (
	JobCreateAccount  JobType = "create-account"
	JobUpdatePassword JobType = "update-password"
	JobUpdateProfile  JobType = "update-profile"
	JobEnableAccount  JobType = "enable-account"
	JobDisableAccount JobType = "disable-account"
	JobEnsureAccount  JobType = "ensure-account-exists"
	JobFullSync       JobType = "full-sync"
)

// ParseJobType validates a job type string
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(s); t {
	case JobCreateAccount, JobUpdatePassword, JobUpdateProfile,
		JobEnableAccount, JobDisableAccount, JobEnsureAccount, JobFullSync:
		return t, nil
	default:
		return "", fmt.Errorf("unknown job type %q", s)
	}
}

// JobState represents the persisted lifecycle state of a job.
// Completion is not a state: completed jobs are deleted, and their
// outcome is recorded in the event log.
type JobState string

const (
	JobStateWaiting JobState = "waiting"
	JobStateActive  JobState = "active"
	JobStateFailed  JobState = "failed"
)

// JobPayload carries the inputs a provisioning job needs. full-sync
// jobs have an empty payload.
type JobPayload struct {
	UserID   uuid.UUID `json:"userId,omitempty"`
	WsnID    string    `json:"wsnId,omitempty"`
	Password string    `json:"password,omitempty"`
	Profile  string    `json:"profile,omitempty"`
}

// Value implements driver.Valuer interface
func (p JobPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner interface
func (p *JobPayload) Scan(value interface{}) error {
	if value == nil {
		*p = JobPayload{}
		return nil
	}

	switch b := value.(type) {
	case []byte:
		return json.Unmarshal(b, p)
	case string:
		return json.Unmarshal([]byte(b), p)
	default:
		return fmt.Errorf("cannot scan %T into JobPayload", value)
	}
}

// Job is a durable provisioning work item. Completed jobs are purged;
// failed jobs are retained for inspection.
type Job struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Type        JobType    `json:"type" db:"type"`
	State       JobState   `json:"state" db:"state"`
	Payload     JobPayload `json:"payload" db:"payload"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"maxAttempts" db:"max_attempts"`
	NextRunAt   time.Time  `json:"nextRunAt" db:"next_run_at"`
	LastError   *string    `json:"lastError,omitempty" db:"last_error"`
}

// HasUser reports whether the job is associated with a user record
func (j *Job) HasUser() bool {
	return j.Payload.UserID != uuid.Nil
}
