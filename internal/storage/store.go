package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDuplicateWsnID singles out a hotspot account name collision.
	// Concurrent registrations can allocate the same wsn_id; callers
	// retry with a fresh allocation instead of reporting a conflict.
	ErrDuplicateWsnID = errors.New("duplicate wsn id")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByWsnID(ctx context.Context, wsnID string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)
	NextWsnID(ctx context.Context) (string, error)

	// Sync-state writers. Only the provisioning worker calls these.
	UpdateUserSyncState(ctx context.Context, id uuid.UUID, update models.SyncStateUpdate) error
	SetUserSyncError(ctx context.Context, id uuid.UUID, message string) error
	UpdateUserUsage(ctx context.Context, id uuid.UUID, bytesIn, bytesOut int64) error
	AppendSessionSnapshot(ctx context.Context, snap *models.SessionSnapshot, historyLimit int) error
	ListSessionSnapshots(ctx context.Context, userID uuid.UUID, limit int) ([]*models.SessionSnapshot, error)

	// Job queue methods
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimDueJob(ctx context.Context) (*models.Job, error)
	ResetStalledJobs(ctx context.Context) (int64, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	RescheduleJob(ctx context.Context, job *models.Job, errMsg string) error
	FailJob(ctx context.Context, job *models.Job, errMsg string) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, state *models.JobState, limit, offset int) ([]*models.Job, int64, error)
	HasPendingJob(ctx context.Context, jobType models.JobType) (bool, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}
