package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/storage"
)

// errUnknownJobType marks a job that can never succeed; it fails
// permanently instead of burning retries
var errUnknownJobType = errors.New("unknown job type")

// Store is the subset of storage the worker needs
type Store interface {
	ClaimDueJob(ctx context.Context) (*models.Job, error)
	ResetStalledJobs(ctx context.Context) (int64, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	RescheduleJob(ctx context.Context, job *models.Job, errMsg string) error
	FailJob(ctx context.Context, job *models.Job, errMsg string) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByWsnID(ctx context.Context, wsnID string) (*models.User, error)
	UpdateUserSyncState(ctx context.Context, id uuid.UUID, update models.SyncStateUpdate) error
	SetUserSyncError(ctx context.Context, id uuid.UUID, message string) error
	UpdateUserUsage(ctx context.Context, id uuid.UUID, bytesIn, bytesOut int64) error
	AppendSessionSnapshot(ctx context.Context, snap *models.SessionSnapshot, historyLimit int) error

	CreateEventLog(ctx context.Context, event *models.EventLog) error
}

// Device is the hotspot operation surface the worker drives
type Device interface {
	ListAccounts(ctx context.Context) ([]models.HotspotAccount, error)
	ListProfiles(ctx context.Context) ([]string, error)
	ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	AddAccount(ctx context.Context, username, password, profile, ownerID string) error
	SetPassword(ctx context.Context, username, newPassword string) error
	SetProfile(ctx context.Context, username, profile string) error
	EnableAccount(ctx context.Context, username string) error
	DisableAccount(ctx context.Context, username string) error
	AccountExists(ctx context.Context, username string) (bool, error)
	KickSession(ctx context.Context, sessionID string) error
}

// Worker is the single consumer of the provisioning job queue. It
// claims due jobs, drives the device operation library and writes the
// resulting sync state back onto user records.
type Worker struct {
	store        Store
	device       Device
	backoffBase  time.Duration
	pollInterval time.Duration
	historyLimit int

	wake chan struct{}
}

// NewWorker creates a job worker
func NewWorker(store Store, device Device, backoffBase, pollInterval time.Duration, historyLimit int) *Worker {
	return &Worker{
		store:        store,
		device:       device,
		backoffBase:  backoffBase,
		pollInterval: pollInterval,
		historyLimit: historyLimit,
		wake:         make(chan struct{}, 1),
	}
}

// Notify wakes the worker to look for due jobs immediately. Safe from
// any goroutine; used by the NATS wake subscription.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Between drains it waits
// for a wake signal or the poll interval, whichever comes first, so
// retry-delayed jobs run without a wake.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	log.Info().Dur("poll_interval", w.pollInterval).Msg("Job worker started")

	w.recoverStalled(ctx)

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Job worker stopped")
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// recoverStalled requeues jobs a previous process left in the active
// state. With a single consumer an active row at startup can only mean
// the claimer died before its terminal write, so requeueing cannot
// double-deliver.
func (w *Worker) recoverStalled(ctx context.Context) {
	n, err := w.store.ResetStalledJobs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to requeue stalled jobs")
		return
	}
	if n > 0 {
		log.Warn().Int64("jobs", n).Msg("Requeued stalled jobs from previous run")
	}
}

// drain claims and processes due jobs until none remain
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.store.ClaimDueJob(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to claim job")
			return
		}

		w.process(ctx, job)
	}
}

// process runs one claimed job to completion, reschedule or failure
func (w *Worker) process(ctx context.Context, job *models.Job) {
	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", string(job.Type)).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	// Terminal writes use a context that survives shutdown: when the
	// run context is cancelled mid-job the device call fails with
	// context.Canceled, and the reschedule must still land or the row
	// is stranded in the active state.
	wctx := context.WithoutCancel(ctx)

	result, err := w.dispatch(ctx, job)
	if err != nil {
		w.handleFailure(wctx, job, err)
		return
	}

	if err := w.store.CompleteJob(wctx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to complete job")
		return
	}

	w.logEvent(wctx, job, models.EventTypeJobCompleted, models.EventLevelInfo,
		fmt.Sprintf("Job %s completed", job.Type), result)

	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", string(job.Type)).
		Msg("Job completed")
}

// dispatch routes a job to its handler. The job type set is closed;
// an unknown type is a permanent failure, not a retry.
func (w *Worker) dispatch(ctx context.Context, job *models.Job) (models.Variables, error) {
	p := job.Payload

	switch job.Type {
	case models.JobCreateAccount:
		return w.createAccount(ctx, p)
	case models.JobUpdatePassword:
		return w.updatePassword(ctx, p)
	case models.JobUpdateProfile:
		return w.updateProfile(ctx, p)
	case models.JobEnableAccount:
		return w.enableAccount(ctx, p)
	case models.JobDisableAccount:
		return w.disableAccount(ctx, p)
	case models.JobEnsureAccount:
		return w.ensureAccount(ctx, p)
	case models.JobFullSync:
		return w.fullSync(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownJobType, job.Type)
	}
}

// handleFailure reschedules the job with exponential backoff, or marks
// it permanently failed once attempts are exhausted. Exhaustion flips
// the user's sync state so operators can see the failure; the billing
// flow that enqueued the job is never rolled back.
func (w *Worker) handleFailure(ctx context.Context, job *models.Job, jobErr error) {
	if job.Attempts < job.MaxAttempts && !errors.Is(jobErr, errUnknownJobType) {
		delay := w.backoffBase
		if job.Attempts > 1 {
			delay = w.backoffBase << (job.Attempts - 1)
		}
		job.NextRunAt = time.Now().Add(delay)

		if err := w.store.RescheduleJob(ctx, job, jobErr.Error()); err != nil {
			log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to reschedule job")
			return
		}

		w.logEvent(ctx, job, models.EventTypeJobRetried, models.EventLevelWarning,
			fmt.Sprintf("Job %s failed on attempt %d, retrying: %s", job.Type, job.Attempts, jobErr.Error()), nil)

		log.Warn().
			Err(jobErr).
			Str("job_id", job.ID.String()).
			Str("type", string(job.Type)).
			Int("attempt", job.Attempts).
			Dur("retry_in", delay).
			Msg("Job failed, retrying")
		return
	}

	if err := w.store.FailJob(ctx, job, jobErr.Error()); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to mark job failed")
		return
	}

	if job.HasUser() {
		if err := w.store.SetUserSyncError(ctx, job.Payload.UserID, jobErr.Error()); err != nil {
			log.Error().Err(err).
				Str("user_id", job.Payload.UserID.String()).
				Msg("Failed to record user sync error")
		}
	}

	w.logEvent(ctx, job, models.EventTypeJobFailed, models.EventLevelError,
		fmt.Sprintf("Job %s failed permanently: %s", job.Type, jobErr.Error()), nil)

	log.Error().
		Err(jobErr).
		Str("job_id", job.ID.String()).
		Str("type", string(job.Type)).
		Int("attempts", job.Attempts).
		Msg("Job failed permanently")
}

// createAccount provisions a new hotspot account
func (w *Worker) createAccount(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	profile := p.Profile
	if profile == "" {
		profile = "default"
	}

	if err := w.device.AddAccount(ctx, p.WsnID, p.Password, profile, p.UserID.String()); err != nil {
		return nil, err
	}

	err := w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterPassword: &p.Password,
		RouterProfile:  &profile,
	})
	return nil, err
}

// updatePassword pushes a new hotspot password
func (w *Worker) updatePassword(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	if err := w.device.SetPassword(ctx, p.WsnID, p.Password); err != nil {
		return nil, err
	}

	err := w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterPassword: &p.Password,
	})
	return nil, err
}

// updateProfile moves the account to a different service profile
func (w *Worker) updateProfile(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	if err := w.device.SetProfile(ctx, p.WsnID, p.Profile); err != nil {
		return nil, err
	}

	err := w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterProfile: &p.Profile,
	})
	return nil, err
}

// enableAccount restores hotspot access
func (w *Worker) enableAccount(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	if err := w.device.EnableAccount(ctx, p.WsnID); err != nil {
		return nil, err
	}

	disabled := false
	err := w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterDisabled: &disabled,
	})
	return nil, err
}

// disableAccount suspends hotspot access
func (w *Worker) disableAccount(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	if err := w.device.DisableAccount(ctx, p.WsnID); err != nil {
		return nil, err
	}

	disabled := true
	err := w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterDisabled: &disabled,
	})
	return nil, err
}

// ensureAccount is the idempotent repair path: it creates the account
// only when absent, healing users whose provisioning failed earlier
func (w *Worker) ensureAccount(ctx context.Context, p models.JobPayload) (models.Variables, error) {
	exists, err := w.device.AccountExists(ctx, p.WsnID)
	if err != nil {
		return nil, err
	}

	result := models.Variables{"created": !exists}

	if exists {
		err = w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{})
		return result, err
	}

	profile := p.Profile
	if profile == "" {
		profile = "default"
	}

	if err := w.device.AddAccount(ctx, p.WsnID, p.Password, profile, p.UserID.String()); err != nil {
		return nil, err
	}

	err = w.store.UpdateUserSyncState(ctx, p.UserID, models.SyncStateUpdate{
		RouterPassword: &p.Password,
		RouterProfile:  &profile,
	})
	return result, err
}

// logEvent writes a provisioning event; failures are logged, never fatal
func (w *Worker) logEvent(ctx context.Context, job *models.Job, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	event := &models.EventLog{
		JobID:       &job.ID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	}
	if job.HasUser() {
		userID := job.Payload.UserID
		event.UserID = &userID
	}

	if err := w.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}
}
