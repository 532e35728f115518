package queue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// SubjectJobWake tells the provisioner a job just became due
const SubjectJobWake = "provisioning.jobs.wake"

// Publisher publishes fire-and-forget messages. Satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Store is the subset of storage the queue needs
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	HasPendingJob(ctx context.Context, jobType models.JobType) (bool, error)
}

// Queue persists provisioning jobs and wakes the worker. Enqueue
// succeeds or fails on database errors only; the device being
// unreachable never blocks a producer.
type Queue struct {
	store       Store
	nc          Publisher
	maxAttempts int
}

// New creates a job queue
func New(store Store, nc Publisher, maxAttempts int) *Queue {
	return &Queue{store: store, nc: nc, maxAttempts: maxAttempts}
}

// Enqueue persists a job and publishes a wake signal. A lost wake only
// costs one worker poll interval, so the publish error is not fatal.
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload) (*models.Job, error) {
	job := &models.Job{
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: q.maxAttempts,
	}

	if err := q.store.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", jobType, err)
	}

	if q.nc != nil {
		if err := q.nc.Publish(SubjectJobWake, []byte(job.ID.String())); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to publish job wake")
		}
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", string(jobType)).
		Str("wsn_id", payload.WsnID).
		Msg("Job enqueued")

	return job, nil
}

// UserRegistered provisions a hotspot account for a new subscriber
func (q *Queue) UserRegistered(ctx context.Context, user *models.User, password, profile string) error {
	_, err := q.Enqueue(ctx, models.JobCreateAccount, models.JobPayload{
		UserID:   user.ID,
		WsnID:    user.WsnID,
		Password: password,
		Profile:  profile,
	})
	return err
}

// PaymentConfirmed heals the account if provisioning previously failed,
// moves it to the purchased plan's profile and re-enables access. Every
// successful payment enqueues the same sequence so a paid subscriber
// always ends up provisioned and enabled.
func (q *Queue) PaymentConfirmed(ctx context.Context, user *models.User, profile string) error {
	payload := models.JobPayload{
		UserID:   user.ID,
		WsnID:    user.WsnID,
		Password: user.RouterPassword,
		Profile:  defaultProfile(profile, user.RouterProfile),
	}

	if _, err := q.Enqueue(ctx, models.JobEnsureAccount, payload); err != nil {
		return err
	}

	if profile != "" && profile != user.RouterProfile {
		if _, err := q.Enqueue(ctx, models.JobUpdateProfile, models.JobPayload{
			UserID:  user.ID,
			WsnID:   user.WsnID,
			Profile: profile,
		}); err != nil {
			return err
		}
	}

	_, err := q.Enqueue(ctx, models.JobEnableAccount, models.JobPayload{
		UserID: user.ID,
		WsnID:  user.WsnID,
	})
	return err
}

// PasswordChanged pushes a new hotspot password, creating the account
// first if it was never provisioned
func (q *Queue) PasswordChanged(ctx context.Context, user *models.User, newPassword string) error {
	if _, err := q.Enqueue(ctx, models.JobEnsureAccount, models.JobPayload{
		UserID:   user.ID,
		WsnID:    user.WsnID,
		Password: newPassword,
		Profile:  defaultProfile(user.RouterProfile, ""),
	}); err != nil {
		return err
	}

	_, err := q.Enqueue(ctx, models.JobUpdatePassword, models.JobPayload{
		UserID:   user.ID,
		WsnID:    user.WsnID,
		Password: newPassword,
	})
	return err
}

// UserBanned suspends the user's hotspot access
func (q *Queue) UserBanned(ctx context.Context, user *models.User) error {
	_, err := q.Enqueue(ctx, models.JobDisableAccount, models.JobPayload{
		UserID: user.ID,
		WsnID:  user.WsnID,
	})
	return err
}

// UserUnbanned restores the user's hotspot access
func (q *Queue) UserUnbanned(ctx context.Context, user *models.User) error {
	_, err := q.Enqueue(ctx, models.JobEnableAccount, models.JobPayload{
		UserID: user.ID,
		WsnID:  user.WsnID,
	})
	return err
}

// FullSync enqueues a reconciliation pass unless one is already
// pending, so passes do not pile up while the router is down
func (q *Queue) FullSync(ctx context.Context) error {
	pending, err := q.store.HasPendingJob(ctx, models.JobFullSync)
	if err != nil {
		return fmt.Errorf("check pending full-sync: %w", err)
	}
	if pending {
		log.Debug().Msg("Full-sync already pending, skipping enqueue")
		return nil
	}

	_, err = q.Enqueue(ctx, models.JobFullSync, models.JobPayload{})
	return err
}

func defaultProfile(profile, fallback string) string {
	if profile != "" {
		return profile
	}
	if fallback != "" {
		return fallback
	}
	return "default"
}
