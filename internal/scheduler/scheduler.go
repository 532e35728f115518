package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Enqueuer enqueues a full-sync job. Satisfied by *queue.Queue.
type Enqueuer interface {
	FullSync(ctx context.Context) error
}

// Scheduler enqueues a reconciliation pass on a fixed interval. The
// pass runs as an ordinary job so it gets the same retry, backoff and
// failure isolation as every other provisioning job.
type Scheduler struct {
	queue    Enqueuer
	interval time.Duration
}

// New creates a full-sync scheduler
func New(queue Enqueuer, interval time.Duration) *Scheduler {
	return &Scheduler{queue: queue, interval: interval}
}

// Run ticks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Full-sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Full-sync scheduler stopped")
			return
		case <-ticker.C:
			if err := s.queue.FullSync(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to enqueue full sync")
			}
		}
	}
}
