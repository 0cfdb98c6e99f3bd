// Package scheduler runs the durable timer service. Deadlines live as rows in
// scheduled_jobs; any worker process may claim and execute due rows, so
// restarts lose nothing and deadlines missed while a process was down fire on
// the next poll.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/repository"
	"github.com/lendcore/emi-engine/internal/service"
)

// Guard suppresses duplicate firings of a claimed job across workers.
// cache.TokenStore satisfies it.
type Guard interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Dispatcher polls for due jobs, claims them transactionally and drives the
// state machine with at-least-once semantics: a job row is deleted only after
// its handler returns success, and any failure releases the row for a later
// attempt.
type Dispatcher struct {
	jobs     repository.JobRepository
	machine  *service.StateMachine
	guard    Guard
	log      *logrus.Logger
	workerID string

	pollInterval time.Duration
	claimLease   time.Duration
	retryDelay   time.Duration
	workerCount  int

	now func() time.Time
}

func NewDispatcher(
	jobs repository.JobRepository,
	machine *service.StateMachine,
	guard Guard,
	workerID string,
	pollInterval, claimLease, retryDelay time.Duration,
	workerCount int,
	log *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		jobs:         jobs,
		machine:      machine,
		guard:        guard,
		log:          log,
		workerID:     workerID,
		pollInterval: pollInterval,
		claimLease:   claimLease,
		retryDelay:   retryDelay,
		workerCount:  workerCount,
		now:          time.Now,
	}
}

// Run polls until the context is cancelled, then drains in-flight jobs.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.WithField("worker_id", d.workerID).Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, d.workerCount)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Poll(ctx, sem, &wg)
		}
	}
}

// Poll claims one batch of due jobs and hands them to the worker pool. Job
// execution blocks only its own worker slot; other jobs keep firing.
func (d *Dispatcher) Poll(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	jobs, err := d.jobs.ClaimDue(ctx, d.workerID, d.now(), d.claimLease, d.workerCount*2)
	if err != nil {
		d.log.WithError(err).Error("failed to claim due jobs")
		return
	}

	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(job *domain.ScheduledJob) {
			defer wg.Done()
			defer func() { <-sem }()
			d.execute(ctx, job)
		}(job)
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *domain.ScheduledJob) {
	logger := d.log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"job_kind":    job.Kind,
		"installment": job.Key().String(),
		"attempts":    job.Attempts,
	})

	// Best-effort duplicate-firing suppressor. The DB claim already excludes
	// other workers; this closes the window where a lease expires while the
	// original worker is still executing. Guard failures are ignored, the
	// CAS transitions stay authoritative.
	guardKey := "job:" + job.ID.String()
	if d.guard != nil {
		won, err := d.guard.Acquire(ctx, guardKey, d.workerID, d.claimLease)
		if err == nil && !won {
			logger.Debug("job already in flight elsewhere")
			return
		}
	}

	if err := d.handle(ctx, job); err != nil {
		logger.WithError(err).Warn("job failed, rescheduling")
		if relErr := d.jobs.Release(ctx, job.ID, d.now().Add(d.retryDelay)); relErr != nil {
			logger.WithError(relErr).Error("failed to release job")
		}
		// Drop the guard with the release: the re-claim must fire after
		// retryDelay, not after the guard TTL runs out.
		if d.guard != nil {
			if delErr := d.guard.Delete(ctx, guardKey); delErr != nil {
				logger.WithError(delErr).Warn("failed to drop dispatch guard")
			}
		}
		return
	}

	if err := d.jobs.Complete(ctx, job.ID); err != nil {
		// The row stays claimed until the lease expires, then fires again;
		// the transition handlers tolerate the duplicate.
		logger.WithError(err).Error("failed to complete job")
		return
	}

	logger.Debug("job completed")
}

func (d *Dispatcher) handle(ctx context.Context, job *domain.ScheduledJob) error {
	key := job.Key()

	switch job.Kind {
	case domain.JobKindReminder:
		return d.machine.HandleReminder(ctx, key)
	case domain.JobKindDueCheck:
		return d.machine.HandleDueCheck(ctx, key)
	case domain.JobKindFineEscalationCheck:
		return d.machine.HandleFineEscalationCheck(ctx, key)
	default:
		d.log.WithField("job_kind", job.Kind).Error("unknown job kind, dropping")
		return nil
	}
}
