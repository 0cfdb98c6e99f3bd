package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/policy"
	"github.com/lendcore/emi-engine/internal/repository"
	"github.com/lendcore/emi-engine/pkg/utils"
)

const reconcileBatchSize = 500

// Reconciler is the safety net behind the at-least-once guarantee: a periodic
// sweep that finds non-terminal installments with no pending job (a job row
// lost to a crash between completion and enqueue, for example) and re-arms
// the deadline they are waiting on.
type Reconciler struct {
	installments repository.InstallmentRepository
	jobs         repository.JobRepository
	rules        policy.Rules
	log          *logrus.Logger

	now func() time.Time
}

func NewReconciler(
	installments repository.InstallmentRepository,
	jobs repository.JobRepository,
	rules policy.Rules,
	log *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		installments: installments,
		jobs:         jobs,
		rules:        rules,
		log:          log,
		now:          time.Now,
	}
}

// Sweep re-enqueues the next deadline for every stalled installment. Past
// deadlines are armed at the sweep time so they fire on the next poll.
func (r *Reconciler) Sweep(ctx context.Context) error {
	stalled, err := r.installments.ListStalled(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}

	now := r.now()
	rearmed := 0

	for _, inst := range stalled {
		kind, fireAt := r.nextDeadline(inst)
		if utils.IsDateOverdue(fireAt, now) {
			fireAt = now
		}

		if err := r.jobs.Enqueue(ctx, domain.NewScheduledJob(inst.Key(), kind, fireAt)); err != nil {
			r.log.WithError(err).WithField("installment", inst.Key().String()).Error("failed to re-arm installment")
			continue
		}
		rearmed++
	}

	if rearmed > 0 {
		r.log.WithField("rearmed", rearmed).Info("reconciliation sweep re-armed installments")
	}

	return nil
}

func (r *Reconciler) nextDeadline(inst *domain.Installment) (kind string, fireAt time.Time) {
	assessment := policy.ComputeFine(inst, r.rules)

	switch inst.State {
	case domain.InstallmentStateScheduled:
		return domain.JobKindDueCheck, inst.DueAt
	case domain.InstallmentStateDue:
		return domain.JobKindFineEscalationCheck, assessment.FineWindowEnd
	default: // overdue
		return domain.JobKindFineEscalationCheck, policy.ComputeEscalationDeadline(assessment.FineWindowEnd, r.rules)
	}
}
