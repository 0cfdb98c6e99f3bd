package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/config"
	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/repository"
	customError "github.com/lendcore/emi-engine/pkg/errors"
	"github.com/lendcore/emi-engine/pkg/utils"
)

// ScheduleBuilder generates the installment schedule for an approved loan and
// arms the durable timers that drive it. Invoked once by the loan-approval
// workflow; re-invocation returns the existing schedule without enqueueing
// anything twice.
type ScheduleBuilder struct {
	loans        repository.LoanRepository
	installments repository.InstallmentRepository
	jobs         repository.JobRepository
	cfg          *config.Config
	log          *logrus.Logger

	now func() time.Time
}

func NewScheduleBuilder(
	loans repository.LoanRepository,
	installments repository.InstallmentRepository,
	jobs repository.JobRepository,
	cfg *config.Config,
	log *logrus.Logger,
) *ScheduleBuilder {
	return &ScheduleBuilder{
		loans:        loans,
		installments: installments,
		jobs:         jobs,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// BuildSchedule creates one installment per term period. Due dates increase
// monotonically from the approval date; each amount is rounded to minor units
// with the residual assigned to the final installment so the schedule sums
// exactly to the total payable.
func (b *ScheduleBuilder) BuildSchedule(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	loan, err := b.loans.GetByLoanID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapLoanNotFound(loanID)
		}
		return nil, customError.WrapDatabaseError(err)
	}

	if !loan.IsApproved() {
		return nil, customError.WrapInvalidLoanState(loanID, "schedule requires an approved loan")
	}
	if loan.TermMonths <= 0 {
		return nil, customError.WrapInvalidLoanState(loanID, "term must be positive")
	}

	existing, err := b.installments.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if len(existing) > 0 {
		b.log.WithField("loan_id", loanID).Info("schedule already built")
		return existing, nil
	}

	total := loan.TotalPayable()
	amounts := utils.SplitAmount(total, loan.TermMonths)

	installments := make([]*domain.Installment, 0, loan.TermMonths)
	for i := 1; i <= loan.TermMonths; i++ {
		installments = append(installments, &domain.Installment{
			ID:        uuid.New(),
			LoanID:    loanID,
			EmiNumber: i,
			DueAt:     utils.DueDate(*loan.ApprovedAt, i, b.cfg.Billing.EMIPeriodMonths),
			AmountDue: amounts[i-1],
			State:     domain.InstallmentStateScheduled,
			Version:   1,
		})
	}

	if err = b.installments.CreateBatch(ctx, installments); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	// One reminder ahead of the due date and one due check at the due date
	// per installment. Reminders whose lead time already passed fire on the
	// next dispatcher poll.
	now := b.now()
	lead := b.cfg.GetReminderLead()
	for _, inst := range installments {
		remindAt := inst.DueAt.Add(-lead)
		if utils.IsDateOverdue(remindAt, now) {
			remindAt = now
		}

		if err = b.jobs.Enqueue(ctx, domain.NewScheduledJob(inst.Key(), domain.JobKindReminder, remindAt)); err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		if err = b.jobs.Enqueue(ctx, domain.NewScheduledJob(inst.Key(), domain.JobKindDueCheck, inst.DueAt)); err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
	}

	b.log.WithFields(logrus.Fields{
		"loan_id":      loanID,
		"installments": len(installments),
		"total":        total.String(),
	}).Info("schedule built")

	return installments, nil
}
