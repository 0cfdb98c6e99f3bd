package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/ledger"
	"github.com/lendcore/emi-engine/internal/notifier"
	"github.com/lendcore/emi-engine/internal/policy"
	"github.com/lendcore/emi-engine/internal/repository"
	customError "github.com/lendcore/emi-engine/pkg/errors"
)

// StateMachine owns every installment state transition. All writes are
// compare-and-swap updates keyed on (loanID, emiNumber), so a scheduled check
// and an inbound payment webhook can race freely: the loser observes zero
// rows affected and no-ops. Every transition re-reads the payment ledger
// before any externally visible side effect.
type StateMachine struct {
	loans        repository.LoanRepository
	installments repository.InstallmentRepository
	jobs         repository.JobRepository
	ledger       ledger.Query
	notifier     notifier.Notifier
	rules        policy.Rules
	adminEmail   string
	log          *logrus.Logger

	now func() time.Time
}

func NewStateMachine(
	loans repository.LoanRepository,
	installments repository.InstallmentRepository,
	jobs repository.JobRepository,
	ledgerQuery ledger.Query,
	n notifier.Notifier,
	rules policy.Rules,
	adminEmail string,
	log *logrus.Logger,
) *StateMachine {
	return &StateMachine{
		loans:        loans,
		installments: installments,
		jobs:         jobs,
		ledger:       ledgerQuery,
		notifier:     n,
		rules:        rules,
		adminEmail:   adminEmail,
		log:          log,
		now:          time.Now,
	}
}

// HandleReminder sends the upcoming-payment reminder unless the installment
// is already settled. No state change happens here. The due-day notice in
// HandleDueCheck shares the ReminderDue kind, so whichever fires first is the
// one reminder the borrower receives for this installment.
func (m *StateMachine) HandleReminder(ctx context.Context, key domain.InstallmentKey) error {
	inst, err := m.getInstallment(ctx, key)
	if err != nil {
		return err
	}
	if inst.IsPaid() {
		return nil
	}

	paid, err := m.ledger.HasPaid(ctx, key.LoanID, key.EmiNumber)
	if err != nil {
		return err
	}
	if paid {
		return m.markPaid(ctx, inst)
	}

	m.notify(ctx, inst, domain.NotifyReminderDue, m.reminderData(inst))
	return nil
}

// HandleDueCheck runs at the due date: settle if the ledger says paid,
// otherwise move scheduled → due and arm the fine check at the end of the
// fine window. The winner of the CAS is the only caller that enqueues the
// fine check, so duplicate timer firings cannot double-arm it.
func (m *StateMachine) HandleDueCheck(ctx context.Context, key domain.InstallmentKey) error {
	inst, err := m.getInstallment(ctx, key)
	if err != nil {
		return err
	}
	if inst.IsPaid() {
		return nil
	}

	paid, err := m.ledger.HasPaid(ctx, key.LoanID, key.EmiNumber)
	if err != nil {
		return err
	}
	if paid {
		return m.markPaid(ctx, inst)
	}

	won, err := m.installments.MarkDue(ctx, key)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if !won {
		m.log.WithField("installment", key.String()).Debug("due transition already applied")
		return nil
	}

	m.notify(ctx, inst, domain.NotifyReminderDue, m.reminderData(inst))

	assessment := policy.ComputeFine(inst, m.rules)
	job := domain.NewScheduledJob(key, domain.JobKindFineEscalationCheck, assessment.FineWindowEnd)
	if err = m.jobs.Enqueue(ctx, job); err != nil {
		return customError.WrapDatabaseError(err)
	}

	return nil
}

// HandleFineEscalationCheck serves both phases of the overdue cycle,
// dispatching on the installment's current state: due means the fine window
// just closed, overdue means the escalation deadline passed.
func (m *StateMachine) HandleFineEscalationCheck(ctx context.Context, key domain.InstallmentKey) error {
	inst, err := m.getInstallment(ctx, key)
	if err != nil {
		return err
	}

	switch inst.State {
	case domain.InstallmentStatePaid, domain.InstallmentStateEscalated:
		return nil
	case domain.InstallmentStateScheduled, domain.InstallmentStateDue:
		return m.applyFine(ctx, inst)
	case domain.InstallmentStateOverdue:
		return m.escalate(ctx, inst)
	default:
		return fmt.Errorf("unknown installment state %q", inst.State)
	}
}

func (m *StateMachine) applyFine(ctx context.Context, inst *domain.Installment) error {
	key := inst.Key()

	// The check and the payment webhook are not atomic with each other, so
	// always re-verify against the ledger before a fine becomes visible.
	paid, err := m.ledger.HasPaid(ctx, key.LoanID, key.EmiNumber)
	if err != nil {
		return err
	}
	if paid {
		return m.markPaid(ctx, inst)
	}

	// A straggling fine check can arrive while the installment is still
	// scheduled (missed due check). Promote it first so the fine CAS has its
	// expected source state.
	if inst.State == domain.InstallmentStateScheduled {
		if _, err = m.installments.MarkDue(ctx, key); err != nil {
			return customError.WrapDatabaseError(err)
		}
	}

	assessment := policy.ComputeFine(inst, m.rules)
	now := m.now()

	won, err := m.installments.ApplyFine(ctx, key, assessment.FineAmount, now)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if !won {
		m.log.WithField("installment", key.String()).Debug("fine already applied")
		return nil
	}

	if err = m.loans.SetOverdue(ctx, key.LoanID, true); err != nil {
		m.log.WithError(err).WithField("loan_id", key.LoanID).Error("failed to flag loan overdue")
	}

	loan := m.loanFor(ctx, key.LoanID)
	data := m.reminderData(inst)
	data["fine_amount"] = assessment.FineAmount.String()
	data["fine_applied_at"] = now.Format(time.RFC3339)
	data["amount_due"] = inst.AmountDue.Add(assessment.FineAmount).String()
	if loan != nil {
		data["user_id"] = loan.UserID
	}

	m.notify(ctx, inst, domain.NotifyFineApplied, data)
	m.notifyAdmin(ctx, inst, domain.NotifyAdminAlertFirst, data)

	deadline := policy.ComputeEscalationDeadline(assessment.FineWindowEnd, m.rules)
	job := domain.NewScheduledJob(key, domain.JobKindFineEscalationCheck, deadline)
	if err = m.jobs.Enqueue(ctx, job); err != nil {
		return customError.WrapDatabaseError(err)
	}

	return nil
}

func (m *StateMachine) escalate(ctx context.Context, inst *domain.Installment) error {
	key := inst.Key()

	paid, err := m.ledger.HasPaid(ctx, key.LoanID, key.EmiNumber)
	if err != nil {
		return err
	}
	if paid {
		return m.markPaid(ctx, inst)
	}

	now := m.now()
	won, err := m.installments.MarkEscalated(ctx, key, now)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if !won {
		m.log.WithField("installment", key.String()).Debug("escalation already applied")
		return nil
	}

	data := m.reminderData(inst)
	if inst.FineAppliedAt != nil {
		data["overdue_for"] = now.Sub(*inst.FineAppliedAt).Round(time.Minute).String()
	}
	if loan := m.loanFor(ctx, key.LoanID); loan != nil {
		data["user_id"] = loan.UserID
	}

	// Terminal for automated action: no further timers, manual follow-up.
	m.notifyAdmin(ctx, inst, domain.NotifyAdminAlertEscalated, data)
	return nil
}

// OnPaymentConfirmed is the webhook-driven entry point. The ledger is
// authoritative: the transition only proceeds once a payment record exists.
func (m *StateMachine) OnPaymentConfirmed(ctx context.Context, loanID string, emiNumber int) error {
	key := domain.InstallmentKey{LoanID: loanID, EmiNumber: emiNumber}

	inst, err := m.getInstallment(ctx, key)
	if err != nil {
		return err
	}
	if inst.IsPaid() {
		return nil
	}

	paid, err := m.ledger.HasPaid(ctx, loanID, emiNumber)
	if err != nil {
		return err
	}
	if !paid {
		m.log.WithField("installment", key.String()).Warn("payment confirmation without ledger record")
		return nil
	}

	return m.markPaid(ctx, inst)
}

// GetInstallmentStatus is the read model for dashboards.
func (m *StateMachine) GetInstallmentStatus(ctx context.Context, loanID string, emiNumber int) (string, error) {
	inst, err := m.getInstallment(ctx, domain.InstallmentKey{LoanID: loanID, EmiNumber: emiNumber})
	if err != nil {
		return "", err
	}
	return inst.State, nil
}

// markPaid settles the installment from whatever non-terminal state it is in.
// Losing the CAS means another path already settled it; pending jobs are
// removed either way the winner goes, and in-flight jobs that fire afterwards
// no-op on their own CAS.
func (m *StateMachine) markPaid(ctx context.Context, inst *domain.Installment) error {
	key := inst.Key()

	won, err := m.installments.MarkPaid(ctx, key, m.now())
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if !won {
		m.log.WithField("installment", key.String()).Debug("already paid")
		return nil
	}

	if err = m.jobs.DeleteForInstallment(ctx, key); err != nil {
		// The reconciliation sweep and per-transition CAS guards cover any
		// job rows left behind here.
		m.log.WithError(err).WithField("installment", key.String()).Error("failed to cancel pending jobs")
	}

	stillOverdue, err := m.installments.HasUnpaidOverdue(ctx, key.LoanID)
	if err != nil {
		m.log.WithError(err).WithField("loan_id", key.LoanID).Error("failed to check remaining overdue installments")
	} else if !stillOverdue {
		if err = m.loans.SetOverdue(ctx, key.LoanID, false); err != nil {
			m.log.WithError(err).WithField("loan_id", key.LoanID).Error("failed to clear loan overdue flag")
		}
	}

	m.notify(ctx, inst, domain.NotifyPaymentConfirmed, m.reminderData(inst))

	m.log.WithField("installment", key.String()).Info("installment paid")
	return nil
}

// notify sends a borrower-facing notification at most once per kind. The
// idempotency record is written before dispatch; a failed send is logged and
// left to the notifier's retry, never blocking the transition.
func (m *StateMachine) notify(ctx context.Context, inst *domain.Installment, kind string, data map[string]string) {
	m.send(ctx, inst, kind, m.recipientFor(ctx, inst), data)
}

func (m *StateMachine) notifyAdmin(ctx context.Context, inst *domain.Installment, kind string, data map[string]string) {
	m.send(ctx, inst, kind, m.adminEmail, data)
}

func (m *StateMachine) send(ctx context.Context, inst *domain.Installment, kind, recipient string, data map[string]string) {
	first, err := m.installments.MarkNotified(ctx, inst.Key(), kind)
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"installment": inst.Key().String(),
			"kind":        kind,
		}).Error("failed to record notification, skipping send")
		return
	}
	if !first {
		return
	}

	if err = m.notifier.Send(ctx, kind, recipient, data); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"installment": inst.Key().String(),
			"kind":        kind,
		}).Warn("notification send failed")
	}
}

func (m *StateMachine) getInstallment(ctx context.Context, key domain.InstallmentKey) (*domain.Installment, error) {
	inst, err := m.installments.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapInstallmentNotFound(key.LoanID, key.EmiNumber)
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return inst, nil
}

func (m *StateMachine) loanFor(ctx context.Context, loanID string) *domain.Loan {
	loan, err := m.loans.GetByLoanID(ctx, loanID)
	if err != nil {
		m.log.WithError(err).WithField("loan_id", loanID).Error("failed to load loan")
		return nil
	}
	return loan
}

func (m *StateMachine) recipientFor(ctx context.Context, inst *domain.Installment) string {
	if loan := m.loanFor(ctx, inst.LoanID); loan != nil {
		return loan.BorrowerEmail
	}
	return ""
}

func (m *StateMachine) reminderData(inst *domain.Installment) map[string]string {
	return map[string]string{
		"loan_id":    inst.LoanID,
		"emi_number": fmt.Sprintf("%d", inst.EmiNumber),
		"amount_due": inst.AmountDue.String(),
		"due_at":     inst.DueAt.Format("2006-01-02"),
	}
}
