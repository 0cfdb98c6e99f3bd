package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lendcore/emi-engine/internal/domain"
	"github.com/lendcore/emi-engine/internal/policy"
	customError "github.com/lendcore/emi-engine/pkg/errors"
	"github.com/lendcore/emi-engine/tests/mocks"
)

type machineFixture struct {
	loans        *mocks.MockLoanRepository
	installments *mocks.MockInstallmentRepository
	jobs         *mocks.MockJobRepository
	ledger       *mocks.MockLedgerQuery
	notifier     *mocks.MockNotifier
	machine      *StateMachine
	now          time.Time
}

func newMachineFixture() *machineFixture {
	f := &machineFixture{
		loans:        &mocks.MockLoanRepository{},
		installments: &mocks.MockInstallmentRepository{},
		jobs:         &mocks.MockJobRepository{},
		ledger:       &mocks.MockLedgerQuery{},
		notifier:     &mocks.MockNotifier{},
		now:          time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	rules := policy.Rules{
		FineAmount:      decimal.NewFromInt(25),
		FineGrace:       30 * time.Minute,
		EscalationGrace: 30 * time.Minute,
	}

	f.machine = NewStateMachine(f.loans, f.installments, f.jobs, f.ledger, f.notifier, rules, "admin@example.com", testLogger())
	f.machine.now = func() time.Time { return f.now }

	return f
}

func (f *machineFixture) stubLoan() {
	f.loans.On("GetByLoanID", mock.Anything, "LOAN123").Return(&domain.Loan{
		LoanID:        "LOAN123",
		UserID:        "USER1",
		BorrowerEmail: "borrower@example.com",
	}, nil)
}

func dueInstallment(state string) *domain.Installment {
	return &domain.Installment{
		LoanID:    "LOAN123",
		EmiNumber: 1,
		DueAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		AmountDue: decimal.NewFromInt(100),
		State:     state,
		Version:   1,
	}
}

var testKey = domain.InstallmentKey{LoanID: "LOAN123", EmiNumber: 1}

func TestHandleDueCheck_UnpaidMovesToDue(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateScheduled)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("MarkDue", mock.Anything, testKey).Return(true, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyReminderDue).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyReminderDue, "borrower@example.com", mock.Anything).Return(nil)
	f.jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(job *domain.ScheduledJob) bool {
		// Fine check armed at dueAt + fine grace.
		return job.Kind == domain.JobKindFineEscalationCheck &&
			job.FireAt.Equal(inst.DueAt.Add(30*time.Minute))
	})).Return(nil)

	err := f.machine.HandleDueCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.installments.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestReminderThenDueCheck_SingleReminderSend(t *testing.T) {
	// The advance reminder and the due-day notice share one notification
	// kind, so the idempotency ledger admits a single send across both.
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateScheduled)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyReminderDue).Return(true, nil).Once()
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyReminderDue).Return(false, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyReminderDue, "borrower@example.com", mock.Anything).Return(nil)
	f.installments.On("MarkDue", mock.Anything, testKey).Return(true, nil)
	f.jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	assert.NoError(t, f.machine.HandleReminder(context.Background(), testKey))
	assert.NoError(t, f.machine.HandleDueCheck(context.Background(), testKey))

	f.notifier.AssertNumberOfCalls(t, "Send", 1)
}

func TestHandleDueCheck_LostRaceEnqueuesNothing(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStateScheduled)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("MarkDue", mock.Anything, testKey).Return(false, nil)

	err := f.machine.HandleDueCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDueCheck_PaidInstallmentIsTerminal(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStatePaid)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)

	err := f.machine.HandleDueCheck(context.Background(), testKey)

	assert.NoError(t, err)
	// State never regresses once paid: no ledger check, no transition.
	f.ledger.AssertNotCalled(t, "HasPaid", mock.Anything, mock.Anything, mock.Anything)
	f.installments.AssertNotCalled(t, "MarkDue", mock.Anything, mock.Anything)
}

func TestFineCheck_UnpaidAppliesFineOnce(t *testing.T) {
	// Installment due at T, unpaid at T+30min: state becomes overdue, the
	// fine is applied, and exactly one first admin alert goes out.
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.now = inst.DueAt.Add(30 * time.Minute)

	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("ApplyFine", mock.Anything, testKey, decimal.NewFromInt(25), f.now).Return(true, nil)
	f.loans.On("SetOverdue", mock.Anything, "LOAN123", true).Return(nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyFineApplied).Return(true, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyAdminAlertFirst).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyFineApplied, "borrower@example.com", mock.Anything).Return(nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyAdminAlertFirst, "admin@example.com", mock.Anything).Return(nil)
	f.jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(job *domain.ScheduledJob) bool {
		// Escalation re-check armed one grace window past the fine window.
		return job.Kind == domain.JobKindFineEscalationCheck &&
			job.FireAt.Equal(inst.DueAt.Add(time.Hour))
	})).Return(nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.installments.AssertExpectations(t)
	f.notifier.AssertNumberOfCalls(t, "Send", 2)
}

func TestFineCheck_PaymentLandedBeforeCheck(t *testing.T) {
	// A payment at T+10min exists before the T+30min check fires: the
	// installment settles and no fine is ever applied.
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(true, nil)
	f.installments.On("MarkPaid", mock.Anything, testKey, mock.Anything).Return(true, nil)
	f.jobs.On("DeleteForInstallment", mock.Anything, testKey).Return(nil)
	f.installments.On("HasUnpaidOverdue", mock.Anything, "LOAN123").Return(false, nil)
	f.loans.On("SetOverdue", mock.Anything, "LOAN123", false).Return(nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyPaymentConfirmed).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyPaymentConfirmed, "borrower@example.com", mock.Anything).Return(nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.installments.AssertNotCalled(t, "ApplyFine", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, domain.NotifyFineApplied, mock.Anything, mock.Anything)
}

func TestFineCheck_DuplicateInvocationIsNoOp(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	// Another worker already applied the fine.
	f.installments.On("ApplyFine", mock.Anything, testKey, mock.Anything, mock.Anything).Return(false, nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.loans.AssertNotCalled(t, "SetOverdue", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestEscalation_UnpaidSendsSingleAdminAlert(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateOverdue)
	fineAt := inst.DueAt.Add(30 * time.Minute)
	inst.FineAppliedAt = &fineAt
	f.now = inst.DueAt.Add(time.Hour)

	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("MarkEscalated", mock.Anything, testKey, f.now).Return(true, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyAdminAlertEscalated).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyAdminAlertEscalated, "admin@example.com", mock.MatchedBy(func(data map[string]string) bool {
		return data["overdue_for"] == "30m0s"
	})).Return(nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	// Escalated is terminal for automated action: nothing further is armed.
	f.jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestEscalation_AlreadyEscalatedIsNoOp(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStateEscalated)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.ledger.AssertNotCalled(t, "HasPaid", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEscalation_PaidMeanwhileSettles(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateOverdue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(true, nil)
	f.installments.On("MarkPaid", mock.Anything, testKey, mock.Anything).Return(true, nil)
	f.jobs.On("DeleteForInstallment", mock.Anything, testKey).Return(nil)
	f.installments.On("HasUnpaidOverdue", mock.Anything, "LOAN123").Return(false, nil)
	f.loans.On("SetOverdue", mock.Anything, "LOAN123", false).Return(nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyPaymentConfirmed).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyPaymentConfirmed, "borrower@example.com", mock.Anything).Return(nil)

	err := f.machine.HandleFineEscalationCheck(context.Background(), testKey)

	assert.NoError(t, err)
	f.installments.AssertNotCalled(t, "MarkEscalated", mock.Anything, mock.Anything, mock.Anything)
}

func TestOnPaymentConfirmed_SettlesAndCancelsJobs(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateOverdue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(true, nil)
	f.installments.On("MarkPaid", mock.Anything, testKey, mock.Anything).Return(true, nil)
	f.jobs.On("DeleteForInstallment", mock.Anything, testKey).Return(nil)
	f.installments.On("HasUnpaidOverdue", mock.Anything, "LOAN123").Return(false, nil)
	f.loans.On("SetOverdue", mock.Anything, "LOAN123", false).Return(nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyPaymentConfirmed).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyPaymentConfirmed, "borrower@example.com", mock.Anything).Return(nil)

	err := f.machine.OnPaymentConfirmed(context.Background(), "LOAN123", 1)

	assert.NoError(t, err)
	f.jobs.AssertCalled(t, "DeleteForInstallment", mock.Anything, testKey)
	f.loans.AssertCalled(t, "SetOverdue", mock.Anything, "LOAN123", false)
}

func TestOnPaymentConfirmed_OtherOverdueKeepsLoanFlag(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(true, nil)
	f.installments.On("MarkPaid", mock.Anything, testKey, mock.Anything).Return(true, nil)
	f.jobs.On("DeleteForInstallment", mock.Anything, testKey).Return(nil)
	f.installments.On("HasUnpaidOverdue", mock.Anything, "LOAN123").Return(true, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyPaymentConfirmed).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyPaymentConfirmed, "borrower@example.com", mock.Anything).Return(nil)

	err := f.machine.OnPaymentConfirmed(context.Background(), "LOAN123", 1)

	assert.NoError(t, err)
	f.loans.AssertNotCalled(t, "SetOverdue", mock.Anything, "LOAN123", false)
}

func TestOnPaymentConfirmed_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStatePaid)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)

	err := f.machine.OnPaymentConfirmed(context.Background(), "LOAN123", 1)

	assert.NoError(t, err)
	f.installments.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOnPaymentConfirmed_NoLedgerRecordDoesNothing(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)

	err := f.machine.OnPaymentConfirmed(context.Background(), "LOAN123", 1)

	assert.NoError(t, err)
	f.installments.AssertNotCalled(t, "MarkPaid", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDueCheck_LedgerUnavailablePropagates(t *testing.T) {
	f := newMachineFixture()

	inst := dueInstallment(domain.InstallmentStateScheduled)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).
		Return(false, customError.WrapLedgerUnavailable(errors.New("connection refused")))

	err := f.machine.HandleDueCheck(context.Background(), testKey)

	assert.ErrorIs(t, err, customError.ErrLedgerUnavailable)
	f.installments.AssertNotCalled(t, "MarkDue", mock.Anything, mock.Anything)
}

func TestNotificationFailureDoesNotBlockTransition(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateScheduled)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)
	f.installments.On("MarkDue", mock.Anything, testKey).Return(true, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, domain.NotifyReminderDue).Return(true, nil)
	f.notifier.On("Send", mock.Anything, domain.NotifyReminderDue, mock.Anything, mock.Anything).
		Return(customError.WrapNotificationFailed(domain.NotifyReminderDue, errors.New("smtp down")))
	f.jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	err := f.machine.HandleDueCheck(context.Background(), testKey)

	// The state change is the source of truth; a failed send never fails it.
	assert.NoError(t, err)
	f.jobs.AssertExpectations(t)
}

func TestConcurrentFineChecks_OnlyOneWins(t *testing.T) {
	f := newMachineFixture()
	f.stubLoan()

	inst := dueInstallment(domain.InstallmentStateDue)
	f.installments.On("Get", mock.Anything, testKey).Return(inst, nil)
	f.ledger.On("HasPaid", mock.Anything, "LOAN123", 1).Return(false, nil)

	// The storage CAS admits exactly one winner regardless of interleaving:
	// the first ApplyFine call reports a win, every later one loses.
	f.installments.On("ApplyFine", mock.Anything, testKey, mock.Anything, mock.Anything).Return(true, nil).Once()
	f.installments.On("ApplyFine", mock.Anything, testKey, mock.Anything, mock.Anything).Return(false, nil)
	f.installments.On("MarkNotified", mock.Anything, testKey, mock.Anything).Return(true, nil).Twice()
	f.installments.On("MarkNotified", mock.Anything, testKey, mock.Anything).Return(false, nil)
	f.loans.On("SetOverdue", mock.Anything, "LOAN123", true).Return(nil)
	f.notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.machine.HandleFineEscalationCheck(context.Background(), testKey)
		}()
	}
	wg.Wait()

	// Exactly one winner: one overdue flag set, one escalation job armed,
	// and each notification kind recorded at most once.
	f.jobs.AssertNumberOfCalls(t, "Enqueue", 1)
	f.notifier.AssertNumberOfCalls(t, "Send", 2)
}
