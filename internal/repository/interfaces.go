package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendcore/emi-engine/internal/domain"
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// GetByLoanID retrieves a loan by its loan ID
	GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error)

	// SetOverdue sets or clears the loan-level overdue flag
	SetOverdue(ctx context.Context, loanID string, overdue bool) error
}

// InstallmentRepository defines the interface for installment state storage.
// All transition methods are compare-and-swap: they report whether this call
// won the transition. A false return with a nil error means another worker or
// the webhook path already applied it.
type InstallmentRepository interface {
	// CreateBatch inserts all installments of a loan in one transaction
	CreateBatch(ctx context.Context, installments []*domain.Installment) error

	// Get retrieves a single installment
	Get(ctx context.Context, key domain.InstallmentKey) (*domain.Installment, error)

	// ListByLoan retrieves all installments of a loan ordered by EMI number
	ListByLoan(ctx context.Context, loanID string) ([]*domain.Installment, error)

	// MarkDue transitions scheduled → due
	MarkDue(ctx context.Context, key domain.InstallmentKey) (bool, error)

	// ApplyFine transitions due → overdue, records the fine and extends the
	// amount due. Guarded on fine_applied_at IS NULL so a fine is applied at
	// most once no matter how many workers race.
	ApplyFine(ctx context.Context, key domain.InstallmentKey, fine decimal.Decimal, at time.Time) (bool, error)

	// MarkEscalated transitions overdue → escalated
	MarkEscalated(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error)

	// MarkPaid transitions any non-terminal state → paid
	MarkPaid(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error)

	// HasUnpaidOverdue reports whether the loan still has an installment in
	// overdue or escalated state
	HasUnpaidOverdue(ctx context.Context, loanID string) (bool, error)

	// MarkNotified records a notification kind in the idempotency ledger.
	// Returns true only for the caller that inserted the record; every later
	// call for the same (key, kind) returns false.
	MarkNotified(ctx context.Context, key domain.InstallmentKey, kind string) (bool, error)

	// ListStalled returns non-terminal installments that have no pending
	// scheduled job, used by the reconciliation sweep
	ListStalled(ctx context.Context, limit int) ([]*domain.Installment, error)
}

// PaymentRepository defines the interface for the append-only payment ledger
type PaymentRepository interface {
	// Insert appends a payment record. Duplicate source IDs are a no-op;
	// the bool reports whether a row was actually inserted.
	Insert(ctx context.Context, payment *domain.PaymentRecord) (bool, error)

	// HasPaid reports whether a payment record exists for the installment
	HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error)

	// ListUnpaid returns EMI numbers of a loan with no payment record
	ListUnpaid(ctx context.Context, loanID string) ([]int, error)
}

// JobRepository defines the interface for the durable job queue
type JobRepository interface {
	// Enqueue persists a scheduled job
	Enqueue(ctx context.Context, job *domain.ScheduledJob) error

	// ClaimDue atomically claims up to limit jobs whose fire time has passed.
	// Jobs claimed longer than lease ago are considered abandoned and may be
	// re-claimed.
	ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]*domain.ScheduledJob, error)

	// Complete deletes a job after its handler succeeded
	Complete(ctx context.Context, id uuid.UUID) error

	// Release unclaims a job and reschedules it for a later attempt
	Release(ctx context.Context, id uuid.UUID, nextFireAt time.Time) error

	// DeleteForInstallment removes all pending jobs for an installment
	DeleteForInstallment(ctx context.Context, key domain.InstallmentKey) error
}
