package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Installment states. State only ever moves forward: scheduled → due →
// overdue → escalated, with paid reachable from any non-terminal state and
// terminal once entered.
const (
	InstallmentStateScheduled = "scheduled"
	InstallmentStateDue       = "due"
	InstallmentStateOverdue   = "overdue"
	InstallmentStateEscalated = "escalated"
	InstallmentStatePaid      = "paid"
)

// Notification kinds recorded in the idempotency ledger. Each kind is sent at
// most once per installment.
const (
	NotifyReminderDue         = "reminder_due"
	NotifyFineApplied         = "fine_applied"
	NotifyAdminAlertFirst     = "admin_alert_first"
	NotifyAdminAlertEscalated = "admin_alert_escalated"
	NotifyPaymentConfirmed    = "payment_confirmed"
)

// InstallmentKey identifies one EMI of one loan. It is the unit of
// serialization for all state transitions.
type InstallmentKey struct {
	LoanID    string
	EmiNumber int
}

func (k InstallmentKey) String() string {
	return fmt.Sprintf("%s#%d", k.LoanID, k.EmiNumber)
}

// Installment is a single scheduled repayment. Rows are created once at loan
// approval, mutated only through compare-and-swap transitions, and never
// deleted.
type Installment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	LoanID        string          `json:"loan_id" db:"loan_id"`
	EmiNumber     int             `json:"emi_number" db:"emi_number"`
	DueAt         time.Time       `json:"due_at" db:"due_at"`
	AmountDue     decimal.Decimal `json:"amount_due" db:"amount_due"`
	FineAmount    decimal.Decimal `json:"fine_amount" db:"fine_amount"`
	State         string          `json:"state" db:"state"`
	Version       int64           `json:"version" db:"version"`
	FineAppliedAt *time.Time      `json:"fine_applied_at" db:"fine_applied_at"`
	EscalatedAt   *time.Time      `json:"escalated_at" db:"escalated_at"`
	PaidAt        *time.Time      `json:"paid_at" db:"paid_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

func (i *Installment) Key() InstallmentKey {
	return InstallmentKey{LoanID: i.LoanID, EmiNumber: i.EmiNumber}
}

// IsPaid reports whether the installment reached its terminal state.
func (i *Installment) IsPaid() bool {
	return i.State == InstallmentStatePaid
}

// StateRank orders states along the forward-only progression. Paid ranks
// highest since it is terminal from every other state.
func StateRank(state string) int {
	switch state {
	case InstallmentStateScheduled:
		return 0
	case InstallmentStateDue:
		return 1
	case InstallmentStateOverdue:
		return 2
	case InstallmentStateEscalated:
		return 3
	case InstallmentStatePaid:
		return 4
	default:
		return -1
	}
}
