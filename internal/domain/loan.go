package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusPending  = "pending"
	LoanStatusApproved = "approved"
	LoanStatusRejected = "rejected"
)

// Loan represents an originated loan. ApprovedAt is set exactly once when the
// loan transitions to approved and never changes afterwards; the installment
// schedule is derived from it.
type Loan struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	LoanID        string          `json:"loan_id" db:"loan_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	BorrowerEmail string          `json:"borrower_email" db:"borrower_email"`
	Principal     decimal.Decimal `json:"principal" db:"principal"`
	InterestRate  decimal.Decimal `json:"interest_rate" db:"interest_rate"` // percent, e.g. 10 for 10%
	TermMonths    int             `json:"term_months" db:"term_months"`
	Status        string          `json:"status" db:"status"`
	Overdue       bool            `json:"overdue" db:"overdue"`
	ApprovedAt    *time.Time      `json:"approved_at" db:"approved_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// TotalPayable returns principal plus simple interest, rounded to minor units.
func (l *Loan) TotalPayable() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	factor := decimal.NewFromInt(1).Add(l.InterestRate.Div(hundred))
	return l.Principal.Mul(factor).Round(2)
}

// IsApproved reports whether the loan may have a schedule built for it.
func (l *Loan) IsApproved() bool {
	return l.Status == LoanStatusApproved && l.ApprovedAt != nil
}
