package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRecord is an immutable, append-only fact. SourceID is the payment
// processor's transaction id and carries a unique constraint so duplicate
// webhook deliveries insert nothing. Existence of a record for an installment
// key is the sole source of truth for "paid".
type PaymentRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	LoanID    string          `json:"loan_id" db:"loan_id"`
	EmiNumber int             `json:"emi_number" db:"emi_number"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	SourceID  string          `json:"source_id" db:"source_id"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// DTOs for requests and responses

type PaymentWebhookRequest struct {
	UserID    string          `json:"user_id" validate:"required"`
	LoanID    string          `json:"loan_id" validate:"required"`
	EmiNumber int             `json:"emi_number" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	SourceID  string          `json:"source_id" validate:"required"`
	PaidAt    time.Time       `json:"paid_at" validate:"required"`
}

type PaymentWebhookResponse struct {
	LoanID    string `json:"loan_id"`
	EmiNumber int    `json:"emi_number"`
	Duplicate bool   `json:"duplicate"`
}

type BuildScheduleResponse struct {
	LoanID   string         `json:"loan_id"`
	Schedule []*Installment `json:"schedule"`
}

type InstallmentStatusResponse struct {
	LoanID    string `json:"loan_id"`
	EmiNumber int    `json:"emi_number"`
	State     string `json:"state"`
}
