package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lendcore/emi-engine/internal/domain"
)

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Insert(ctx context.Context, payment *domain.PaymentRecord) (bool, error) {
	query := `
		INSERT INTO payment_records (id, user_id, loan_id, emi_number, amount, source_id, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.UserID,
		payment.LoanID,
		payment.EmiNumber,
		payment.Amount,
		payment.SourceID,
		payment.PaidAt,
		time.Now(),
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *paymentRepository) HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_records
			WHERE loan_id = $1 AND emi_number = $2
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, loanID, emiNumber)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *paymentRepository) ListUnpaid(ctx context.Context, loanID string) ([]int, error) {
	query := `
		SELECT i.emi_number
		FROM installments i
		LEFT JOIN payment_records p ON p.loan_id = i.loan_id AND p.emi_number = i.emi_number
		WHERE i.loan_id = $1 AND p.id IS NULL
		ORDER BY i.emi_number
	`

	var numbers []int
	err := r.db.SelectContext(ctx, &numbers, query, loanID)
	if err != nil {
		return nil, err
	}

	return numbers, nil
}
