package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lendcore/emi-engine/internal/domain"
)

type loanRepository struct {
	db *sqlx.DB
}

func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	query := `
		SELECT id, loan_id, user_id, borrower_email, principal, interest_rate, term_months, status, overdue, approved_at, created_at, updated_at
		FROM loans
		WHERE loan_id = $1
	`

	var loan domain.Loan
	err := r.db.GetContext(ctx, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) SetOverdue(ctx context.Context, loanID string, overdue bool) error {
	query := `
		UPDATE loans
		SET overdue = $2, updated_at = $3
		WHERE loan_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, loanID, overdue, time.Now())
	return err
}
