package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/lendcore/emi-engine/internal/domain"
)

type installmentRepository struct {
	db *sqlx.DB
}

func NewInstallmentRepository(db *sqlx.DB) InstallmentRepository {
	return &installmentRepository{db: db}
}

func (r *installmentRepository) CreateBatch(ctx context.Context, installments []*domain.Installment) error {
	query := `
		INSERT INTO installments (id, loan_id, emi_number, due_at, amount_due, fine_amount, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, inst := range installments {
		_, err = tx.ExecContext(ctx, query,
			inst.ID,
			inst.LoanID,
			inst.EmiNumber,
			inst.DueAt,
			inst.AmountDue,
			decimal.Zero,
			inst.State,
			inst.Version,
			now,
			now,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *installmentRepository) Get(ctx context.Context, key domain.InstallmentKey) (*domain.Installment, error) {
	query := `
		SELECT id, loan_id, emi_number, due_at, amount_due, fine_amount, state, version, fine_applied_at, escalated_at, paid_at, created_at, updated_at
		FROM installments
		WHERE loan_id = $1 AND emi_number = $2
	`

	var inst domain.Installment
	err := r.db.GetContext(ctx, &inst, query, key.LoanID, key.EmiNumber)
	if err != nil {
		return nil, err
	}

	return &inst, nil
}

func (r *installmentRepository) ListByLoan(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	query := `
		SELECT id, loan_id, emi_number, due_at, amount_due, fine_amount, state, version, fine_applied_at, escalated_at, paid_at, created_at, updated_at
		FROM installments
		WHERE loan_id = $1
		ORDER BY emi_number
	`

	var installments []*domain.Installment
	err := r.db.SelectContext(ctx, &installments, query, loanID)
	if err != nil {
		return nil, err
	}

	return installments, nil
}

// Transitions are conditional updates on the current state. Rows-affected
// tells the caller whether it won the race; version bumps on every write so
// readers can detect concurrent modification.

func (r *installmentRepository) MarkDue(ctx context.Context, key domain.InstallmentKey) (bool, error) {
	query := `
		UPDATE installments
		SET state = $3, version = version + 1, updated_at = $4
		WHERE loan_id = $1 AND emi_number = $2 AND state = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		key.LoanID, key.EmiNumber,
		domain.InstallmentStateDue, time.Now(),
		domain.InstallmentStateScheduled,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *installmentRepository) ApplyFine(ctx context.Context, key domain.InstallmentKey, fine decimal.Decimal, at time.Time) (bool, error) {
	query := `
		UPDATE installments
		SET state = $3, version = version + 1, fine_amount = $4, amount_due = amount_due + $4, fine_applied_at = $5, updated_at = $5
		WHERE loan_id = $1 AND emi_number = $2 AND state = $6 AND fine_applied_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		key.LoanID, key.EmiNumber,
		domain.InstallmentStateOverdue, fine, at,
		domain.InstallmentStateDue,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *installmentRepository) MarkEscalated(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error) {
	query := `
		UPDATE installments
		SET state = $3, version = version + 1, escalated_at = $4, updated_at = $4
		WHERE loan_id = $1 AND emi_number = $2 AND state = $5 AND escalated_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		key.LoanID, key.EmiNumber,
		domain.InstallmentStateEscalated, at,
		domain.InstallmentStateOverdue,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *installmentRepository) MarkPaid(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error) {
	query := `
		UPDATE installments
		SET state = $3, version = version + 1, paid_at = $4, updated_at = $4
		WHERE loan_id = $1 AND emi_number = $2 AND state <> $3
	`

	result, err := r.db.ExecContext(ctx, query,
		key.LoanID, key.EmiNumber,
		domain.InstallmentStatePaid, at,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *installmentRepository) HasUnpaidOverdue(ctx context.Context, loanID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM installments
			WHERE loan_id = $1 AND state IN ($2, $3)
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query,
		loanID, domain.InstallmentStateOverdue, domain.InstallmentStateEscalated)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *installmentRepository) MarkNotified(ctx context.Context, key domain.InstallmentKey, kind string) (bool, error) {
	query := `
		INSERT INTO notification_log (loan_id, emi_number, kind, sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (loan_id, emi_number, kind) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, key.LoanID, key.EmiNumber, kind, time.Now())
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *installmentRepository) ListStalled(ctx context.Context, limit int) ([]*domain.Installment, error) {
	query := `
		SELECT i.id, i.loan_id, i.emi_number, i.due_at, i.amount_due, i.fine_amount, i.state, i.version, i.fine_applied_at, i.escalated_at, i.paid_at, i.created_at, i.updated_at
		FROM installments i
		LEFT JOIN scheduled_jobs j ON j.loan_id = i.loan_id AND j.emi_number = i.emi_number
		WHERE i.state IN ($1, $2, $3) AND j.id IS NULL
		ORDER BY i.due_at
		LIMIT $4
	`

	var installments []*domain.Installment
	err := r.db.SelectContext(ctx, &installments, query,
		domain.InstallmentStateScheduled,
		domain.InstallmentStateDue,
		domain.InstallmentStateOverdue,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return installments, nil
}
