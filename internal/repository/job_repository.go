package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lendcore/emi-engine/internal/domain"
)

type jobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Enqueue(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (id, loan_id, emi_number, kind, fire_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.LoanID,
		job.EmiNumber,
		job.Kind,
		job.FireAt,
		job.Attempts,
		job.CreatedAt,
	)

	return err
}

// ClaimDue performs a transactional dequeue: FOR UPDATE SKIP LOCKED keeps
// concurrent workers from claiming the same rows, and the lease cutoff lets
// rows claimed by a crashed worker be picked up again.
func (r *jobRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]*domain.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET claimed_by = $1, claimed_at = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE fire_at <= $2
			  AND (claimed_at IS NULL OR claimed_at < $3)
			ORDER BY fire_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, loan_id, emi_number, kind, fire_at, attempts, claimed_by, claimed_at, created_at
	`

	var jobs []*domain.ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, query, workerID, now, now.Add(-lease), limit)
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

func (r *jobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM scheduled_jobs WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *jobRepository) Release(ctx context.Context, id uuid.UUID, nextFireAt time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET claimed_by = NULL, claimed_at = NULL, fire_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, id, nextFireAt)
	return err
}

func (r *jobRepository) DeleteForInstallment(ctx context.Context, key domain.InstallmentKey) error {
	query := `DELETE FROM scheduled_jobs WHERE loan_id = $1 AND emi_number = $2`

	_, err := r.db.ExecContext(ctx, query, key.LoanID, key.EmiNumber)
	return err
}
