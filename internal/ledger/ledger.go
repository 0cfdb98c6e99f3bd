// Package ledger is the read-only adapter over the payment_records table.
// There is deliberately no caching here: payment confirmations arrive
// asynchronously, so the state machine re-checks the ledger before every
// externally visible side effect instead of trusting a stale flag.
package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lendcore/emi-engine/internal/repository"
	customError "github.com/lendcore/emi-engine/pkg/errors"
)

// Query answers "has this installment been paid". The transactions ledger is
// the sole source of truth.
type Query interface {
	HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error)
	ListUnpaid(ctx context.Context, loanID string) ([]int, error)
}

type query struct {
	payments  repository.PaymentRepository
	attempts  int
	baseDelay time.Duration
	log       *logrus.Logger
}

// NewQuery wraps the payment repository with a bounded retry budget. Store
// failures are retried with exponential backoff; once the budget is exhausted
// the caller gets LedgerUnavailable and re-enqueues the job instead of
// dropping the check.
func NewQuery(payments repository.PaymentRepository, attempts int, baseDelay time.Duration, log *logrus.Logger) Query {
	if attempts < 1 {
		attempts = 1
	}
	return &query{
		payments:  payments,
		attempts:  attempts,
		baseDelay: baseDelay,
		log:       log,
	}
}

func (q *query) HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error) {
	var paid bool
	err := q.withRetry(ctx, func() error {
		var innerErr error
		paid, innerErr = q.payments.HasPaid(ctx, loanID, emiNumber)
		return innerErr
	})
	if err != nil {
		return false, customError.WrapLedgerUnavailable(err)
	}

	return paid, nil
}

func (q *query) ListUnpaid(ctx context.Context, loanID string) ([]int, error) {
	var unpaid []int
	err := q.withRetry(ctx, func() error {
		var innerErr error
		unpaid, innerErr = q.payments.ListUnpaid(ctx, loanID)
		return innerErr
	})
	if err != nil {
		return nil, customError.WrapLedgerUnavailable(err)
	}

	return unpaid, nil
}

func (q *query) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := q.baseDelay

	for attempt := 1; attempt <= q.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		q.log.WithError(err).WithField("attempt", attempt).Warn("ledger query failed")

		if attempt == q.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}
