package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	customError "github.com/lendcore/emi-engine/pkg/errors"
	"github.com/lendcore/emi-engine/tests/mocks"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestHasPaid_RecoversWithinRetryBudget(t *testing.T) {
	payments := &mocks.MockPaymentRepository{}
	payments.On("HasPaid", mock.Anything, "LOAN123", 1).
		Return(false, errors.New("connection refused")).Twice()
	payments.On("HasPaid", mock.Anything, "LOAN123", 1).Return(true, nil)

	q := NewQuery(payments, 3, time.Millisecond, testLogger())

	paid, err := q.HasPaid(context.Background(), "LOAN123", 1)

	assert.NoError(t, err)
	assert.True(t, paid)
	payments.AssertNumberOfCalls(t, "HasPaid", 3)
}

func TestHasPaid_ExhaustedBudgetIsLedgerUnavailable(t *testing.T) {
	payments := &mocks.MockPaymentRepository{}
	payments.On("HasPaid", mock.Anything, "LOAN123", 1).
		Return(false, errors.New("connection refused"))

	q := NewQuery(payments, 3, time.Millisecond, testLogger())

	_, err := q.HasPaid(context.Background(), "LOAN123", 1)

	assert.ErrorIs(t, err, customError.ErrLedgerUnavailable)
	// The attempt budget bounds the calls; no retry happens past it.
	payments.AssertNumberOfCalls(t, "HasPaid", 3)
}

func TestHasPaid_CancelledContextStopsRetrying(t *testing.T) {
	payments := &mocks.MockPaymentRepository{}
	payments.On("HasPaid", mock.Anything, "LOAN123", 1).
		Return(false, errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := NewQuery(payments, 3, time.Minute, testLogger())

	_, err := q.HasPaid(ctx, "LOAN123", 1)

	assert.ErrorIs(t, err, customError.ErrLedgerUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	payments.AssertNumberOfCalls(t, "HasPaid", 1)
}

func TestListUnpaid_ExhaustedBudgetIsLedgerUnavailable(t *testing.T) {
	payments := &mocks.MockPaymentRepository{}
	payments.On("ListUnpaid", mock.Anything, "LOAN123").
		Return(nil, errors.New("connection refused"))

	q := NewQuery(payments, 2, time.Millisecond, testLogger())

	unpaid, err := q.ListUnpaid(context.Background(), "LOAN123")

	assert.Nil(t, unpaid)
	assert.ErrorIs(t, err, customError.ErrLedgerUnavailable)
	payments.AssertNumberOfCalls(t, "ListUnpaid", 2)
}

func TestListUnpaid_PassesThroughResult(t *testing.T) {
	payments := &mocks.MockPaymentRepository{}
	payments.On("ListUnpaid", mock.Anything, "LOAN123").Return([]int{2, 3}, nil)

	q := NewQuery(payments, 3, time.Millisecond, testLogger())

	unpaid, err := q.ListUnpaid(context.Background(), "LOAN123")

	assert.NoError(t, err)
	assert.Equal(t, []int{2, 3}, unpaid)
	payments.AssertNumberOfCalls(t, "ListUnpaid", 1)
}
