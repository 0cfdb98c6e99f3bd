package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/lendcore/emi-engine/internal/domain"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Loan), args.Error(1)
}

func (m *MockLoanRepository) SetOverdue(ctx context.Context, loanID string, overdue bool) error {
	args := m.Called(ctx, loanID, overdue)
	return args.Error(0)
}

type MockInstallmentRepository struct {
	mock.Mock
}

func (m *MockInstallmentRepository) CreateBatch(ctx context.Context, installments []*domain.Installment) error {
	args := m.Called(ctx, installments)
	return args.Error(0)
}

func (m *MockInstallmentRepository) Get(ctx context.Context, key domain.InstallmentKey) (*domain.Installment, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) ListByLoan(ctx context.Context, loanID string) ([]*domain.Installment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

func (m *MockInstallmentRepository) MarkDue(ctx context.Context, key domain.InstallmentKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) ApplyFine(ctx context.Context, key domain.InstallmentKey, fine decimal.Decimal, at time.Time) (bool, error) {
	args := m.Called(ctx, key, fine, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) MarkEscalated(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error) {
	args := m.Called(ctx, key, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) MarkPaid(ctx context.Context, key domain.InstallmentKey, at time.Time) (bool, error) {
	args := m.Called(ctx, key, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) HasUnpaidOverdue(ctx context.Context, loanID string) (bool, error) {
	args := m.Called(ctx, loanID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) MarkNotified(ctx context.Context, key domain.InstallmentKey, kind string) (bool, error) {
	args := m.Called(ctx, key, kind)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallmentRepository) ListStalled(ctx context.Context, limit int) ([]*domain.Installment, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Installment), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Insert(ctx context.Context, payment *domain.PaymentRecord) (bool, error) {
	args := m.Called(ctx, payment)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error) {
	args := m.Called(ctx, loanID, emiNumber)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) ListUnpaid(ctx context.Context, loanID string) ([]int, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Enqueue(ctx context.Context, job *domain.ScheduledJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]*domain.ScheduledJob, error) {
	args := m.Called(ctx, workerID, now, lease, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScheduledJob), args.Error(1)
}

func (m *MockJobRepository) Complete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRepository) Release(ctx context.Context, id uuid.UUID, nextFireAt time.Time) error {
	args := m.Called(ctx, id, nextFireAt)
	return args.Error(0)
}

func (m *MockJobRepository) DeleteForInstallment(ctx context.Context, key domain.InstallmentKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
