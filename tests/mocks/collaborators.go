package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockLedgerQuery struct {
	mock.Mock
}

func (m *MockLedgerQuery) HasPaid(ctx context.Context, loanID string, emiNumber int) (bool, error) {
	args := m.Called(ctx, loanID, emiNumber)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerQuery) ListUnpaid(ctx context.Context, loanID string) ([]int, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, kind, recipient string, data map[string]string) error {
	args := m.Called(ctx, kind, recipient, data)
	return args.Error(0)
}

type MockDispatchGuard struct {
	mock.Mock
}

func (m *MockDispatchGuard) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDispatchGuard) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
