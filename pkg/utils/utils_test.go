package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTotalPayable(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		rate      string
		expected  string
	}{
		{"zero interest", "300", "0", "300"},
		{"ten percent", "5000000", "10", "5500000"},
		{"fractional result rounds", "100", "33.333", "133.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, _ := decimal.NewFromString(tt.principal)
			rate, _ := decimal.NewFromString(tt.rate)
			expected, _ := decimal.NewFromString(tt.expected)

			assert.True(t, TotalPayable(principal, rate).Equal(expected))
		})
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		n        int
		expected []string
	}{
		{"even split", "300", 3, []string{"100", "100", "100"}},
		{"residual cent on last", "100", 3, []string{"33.33", "33.33", "33.34"}},
		{"single installment", "10", 1, []string{"10"}},
		{"tiny amounts", "0.05", 2, []string{"0.02", "0.03"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, _ := decimal.NewFromString(tt.total)
			amounts := SplitAmount(total, tt.n)

			assert.Len(t, amounts, tt.n)

			sum := decimal.Zero
			for i, amount := range amounts {
				expected, _ := decimal.NewFromString(tt.expected[i])
				assert.True(t, amount.Equal(expected), "installment %d: got %s want %s", i+1, amount, expected)
				sum = sum.Add(amount)
			}

			// The parts must always sum exactly to the total.
			assert.True(t, sum.Equal(total))
		})
	}
}

func TestSplitAmount_SumInvariant(t *testing.T) {
	// Awkward divisions must never lose or invent minor units.
	totals := []string{"1000.01", "999.99", "0.07", "123456.78", "1"}
	terms := []int{1, 3, 7, 12, 50}

	for _, ts := range totals {
		total, _ := decimal.NewFromString(ts)
		for _, n := range terms {
			amounts := SplitAmount(total, n)

			sum := decimal.Zero
			for _, amount := range amounts {
				sum = sum.Add(amount)
			}
			assert.True(t, sum.Equal(total), "total %s over %d parts: sum %s", ts, n, sum)
		}
	}
}

func TestSplitAmount_InvalidCount(t *testing.T) {
	assert.Nil(t, SplitAmount(decimal.NewFromInt(100), 0))
	assert.Nil(t, SplitAmount(decimal.NewFromInt(100), -1))
}

func TestDueDate(t *testing.T) {
	approved := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), DueDate(approved, 1, 1))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DueDate(approved, 2, 1))
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), DueDate(approved, 3, 1))

	// Quarterly period
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), DueDate(approved, 1, 3))
}

func TestIsDateOverdue(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsDateOverdue(now.Add(-time.Minute), now))
	assert.False(t, IsDateOverdue(now.Add(time.Minute), now))
}
