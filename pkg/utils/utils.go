package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// TotalPayable calculates principal plus simple interest.
// Formula: principal * (1 + ratePercent/100), rounded to 2 decimal places.
func TotalPayable(principal, ratePercent decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	factor := decimal.NewFromInt(1).Add(ratePercent.Div(hundred))
	return principal.Mul(factor).Round(2)
}

// SplitAmount divides a total into n installment amounts. Each amount is
// rounded down to 2 decimal places and the residual minor units go to the
// final installment, so the parts always sum exactly to the total.
func SplitAmount(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}

	base := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)

	amounts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		amounts[i] = base
	}
	amounts[n-1] = total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))

	return amounts
}

// DueDate calculates the due date for a specific installment number.
// Installment 1 is due one period after approval, installment 2 two periods
// after, and so on. Periods are calendar months.
func DueDate(approvedAt time.Time, emiNumber, periodMonths int) time.Time {
	return approvedAt.AddDate(0, periodMonths*emiNumber, 0)
}

// IsDateOverdue checks if a due date is in the past relative to now.
func IsDateOverdue(dueDate, now time.Time) bool {
	return now.After(dueDate)
}
