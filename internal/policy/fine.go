// Package policy contains the pure fine and escalation timing rules. Nothing
// here performs I/O; all inputs come from configuration and the installment
// itself, so the functions are deterministic and unit-testable in isolation.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendcore/emi-engine/internal/domain"
)

// Rules holds the deployment-configured fine policy parameters.
type Rules struct {
	FineAmount      decimal.Decimal
	FineGrace       time.Duration
	EscalationGrace time.Duration
}

// Assessment is the outcome of applying the fine policy to an installment.
type Assessment struct {
	FineAmount    decimal.Decimal
	FineWindowEnd time.Time
}

// ComputeFine returns the flat fine and the end of the grace window for an
// installment. The fine window starts at the due date.
func ComputeFine(inst *domain.Installment, rules Rules) Assessment {
	return Assessment{
		FineAmount:    rules.FineAmount,
		FineWindowEnd: inst.DueAt.Add(rules.FineGrace),
	}
}

// ComputeEscalationDeadline returns when the admin-escalation re-check fires,
// a second grace window after the fine window closed.
func ComputeEscalationDeadline(fineWindowEnd time.Time, rules Rules) time.Time {
	return fineWindowEnd.Add(rules.EscalationGrace)
}
