package domain

import (
	"time"

	"github.com/google/uuid"
)

// Scheduled job kinds. A single FineEscalationCheck kind serves both the fine
// check at the fine window end and the escalation re-check; the handler
// dispatches on the installment's current state.
const (
	JobKindReminder            = "reminder"
	JobKindDueCheck            = "due_check"
	JobKindFineEscalationCheck = "fine_escalation_check"
)

// ScheduledJob is a durable timer. Rows survive process restarts; a worker
// claims a due row, runs the transition it names, and deletes the row only
// after the handler succeeds (at-least-once execution). A fireAt in the past
// fires on the next poll.
type ScheduledJob struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	LoanID    string     `json:"loan_id" db:"loan_id"`
	EmiNumber int        `json:"emi_number" db:"emi_number"`
	Kind      string     `json:"kind" db:"kind"`
	FireAt    time.Time  `json:"fire_at" db:"fire_at"`
	Attempts  int        `json:"attempts" db:"attempts"`
	ClaimedBy *string    `json:"claimed_by" db:"claimed_by"`
	ClaimedAt *time.Time `json:"claimed_at" db:"claimed_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

func (j *ScheduledJob) Key() InstallmentKey {
	return InstallmentKey{LoanID: j.LoanID, EmiNumber: j.EmiNumber}
}

// NewScheduledJob builds an unclaimed job for an installment key.
func NewScheduledJob(key InstallmentKey, kind string, fireAt time.Time) *ScheduledJob {
	return &ScheduledJob{
		ID:        uuid.New(),
		LoanID:    key.LoanID,
		EmiNumber: key.EmiNumber,
		Kind:      kind,
		FireAt:    fireAt,
		CreatedAt: time.Now(),
	}
}
