package domain

import (
	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
)

// StatusSet is the consistent status triple for one reconciled unit of content.
type StatusSet struct {
	Intake   string
	Output   string
	LineItem string
}

// StatusesForOutcome maps a reconciliation outcome to the status of each record.
func StatusesForOutcome(outcome string) (StatusSet, bool) {
	switch outcome {
	case jobs.OutcomeDone:
		return StatusSet{Intake: intake.StatusDone, Output: intake.OutputDone, LineItem: orders.StatusDone}, true
	case jobs.OutcomeError:
		return StatusSet{Intake: intake.StatusCancelled, Output: intake.OutputError, LineItem: orders.StatusWaiting}, true
	}
	return StatusSet{}, false
}

// LineItemStatusForIntake maps an admin-edited intake status to the line item status.
func LineItemStatusForIntake(status string) (string, bool) {
	switch status {
	case intake.StatusPending, intake.StatusCancelled:
		return orders.StatusWaiting, true
	case intake.StatusInProgress:
		return orders.StatusInProgress, true
	case intake.StatusDone:
		return orders.StatusDone, true
	}
	return "", false
}
