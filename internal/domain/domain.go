package domain

import (
	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
)

type Order = orders.Order
type LineItem = orders.LineItem

type IntakeRecord = intake.IntakeRecord
type OutputRecord = intake.OutputRecord

type GenerationJob = jobs.GenerationJob
type GenerationStep = jobs.GenerationStep
type PreAttempt = jobs.PreAttempt
type TokenUsage = jobs.TokenUsage
type ReconciliationSaga = jobs.ReconciliationSaga

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&Order{},
		&LineItem{},
		&IntakeRecord{},
		&OutputRecord{},
		&GenerationJob{},
		&GenerationStep{},
		&ReconciliationSaga{},
	}
}
