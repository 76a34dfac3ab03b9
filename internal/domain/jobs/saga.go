package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	SagaPending = "pending"
	SagaApplied = "applied"
	SagaFailed  = "failed"
)

const (
	OutcomeDone  = "done"
	OutcomeError = "error"
)

// Reconciliation stages, applied in this order.
const (
	SagaStageOutput   = "output_record"
	SagaStageIntake   = "intake_record"
	SagaStageLineItem = "line_item"
	SagaStageOrder    = "order"
)

// ReconciliationSaga records the intended terminal state of one intake record before
// the entity updates are applied, so an interrupted reconciliation can be replayed.
type ReconciliationSaga struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	IntakeRecordID uuid.UUID  `gorm:"type:uuid;not null;index" json:"intake_record_id"`
	OutputRecordID *uuid.UUID `gorm:"type:uuid;index" json:"output_record_id,omitempty"`
	Outcome        string     `gorm:"column:outcome;not null" json:"outcome"`
	Content        string     `gorm:"column:content;type:text" json:"-"`
	ContentDigest  string     `gorm:"column:content_digest" json:"content_digest,omitempty"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	LastStage      string     `gorm:"column:last_stage" json:"last_stage,omitempty"`
	Error          string     `gorm:"column:error;type:text" json:"error,omitempty"`
	Attempts       int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (ReconciliationSaga) TableName() string { return "reconciliation_saga" }
