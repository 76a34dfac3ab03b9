package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Step names, in execution order.
const (
	StepGatherInput   = "gather_input"
	StepBuildPrompt   = "build_prompt"
	StepGenerate      = "generate"
	StepPersistOutput = "persist_output"
)

// StepOrder lists the steps of one generation attempt.
var StepOrder = []string{StepGatherInput, StepBuildPrompt, StepGenerate, StepPersistOutput}

// GenerationJob is one attempt to produce content for a line item.
type GenerationJob struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	LineItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"line_item_id"`
	Status     string    `gorm:"column:status;not null;index" json:"status"`
	Error      string    `gorm:"column:error;type:text" json:"error,omitempty"`

	// Owner is the instance running the job; the lease is renewed while it does.
	Owner          string     `gorm:"column:owner;index" json:"owner,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"column:lease_expires_at;index" json:"lease_expires_at,omitempty"`

	// Payload holds the pre-attempt line item snapshot used for rollback and restart recovery.
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`

	StartedAt        *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt       *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	TotalDurationMs  int64      `gorm:"column:total_duration_ms;not null;default:0" json:"total_duration_ms"`
	PromptTokens     int64      `gorm:"column:prompt_tokens;not null;default:0" json:"prompt_tokens"`
	CompletionTokens int64      `gorm:"column:completion_tokens;not null;default:0" json:"completion_tokens"`
	TotalTokens      int64      `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`

	Steps []GenerationStep `gorm:"foreignKey:JobID" json:"steps"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (GenerationJob) TableName() string { return "generation_job" }

func (j *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	return nil
}

// Terminal reports whether the job can no longer transition.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// CurrentStep returns the name of the last opened step, or "" when none was opened.
func (j *GenerationJob) CurrentStep() string {
	if len(j.Steps) == 0 {
		return ""
	}
	return j.Steps[len(j.Steps)-1].Name
}

// PreAttempt is the line item state captured before a job claims it.
type PreAttempt struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}
