package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GenerationStep struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID uuid.UUID `gorm:"type:uuid;not null;index:idx_generation_step_job_seq,unique,priority:1" json:"job_id"`
	Seq   int       `gorm:"column:seq;not null;index:idx_generation_step_job_seq,unique,priority:2" json:"seq"`
	Name  string    `gorm:"column:name;not null" json:"name"`

	Status     string     `gorm:"column:status;not null" json:"status"`
	StartedAt  time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	DurationMs int64      `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`

	Input  datatypes.JSON `gorm:"column:input;type:jsonb" json:"input,omitempty"`
	Output datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`
	Error  string         `gorm:"column:error;type:text" json:"error,omitempty"`

	PromptTokens     *int64 `gorm:"column:prompt_tokens" json:"prompt_tokens,omitempty"`
	CompletionTokens *int64 `gorm:"column:completion_tokens" json:"completion_tokens,omitempty"`
	TotalTokens      *int64 `gorm:"column:total_tokens" json:"total_tokens,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GenerationStep) TableName() string { return "generation_step" }

// Closed reports whether the step has been completed or failed.
func (s *GenerationStep) Closed() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// TokenUsage is the counter triple reported by the generation service.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
