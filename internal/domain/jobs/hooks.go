package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *GenerationStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StepRunning
	}
	return nil
}

func (s *ReconciliationSaga) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SagaPending
	}
	return nil
}
