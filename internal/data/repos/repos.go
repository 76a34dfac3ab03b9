package repos

import (
	"github.com/yungbote/fulfillment-backend/internal/data/repos/intake"
	"github.com/yungbote/fulfillment-backend/internal/data/repos/jobs"
	"github.com/yungbote/fulfillment-backend/internal/data/repos/orders"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type OrderRepo = orders.OrderRepo
type LineItemRepo = orders.LineItemRepo

type IntakeRecordRepo = intake.IntakeRecordRepo
type OutputRecordRepo = intake.OutputRecordRepo

type GenerationJobRepo = jobs.GenerationJobRepo
type GenerationStepRepo = jobs.GenerationStepRepo
type SagaRepo = jobs.SagaRepo
type JobFilter = jobs.JobFilter

func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return orders.NewOrderRepo(db, baseLog)
}

func NewLineItemRepo(db *gorm.DB, baseLog *logger.Logger) LineItemRepo {
	return orders.NewLineItemRepo(db, baseLog)
}

func NewIntakeRecordRepo(db *gorm.DB, baseLog *logger.Logger) IntakeRecordRepo {
	return intake.NewIntakeRecordRepo(db, baseLog)
}

func NewOutputRecordRepo(db *gorm.DB, baseLog *logger.Logger) OutputRecordRepo {
	return intake.NewOutputRecordRepo(db, baseLog)
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return jobs.NewGenerationJobRepo(db, baseLog)
}

func NewGenerationStepRepo(db *gorm.DB, baseLog *logger.Logger) GenerationStepRepo {
	return jobs.NewGenerationStepRepo(db, baseLog)
}

func NewSagaRepo(db *gorm.DB, baseLog *logger.Logger) SagaRepo {
	return jobs.NewSagaRepo(db, baseLog)
}
