package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type Repos struct {
	Order        repos.OrderRepo
	LineItem     repos.LineItemRepo
	IntakeRecord repos.IntakeRecordRepo
	OutputRecord repos.OutputRecordRepo
	Job          repos.GenerationJobRepo
	Step         repos.GenerationStepRepo
	Saga         repos.SagaRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Order:        repos.NewOrderRepo(db, log),
		LineItem:     repos.NewLineItemRepo(db, log),
		IntakeRecord: repos.NewIntakeRecordRepo(db, log),
		OutputRecord: repos.NewOutputRecordRepo(db, log),
		Job:          repos.NewGenerationJobRepo(db, log),
		Step:         repos.NewGenerationStepRepo(db, log),
		Saga:         repos.NewSagaRepo(db, log),
	}
}
