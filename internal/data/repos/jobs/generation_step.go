package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type GenerationStepRepo interface {
	Create(dbc dbctx.Context, step *types.GenerationStep) error
	CloseIfRunning(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
}

type generationStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationStepRepo(db *gorm.DB, baseLog *logger.Logger) GenerationStepRepo {
	return &generationStepRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationStepRepo"),
	}
}

func (r *generationStepRepo) Create(dbc dbctx.Context, step *types.GenerationStep) error {
	if step == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(step).Error
}

// CloseIfRunning applies updates only while the step is still running; closed steps never reopen.
func (r *generationStepRepo) CloseIfRunning(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := dbc.Conn(r.db).
		Model(&types.GenerationStep{}).
		Where("id = ? AND status = ?", id, jobs.StepRunning).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
