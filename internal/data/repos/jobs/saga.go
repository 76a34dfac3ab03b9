package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/fulfillment-backend/internal/data/repos/query"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type SagaRepo interface {
	Create(dbc dbctx.Context, saga *types.ReconciliationSaga) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReconciliationSaga, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListRepairable(dbc dbctx.Context, olderThan time.Time, maxAttempts int, limit int) ([]*types.ReconciliationSaga, error)
	DeleteByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type sagaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSagaRepo(db *gorm.DB, baseLog *logger.Logger) SagaRepo {
	return &sagaRepo{
		db:  db,
		log: baseLog.With("repo", "SagaRepo"),
	}
}

func (r *sagaRepo) Create(dbc dbctx.Context, saga *types.ReconciliationSaga) error {
	if saga == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(saga).Error
}

func (r *sagaRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReconciliationSaga, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var s types.ReconciliationSaga
	err := dbc.Conn(r.db).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sagaRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.Conn(r.db).
		Model(&types.ReconciliationSaga{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListRepairable returns pending or failed sagas last touched before olderThan, oldest first.
func (r *sagaRepo) ListRepairable(dbc dbctx.Context, olderThan time.Time, maxAttempts int, limit int) ([]*types.ReconciliationSaga, error) {
	q := dbc.Conn(r.db).
		Where("status IN ? AND updated_at < ?", []string{jobs.SagaPending, jobs.SagaFailed}, olderThan).
		Order("updated_at ASC")
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.ReconciliationSaga
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sagaRepo) DeleteByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (int64, error) {
	if intakeRecordID == uuid.Nil {
		return 0, nil
	}
	res := dbc.Conn(r.db).Where("intake_record_id = ?", intakeRecordID).Delete(&types.ReconciliationSaga{})
	return res.RowsAffected, res.Error
}

func (r *sagaRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	return query.CountByStatus(dbc.Conn(r.db), types.ReconciliationSaga{}.TableName(), false)
}
