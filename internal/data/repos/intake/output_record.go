package intake

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/fulfillment-backend/internal/data/repos/query"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type OutputRecordRepo interface {
	Create(dbc dbctx.Context, rec *types.OutputRecord) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.OutputRecord, error)
	LatestForIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (*types.OutputRecord, error)
	ListByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) ([]*types.OutputRecord, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type outputRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutputRecordRepo(db *gorm.DB, baseLog *logger.Logger) OutputRecordRepo {
	return &outputRecordRepo{
		db:  db,
		log: baseLog.With("repo", "OutputRecordRepo"),
	}
}

func (r *outputRecordRepo) Create(dbc dbctx.Context, rec *types.OutputRecord) error {
	if rec == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(rec).Error
}

func (r *outputRecordRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.OutputRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var rec types.OutputRecord
	err := dbc.Conn(r.db).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *outputRecordRepo) LatestForIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (*types.OutputRecord, error) {
	if intakeRecordID == uuid.Nil {
		return nil, nil
	}
	var rec types.OutputRecord
	err := dbc.Conn(r.db).
		Where("intake_record_id = ?", intakeRecordID).
		Order("created_at DESC").
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *outputRecordRepo) ListByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) ([]*types.OutputRecord, error) {
	var out []*types.OutputRecord
	if intakeRecordID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("intake_record_id = ?", intakeRecordID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outputRecordRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.OutputRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *outputRecordRepo) DeleteByIntake(dbc dbctx.Context, intakeRecordID uuid.UUID) (int64, error) {
	if intakeRecordID == uuid.Nil {
		return 0, nil
	}
	res := dbc.Conn(r.db).Where("intake_record_id = ?", intakeRecordID).Delete(&types.OutputRecord{})
	return res.RowsAffected, res.Error
}

func (r *outputRecordRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	return query.CountByStatus(dbc.Conn(r.db), types.OutputRecord{}.TableName(), false)
}
