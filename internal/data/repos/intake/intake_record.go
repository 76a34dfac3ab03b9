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

type IntakeRecordRepo interface {
	Create(dbc dbctx.Context, rec *types.IntakeRecord) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IntakeRecord, error)
	GetByNaturalKey(dbc dbctx.Context, externalOrderID string, externalItemID string) (*types.IntakeRecord, error)
	ListByLineItem(dbc dbctx.Context, lineItemID uuid.UUID) ([]*types.IntakeRecord, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type intakeRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIntakeRecordRepo(db *gorm.DB, baseLog *logger.Logger) IntakeRecordRepo {
	return &intakeRecordRepo{
		db:  db,
		log: baseLog.With("repo", "IntakeRecordRepo"),
	}
}

func (r *intakeRecordRepo) Create(dbc dbctx.Context, rec *types.IntakeRecord) error {
	if rec == nil {
		return nil
	}
	return dbc.Conn(r.db).Create(rec).Error
}

func (r *intakeRecordRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IntakeRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("id = ?", id))
}

func (r *intakeRecordRepo) GetByNaturalKey(dbc dbctx.Context, externalOrderID string, externalItemID string) (*types.IntakeRecord, error) {
	if externalOrderID == "" || externalItemID == "" {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).
		Where("external_order_id = ? AND external_item_id = ?", externalOrderID, externalItemID))
}

func (r *intakeRecordRepo) ListByLineItem(dbc dbctx.Context, lineItemID uuid.UUID) ([]*types.IntakeRecord, error) {
	var out []*types.IntakeRecord
	if lineItemID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("line_item_id = ?", lineItemID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *intakeRecordRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.IntakeRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete soft-deletes the record, which frees its natural key for a new intake.
func (r *intakeRecordRepo) Delete(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := dbc.Conn(r.db).Where("id = ?", id).Delete(&types.IntakeRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *intakeRecordRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	return query.CountByStatus(dbc.Conn(r.db), types.IntakeRecord{}.TableName(), true)
}

func (r *intakeRecordRepo) first(q *gorm.DB) (*types.IntakeRecord, error) {
	var rec types.IntakeRecord
	err := q.First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
