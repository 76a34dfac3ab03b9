package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/fulfillment-backend/internal/data/repos/query"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type LineItemRepo interface {
	Create(dbc dbctx.Context, items []*types.LineItem) ([]*types.LineItem, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LineItem, error)
	GetInOrder(dbc dbctx.Context, orderID uuid.UUID, itemID uuid.UUID) (*types.LineItem, error)
	FindByExternal(dbc dbctx.Context, externalOrderID string, externalItemID string) (*types.LineItem, error)
	ListByOrder(dbc dbctx.Context, orderID uuid.UUID) ([]*types.LineItem, error)
	ClaimForGeneration(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID) (bool, *types.PreAttempt, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsIfClaimedBy(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, updates map[string]interface{}) (bool, error)
	UpdateFieldsIfUnclaimed(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	ReleaseOrphanedClaims(dbc dbctx.Context, claimedBefore time.Time) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type lineItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLineItemRepo(db *gorm.DB, baseLog *logger.Logger) LineItemRepo {
	return &lineItemRepo{
		db:  db,
		log: baseLog.With("repo", "LineItemRepo"),
	}
}

func (r *lineItemRepo) Create(dbc dbctx.Context, items []*types.LineItem) ([]*types.LineItem, error) {
	if len(items) == 0 {
		return []*types.LineItem{}, nil
	}
	if err := dbc.Conn(r.db).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *lineItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LineItem, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("id = ?", id))
}

func (r *lineItemRepo) GetInOrder(dbc dbctx.Context, orderID uuid.UUID, itemID uuid.UUID) (*types.LineItem, error) {
	if orderID == uuid.Nil || itemID == uuid.Nil {
		return nil, nil
	}
	return r.first(dbc.Conn(r.db).Where("id = ? AND order_id = ?", itemID, orderID))
}

// FindByExternal matches a line item through its order's external id and its own external item id.
func (r *lineItemRepo) FindByExternal(dbc dbctx.Context, externalOrderID string, externalItemID string) (*types.LineItem, error) {
	if externalOrderID == "" || externalItemID == "" {
		return nil, nil
	}
	q := dbc.Conn(r.db).
		Joins("JOIN customer_order ON customer_order.id = order_line_item.order_id AND customer_order.deleted_at IS NULL").
		Where("customer_order.external_order_id = ? AND order_line_item.external_item_id = ?", externalOrderID, externalItemID)
	return r.first(q)
}

func (r *lineItemRepo) ListByOrder(dbc dbctx.Context, orderID uuid.UUID) ([]*types.LineItem, error) {
	var out []*types.LineItem
	if orderID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimForGeneration moves the item to in_progress and records jobID as the claim owner.
// The update is conditioned on the status that was read and on the item being unclaimed,
// so of two concurrent claims at most one wins. The returned snapshot is the state before the claim.
func (r *lineItemRepo) ClaimForGeneration(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID) (bool, *types.PreAttempt, error) {
	if jobID == uuid.Nil {
		return false, nil, errors.New("claim requires a job id")
	}
	item, err := r.GetByID(dbc, id)
	if err != nil || item == nil {
		return false, nil, err
	}
	if item.Status == orders.StatusInProgress || item.GenerationJobID != nil {
		return false, nil, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.LineItem{}).
		Where("id = ? AND status = ? AND status <> ? AND generation_job_id IS NULL", id, item.Status, orders.StatusInProgress).
		Updates(map[string]interface{}{
			"status":            orders.StatusInProgress,
			"progress":          0,
			"generation_job_id": jobID,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}
	return true, &types.PreAttempt{Status: item.Status, Progress: item.Progress}, nil
}

func (r *lineItemRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&types.LineItem{}).
		Where("id = ?", id).
		Updates(withUpdatedAt(updates)).Error
}

// UpdateFieldsIfClaimedBy applies updates only while jobID holds the claim.
func (r *lineItemRepo) UpdateFieldsIfClaimedBy(dbc dbctx.Context, id uuid.UUID, jobID uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || jobID == uuid.Nil {
		return false, nil
	}
	return r.updateWhere(dbc.Conn(r.db).Where("id = ? AND generation_job_id = ?", id, jobID), updates)
}

// UpdateFieldsIfUnclaimed applies updates only when no generation job holds the item.
func (r *lineItemRepo) UpdateFieldsIfUnclaimed(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	return r.updateWhere(dbc.Conn(r.db).Where("id = ? AND generation_job_id IS NULL", id), updates)
}

// ReleaseOrphanedClaims reopens items claimed before claimedBefore by a job that is missing
// or no longer queued or running.
func (r *lineItemRepo) ReleaseOrphanedClaims(dbc dbctx.Context, claimedBefore time.Time) (int64, error) {
	conn := dbc.Conn(r.db)
	active := conn.Session(&gorm.Session{NewDB: true}).
		Model(&types.GenerationJob{}).
		Select("id").
		Where("status IN ?", []string{jobs.JobQueued, jobs.JobRunning})
	res := conn.Model(&types.LineItem{}).
		Where("generation_job_id IS NOT NULL AND updated_at < ?", claimedBefore).
		Where("generation_job_id NOT IN (?)", active).
		Updates(map[string]interface{}{
			"status":            orders.StatusWaiting,
			"progress":          0,
			"generation_job_id": nil,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *lineItemRepo) updateWhere(q *gorm.DB, updates map[string]interface{}) (bool, error) {
	res := q.Model(&types.LineItem{}).Updates(withUpdatedAt(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func withUpdatedAt(updates map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return updates
}

func (r *lineItemRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	return query.CountByStatus(dbc.Conn(r.db), types.LineItem{}.TableName(), true)
}

func (r *lineItemRepo) first(q *gorm.DB) (*types.LineItem, error) {
	var li types.LineItem
	err := q.First(&li).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &li, nil
}
