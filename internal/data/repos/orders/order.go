package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type OrderRepo interface {
	Create(dbc dbctx.Context, orders []*types.Order) ([]*types.Order, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Order, error)
	RecomputeStatus(dbc dbctx.Context, id uuid.UUID) (string, error)
}

type orderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrderRepo(db *gorm.DB, baseLog *logger.Logger) OrderRepo {
	return &orderRepo{
		db:  db,
		log: baseLog.With("repo", "OrderRepo"),
	}
}

func (r *orderRepo) Create(dbc dbctx.Context, in []*types.Order) ([]*types.Order, error) {
	if len(in) == 0 {
		return []*types.Order{}, nil
	}
	if err := dbc.Conn(r.db).Create(&in).Error; err != nil {
		return nil, err
	}
	return in, nil
}

func (r *orderRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Order, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var o types.Order
	err := dbc.Conn(r.db).Where("id = ?", id).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// RecomputeStatus derives the order status from its line items: done when every item is done,
// in_progress when any item has left waiting, waiting otherwise. Returns the stored status.
func (r *orderRepo) RecomputeStatus(dbc dbctx.Context, id uuid.UUID) (string, error) {
	if id == uuid.Nil {
		return "", nil
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := dbc.Conn(r.db).
		Model(&types.LineItem{}).
		Select("status, COUNT(*) AS n").
		Where("order_id = ?", id).
		Group("status").
		Scan(&rows).Error; err != nil {
		return "", err
	}

	var total, done, waiting int64
	for _, rw := range rows {
		total += rw.N
		switch rw.Status {
		case orders.StatusDone:
			done += rw.N
		case orders.StatusWaiting:
			waiting += rw.N
		}
	}
	status := orders.StatusWaiting
	switch {
	case total > 0 && done == total:
		status = orders.StatusDone
	case total > 0 && waiting < total:
		status = orders.StatusInProgress
	}

	res := dbc.Conn(r.db).
		Model(&types.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", gorm.ErrRecordNotFound
	}
	return status, nil
}
