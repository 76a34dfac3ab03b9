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

type JobFilter struct {
	OrderID    *uuid.UUID
	LineItemID *uuid.UUID
	Limit      int
}

type GenerationJobRepo interface {
	Create(dbc dbctx.Context, job *types.GenerationJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	List(dbc dbctx.Context, f JobFilter) ([]*types.GenerationJob, error)
	ListRecoverable(dbc dbctx.Context, owner string, now time.Time) ([]*types.GenerationJob, error)
	ExtendLease(dbc dbctx.Context, ids []uuid.UUID, owner string, until time.Time) (int64, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

func (r *generationJobRepo) Create(dbc dbctx.Context, job *types.GenerationJob) error {
	if job == nil {
		return nil
	}
	return dbc.Conn(r.db).Omit("Steps").Create(job).Error
}

func (r *generationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := dbc.Conn(r.db).
		Preload("Steps", orderedSteps).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first, each with its steps in execution order.
func (r *generationJobRepo) List(dbc dbctx.Context, f JobFilter) ([]*types.GenerationJob, error) {
	q := dbc.Conn(r.db).Preload("Steps", orderedSteps).Order("created_at DESC")
	if f.OrderID != nil && *f.OrderID != uuid.Nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}
	if f.LineItemID != nil && *f.LineItemID != uuid.Nil {
		q = q.Where("line_item_id = ?", *f.LineItemID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []*types.GenerationJob
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecoverable returns queued or running jobs that no live process holds: jobs owned by
// owner (a previous run of the same instance) and jobs whose lease has lapsed.
func (r *generationJobRepo) ListRecoverable(dbc dbctx.Context, owner string, now time.Time) ([]*types.GenerationJob, error) {
	var out []*types.GenerationJob
	q := dbc.Conn(r.db).Where("status IN ?", []string{jobs.JobQueued, jobs.JobRunning})
	if owner != "" {
		q = q.Where("(owner = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)", owner, now)
	} else {
		q = q.Where("(lease_expires_at IS NULL OR lease_expires_at < ?)", now)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ExtendLease pushes the lease of still active jobs held by owner to until.
func (r *generationJobRepo) ExtendLease(dbc dbctx.Context, ids []uuid.UUID, owner string, until time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.Conn(r.db).
		Model(&types.GenerationJob{}).
		Where("id IN ? AND owner = ? AND status IN ?", ids, owner, []string{jobs.JobQueued, jobs.JobRunning}).
		Updates(map[string]interface{}{"lease_expires_at": until, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *generationJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := dbc.Conn(r.db).
		Model(&types.GenerationJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	return query.CountByStatus(dbc.Conn(r.db), types.GenerationJob{}.TableName(), true)
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}
