package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type DashboardSummary struct {
	IntakeRecords map[string]int64 `json:"intakeRecords"`
	OutputRecords map[string]int64 `json:"outputRecords"`
	Jobs          map[string]int64 `json:"jobs"`
	LineItems     map[string]int64 `json:"lineItems"`
	Sagas         map[string]int64 `json:"sagas"`
	// Healthy is false while any reconciliation is pending or failed.
	Healthy bool `json:"healthy"`
}

type DashboardService interface {
	Summary(ctx context.Context) (*DashboardSummary, error)
}

type dashboardService struct {
	log     *logger.Logger
	intakes repos.IntakeRecordRepo
	outputs repos.OutputRecordRepo
	jobs    repos.GenerationJobRepo
	items   repos.LineItemRepo
	sagas   repos.SagaRepo
}

func NewDashboardService(
	baseLog *logger.Logger,
	intakes repos.IntakeRecordRepo,
	outputs repos.OutputRecordRepo,
	jobRepo repos.GenerationJobRepo,
	items repos.LineItemRepo,
	sagas repos.SagaRepo,
) DashboardService {
	return &dashboardService{
		log:     baseLog.With("service", "DashboardService"),
		intakes: intakes,
		outputs: outputs,
		jobs:    jobRepo,
		items:   items,
		sagas:   sagas,
	}
}

func (s *dashboardService) Summary(ctx context.Context) (*DashboardSummary, error) {
	out := &DashboardSummary{}
	g, gctx := errgroup.WithContext(ctx)
	dbc := dbctx.New(gctx)
	count := func(dst *map[string]int64, fn func(dbctx.Context) (map[string]int64, error)) {
		g.Go(func() error {
			m, err := fn(dbc)
			if err != nil {
				return err
			}
			*dst = m
			return nil
		})
	}
	count(&out.IntakeRecords, s.intakes.CountByStatus)
	count(&out.OutputRecords, s.outputs.CountByStatus)
	count(&out.Jobs, s.jobs.CountByStatus)
	count(&out.LineItems, s.items.CountByStatus)
	count(&out.Sagas, s.sagas.CountByStatus)
	if err := g.Wait(); err != nil {
		return nil, apierr.Persistence("dashboard_failed", err)
	}
	out.Healthy = out.Sagas[jobs.SagaPending] == 0 && out.Sagas[jobs.SagaFailed] == 0
	return out, nil
}
