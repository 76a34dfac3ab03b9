package services

import (
	"context"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	"github.com/yungbote/fulfillment-backend/internal/data/repos/testutil"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type recordedUpdate struct {
	JobID       string
	CurrentStep string
	Status      string
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []recordedUpdate
}

func (n *recordingNotifier) GenerationUpdate(_ context.Context, job *types.GenerationJob, currentStep string, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, recordedUpdate{JobID: job.ID.String(), CurrentStep: currentStep, Status: status})
}

func (n *recordingNotifier) snapshot() []recordedUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedUpdate(nil), n.updates...)
}

type testRepos struct {
	db      *gorm.DB
	log     *logger.Logger
	orders  repos.OrderRepo
	items   repos.LineItemRepo
	intakes repos.IntakeRecordRepo
	outputs repos.OutputRecordRepo
	jobs    repos.GenerationJobRepo
	steps   repos.GenerationStepRepo
	sagas   repos.SagaRepo
}

func newTestRepos(t *testing.T) *testRepos {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return &testRepos{
		db:      db,
		log:     log,
		orders:  repos.NewOrderRepo(db, log),
		items:   repos.NewLineItemRepo(db, log),
		intakes: repos.NewIntakeRecordRepo(db, log),
		outputs: repos.NewOutputRecordRepo(db, log),
		jobs:    repos.NewGenerationJobRepo(db, log),
		steps:   repos.NewGenerationStepRepo(db, log),
		sagas:   repos.NewSagaRepo(db, log),
	}
}

func bg() dbctx.Context { return dbctx.New(context.Background()) }
