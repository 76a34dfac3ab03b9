package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fulfillment-backend/internal/clients/openai"
	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	"github.com/yungbote/fulfillment-backend/internal/data/repos/testutil"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
	"github.com/yungbote/fulfillment-backend/internal/jobs/worker"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
)

type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	content string
	usage   types.TokenUsage
	err     error
	panicV  any
	block   chan struct{}
	lastReq openai.Request
}

func (f *fakeLLM) Generate(ctx context.Context, req openai.Request) (*openai.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	block, err, panicV := f.block, f.err, f.panicV
	f.mu.Unlock()

	if panicV != nil {
		panic(panicV)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &openai.Result{Content: f.content, Model: "test-model", FinishReason: "stop", Usage: f.usage}, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type genFixture struct {
	*testRepos
	llm       *fakeLLM
	notify    *recordingNotifier
	tracer    StepTracer
	composer  PromptComposer
	reconcile ReconcileService
	pool      *worker.Pool
	orch      GenerationOrchestrator
	order     *types.Order
	lines     []*types.LineItem
}

func newGenFixture(t *testing.T, llm *fakeLLM, timeout time.Duration) *genFixture {
	t.Helper()
	r := newTestRepos(t)
	rec := &recordingNotifier{}
	tracer := NewStepTracer(r.log, r.jobs, r.steps, rec, nil)
	composer, err := NewPromptComposer(r.log)
	require.NoError(t, err)
	reconcile := NewReconcileService(r.log, r.intakes, r.outputs, r.items, r.orders, r.sagas, ReconcileOptions{})

	pool := worker.NewPool(r.log, worker.Options{Concurrency: 2, QueueSize: 8})
	pool.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	f := &genFixture{testRepos: r, llm: llm, notify: rec, tracer: tracer, composer: composer, reconcile: reconcile, pool: pool}
	f.orch = f.newOrchestrator(llm, GenerationOptions{LLMTimeout: timeout})
	f.order, f.lines = testutil.SeedOrder(t, context.Background(), r.db, "O1", "I1", "I2")
	return f
}

// newOrchestrator builds another orchestrator over the same store, as a second instance would.
func (f *genFixture) newOrchestrator(llm openai.Client, opts GenerationOptions) GenerationOrchestrator {
	return NewGenerationOrchestrator(f.log, f.items, f.orders, f.jobs, f.tracer, f.composer, llm, f.reconcile, f.pool, opts)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func (f *genFixture) waitTerminal(t *testing.T, id uuid.UUID) *types.GenerationJob {
	t.Helper()
	var job *types.GenerationJob
	eventually(t, func() bool {
		j, err := f.orch.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Terminal()
	}, "job terminal")
	return job
}

func (f *genFixture) lineItem(t *testing.T, id uuid.UUID) *types.LineItem {
	t.Helper()
	li, err := f.testRepos.items.GetByID(bg(), id)
	require.NoError(t, err)
	return li
}

func TestGenerationSuccess(t *testing.T) {
	llm := &fakeLLM{content: "# Tytuł\n\nGotowy tekst.", usage: types.TokenUsage{PromptTokens: 100, CompletionTokens: 250, TotalTokens: 350}}
	f := newGenFixture(t, llm, time.Second)
	rec := testutil.SeedIntake(t, context.Background(), f.db, "O1", "I1", &f.lines[0].ID)

	job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobQueued, job.Status)

	done := f.waitTerminal(t, job.ID)
	require.Equal(t, jobs.JobCompleted, done.Status)
	require.Len(t, done.Steps, 4)
	var stepSum int64
	for i, s := range done.Steps {
		require.Equal(t, jobs.StepOrder[i], s.Name)
		require.Equal(t, jobs.StepCompleted, s.Status)
		stepSum += s.DurationMs
	}
	require.GreaterOrEqual(t, done.TotalDurationMs, stepSum)
	gen := done.Steps[2]
	require.NotNil(t, gen.TotalTokens)
	require.Equal(t, *gen.TotalTokens, done.TotalTokens)
	require.Equal(t, int64(350), done.TotalTokens)

	li := f.lineItem(t, f.lines[0].ID)
	require.Equal(t, orders.StatusDone, li.Status)
	require.Equal(t, 100, li.Progress)
	require.Equal(t, llm.content, li.Content)

	// the sibling is still waiting, so the order is not done
	o, _ := f.orders.GetByID(bg(), f.order.ID)
	require.Equal(t, orders.StatusInProgress, o.Status)

	eventually(t, func() bool {
		r, _ := f.intakes.GetByID(bg(), rec.ID)
		return r != nil && r.Status == intake.StatusDone
	}, "linked intake reconciled")
	outs, _ := f.outputs.ListByIntake(bg(), rec.ID)
	require.Len(t, outs, 1)
	require.Equal(t, intake.OutputDone, outs[0].Status)

	require.True(t, strings.Contains(llm.lastReq.User, "Topic I1"))

	updates := f.notify.snapshot()
	require.NotEmpty(t, updates)
	require.Equal(t, jobs.JobQueued, updates[0].Status)
	var sawCompleted bool
	for _, u := range updates {
		require.Equal(t, job.ID.String(), u.JobID)
		if u.Status == jobs.JobCompleted {
			sawCompleted = true
		}
	}
	require.True(t, sawCompleted)
}

func TestGenerationLLMFailureRollsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream 500")}
	f := newGenFixture(t, llm, time.Second)

	job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	done := f.waitTerminal(t, job.ID)

	require.Equal(t, jobs.JobFailed, done.Status)
	require.Len(t, done.Steps, 3)
	last := done.Steps[2]
	require.Equal(t, jobs.StepGenerate, last.Name)
	require.Equal(t, jobs.StepFailed, last.Status)
	require.Contains(t, last.Error, "upstream 500")
	require.NotNil(t, last.FinishedAt)

	eventually(t, func() bool {
		li := f.lineItem(t, f.lines[0].ID)
		return li.Status == orders.StatusWaiting && li.Progress == 0
	}, "line item rolled back")
	require.Empty(t, f.lineItem(t, f.lines[0].ID).Content)
}

func TestGenerationTimeoutFailsJob(t *testing.T) {
	llm := &fakeLLM{block: make(chan struct{})}
	f := newGenFixture(t, llm, 30*time.Millisecond)

	job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	done := f.waitTerminal(t, job.ID)
	require.Equal(t, jobs.JobFailed, done.Status)
	require.Contains(t, done.Error, "timed out")
	require.Len(t, done.Steps, 3)
}

func TestGenerationSecondStartConflicts(t *testing.T) {
	llm := &fakeLLM{block: make(chan struct{}), content: "ok"}
	f := newGenFixture(t, llm, 5*time.Second)

	job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)

	_, err = f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.Error(t, err)
	require.Equal(t, http.StatusConflict, apierr.StatusOf(err))
	require.Equal(t, "generation_in_progress", apierr.CodeOf(err, ""))

	// a different item of the same order is independent
	other, err := f.orch.Start(context.Background(), f.order.ID, f.lines[1].ID)
	require.NoError(t, err)

	close(llm.block)
	require.Equal(t, jobs.JobCompleted, f.waitTerminal(t, job.ID).Status)
	require.Equal(t, jobs.JobCompleted, f.waitTerminal(t, other.ID).Status)

	eventually(t, func() bool {
		o, _ := f.orders.GetByID(bg(), f.order.ID)
		return o.Status == orders.StatusDone
	}, "order done once every item is done")
}

func TestGenerationPanicIsRecorded(t *testing.T) {
	llm := &fakeLLM{panicV: "kaboom"}
	f := newGenFixture(t, llm, time.Second)

	job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	done := f.waitTerminal(t, job.ID)
	require.Equal(t, jobs.JobFailed, done.Status)
	require.Contains(t, done.Error, "kaboom")
	require.Equal(t, jobs.StepFailed, done.Steps[len(done.Steps)-1].Status)
	eventually(t, func() bool {
		return f.lineItem(t, f.lines[0].ID).Status == orders.StatusWaiting
	}, "line item rolled back after panic")
}

func TestGenerationStartValidation(t *testing.T) {
	f := newGenFixture(t, &fakeLLM{content: "x"}, time.Second)

	_, err := f.orch.Start(context.Background(), uuid.Nil, f.lines[0].ID)
	require.Equal(t, http.StatusBadRequest, apierr.StatusOf(err))

	_, err = f.orch.Start(context.Background(), f.order.ID, uuid.New())
	require.Equal(t, http.StatusNotFound, apierr.StatusOf(err))

	_, err = f.orch.GetJob(context.Background(), uuid.New())
	require.Equal(t, http.StatusNotFound, apierr.StatusOf(err))
}

func TestGenerationListJobsFilters(t *testing.T) {
	f := newGenFixture(t, &fakeLLM{content: "x"}, time.Second)
	a, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	b, err := f.orch.Start(context.Background(), f.order.ID, f.lines[1].ID)
	require.NoError(t, err)
	f.waitTerminal(t, a.ID)
	f.waitTerminal(t, b.ID)

	all, err := f.orch.ListJobs(context.Background(), repos.JobFilter{OrderID: &f.order.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := f.orch.ListJobs(context.Background(), repos.JobFilter{LineItemID: &f.lines[1].ID})
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, b.ID, one[0].ID)
}

func TestRecoverInterruptedRestoresLineItem(t *testing.T) {
	f := newGenFixture(t, &fakeLLM{content: "x"}, time.Second)
	tracer := NewStepTracer(f.log, f.jobs, f.steps, nil, nil)

	jobID := uuid.New()
	claimed, pre, err := f.testRepos.items.ClaimForGeneration(bg(), f.lines[0].ID, jobID)
	require.NoError(t, err)
	require.True(t, claimed)
	job := &types.GenerationJob{ID: jobID, OrderID: f.order.ID, LineItemID: f.lines[0].ID, Payload: toJSON(pre)}
	require.NoError(t, tracer.CreateJob(bg(), job))
	require.NoError(t, tracer.MarkRunning(bg(), job))
	_, err = tracer.StartStep(bg(), job, jobs.StepGatherInput, nil)
	require.NoError(t, err)

	n, err := f.orch.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.orch.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobFailed, got.Status)
	require.Equal(t, ReasonInterrupted, got.Error)
	require.Equal(t, jobs.StepFailed, got.Steps[0].Status)

	li := f.lineItem(t, f.lines[0].ID)
	require.Equal(t, orders.StatusWaiting, li.Status)
	require.Equal(t, 0, li.Progress)
	require.Nil(t, li.GenerationJobID)
}

func TestGenerationFailureStopsAtFailingStep(t *testing.T) {
	cases := []struct {
		name   string
		llm    func() *fakeLLM
		before func(t *testing.T, f *genFixture)
		during func(t *testing.T, f *genFixture)
		steps  int
		reason string
	}{
		{
			name: "gather_input order missing",
			llm:  func() *fakeLLM { return &fakeLLM{content: "x"} },
			before: func(t *testing.T, f *genFixture) {
				require.NoError(t, f.db.Delete(&types.Order{}, "id = ?", f.order.ID).Error)
			},
			steps:  1,
			reason: "not found",
		},
		{
			name: "build_prompt empty topic",
			llm:  func() *fakeLLM { return &fakeLLM{content: "x"} },
			before: func(t *testing.T, f *genFixture) {
				require.NoError(t, f.items.UpdateFields(bg(), f.lines[0].ID, map[string]interface{}{"topic": "  "}))
			},
			steps:  2,
			reason: "topic is required",
		},
		{
			name:   "generate upstream error",
			llm:    func() *fakeLLM { return &fakeLLM{err: errors.New("upstream 500")} },
			steps:  3,
			reason: "upstream 500",
		},
		{
			name: "persist_output claim lost",
			llm:  func() *fakeLLM { return &fakeLLM{content: "late", block: make(chan struct{})} },
			during: func(t *testing.T, f *genFixture) {
				eventually(t, func() bool { return f.llm.callCount() == 1 }, "generate called")
				require.NoError(t, f.items.UpdateFields(bg(), f.lines[0].ID, map[string]interface{}{
					"status":            orders.StatusWaiting,
					"generation_job_id": nil,
				}))
				close(f.llm.block)
			},
			steps:  4,
			reason: "no longer claimed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newGenFixture(t, tc.llm(), 5*time.Second)
			if tc.before != nil {
				tc.before(t, f)
			}
			job, err := f.orch.Start(context.Background(), f.order.ID, f.lines[0].ID)
			require.NoError(t, err)
			if tc.during != nil {
				tc.during(t, f)
			}

			done := f.waitTerminal(t, job.ID)
			require.Equal(t, jobs.JobFailed, done.Status)
			require.Len(t, done.Steps, tc.steps)
			for i, st := range done.Steps {
				require.Equal(t, jobs.StepOrder[i], st.Name)
				if i < tc.steps-1 {
					require.Equal(t, jobs.StepCompleted, st.Status)
				}
			}
			last := done.Steps[tc.steps-1]
			require.Equal(t, jobs.StepFailed, last.Status)
			require.Contains(t, last.Error, tc.reason)

			eventually(t, func() bool {
				li := f.lineItem(t, f.lines[0].ID)
				return li.Status == orders.StatusWaiting && li.GenerationJobID == nil
			}, "line item released")
			require.Empty(t, f.lineItem(t, f.lines[0].ID).Content)
		})
	}
}

func TestGenerationClaimHeldAgainstWebhookAndAdminEdits(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{block: make(chan struct{}), content: "own text"}
	f := newGenFixture(t, llm, 5*time.Second)
	rec := testutil.SeedIntake(t, ctx, f.db, "O1", "I1", &f.lines[0].ID)

	job, err := f.orch.Start(ctx, f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	eventually(t, func() bool { return llm.callCount() == 1 }, "generate called")

	_, err = f.reconcile.ReceiveOutput(ctx, OutputWebhook{ExternalOrderID: "O1", ExternalItemID: "I1", Status: "Error", ErrorMessage: "writer gave up"})
	require.NoError(t, err)
	li := f.lineItem(t, f.lines[0].ID)
	require.Equal(t, orders.StatusInProgress, li.Status)
	require.NotNil(t, li.GenerationJobID)
	require.Equal(t, job.ID, *li.GenerationJobID)

	_, err = f.reconcile.UpdateIntakeStatus(ctx, rec.ID, intake.StatusPending)
	require.Equal(t, http.StatusConflict, apierr.StatusOf(err))
	require.Equal(t, "generation_in_progress", apierr.CodeOf(err, ""))

	_, err = f.orch.Start(ctx, f.order.ID, f.lines[0].ID)
	require.Equal(t, http.StatusConflict, apierr.StatusOf(err))

	close(llm.block)
	require.Equal(t, jobs.JobCompleted, f.waitTerminal(t, job.ID).Status)
	require.Equal(t, 1, llm.callCount())

	li = f.lineItem(t, f.lines[0].ID)
	require.Equal(t, orders.StatusDone, li.Status)
	require.Equal(t, "own text", li.Content)
	require.Nil(t, li.GenerationJobID)
}

func TestGenerationLapsedLeaseHandsClaimToNewJob(t *testing.T) {
	ctx := context.Background()
	slow := &fakeLLM{block: make(chan struct{}), content: "stale"}
	f := newGenFixture(t, slow, 5*time.Second)

	first, err := f.orch.Start(ctx, f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	eventually(t, func() bool { return slow.callCount() == 1 }, "generate called")

	// the owning process still holds the job
	n, err := f.orch.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	other := f.newOrchestrator(&fakeLLM{content: "fresh"}, GenerationOptions{LLMTimeout: time.Second, InstanceID: "other"})
	n, err = other.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n, "live lease must not be recovered")

	past := time.Now().Add(-time.Minute)
	_, err = f.jobs.UpdateFieldsUnlessStatus(bg(), first.ID, nil, map[string]interface{}{"lease_expires_at": past})
	require.NoError(t, err)
	n, err = other.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	second, err := other.Start(ctx, f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobCompleted, f.waitTerminal(t, second.ID).Status)

	close(slow.block)
	orch := f.orch.(*generationOrchestrator)
	eventually(t, func() bool { return !orch.holds(first.ID) }, "stale attempt returned")

	stale, err := f.orch.GetJob(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobFailed, stale.Status)
	require.Equal(t, ReasonInterrupted, stale.Error)

	li := f.lineItem(t, f.lines[0].ID)
	require.Equal(t, orders.StatusDone, li.Status)
	require.Equal(t, "fresh", li.Content)
	require.Nil(t, li.GenerationJobID)
}

func TestGenerationHeartbeatRenewsHeldLeases(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{block: make(chan struct{}), content: "x"}
	f := newGenFixture(t, llm, 5*time.Second)
	job, err := f.orch.Start(ctx, f.order.ID, f.lines[0].ID)
	require.NoError(t, err)
	eventually(t, func() bool { return llm.callCount() == 1 }, "generate called")

	past := time.Now().Add(-time.Minute)
	_, err = f.jobs.UpdateFieldsUnlessStatus(bg(), job.ID, nil, map[string]interface{}{"lease_expires_at": past})
	require.NoError(t, err)

	renewed, err := f.orch.(*generationOrchestrator).renewLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), renewed)

	got, err := f.orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LeaseExpiresAt)
	require.True(t, got.LeaseExpiresAt.After(time.Now()))

	other := f.newOrchestrator(&fakeLLM{content: "y"}, GenerationOptions{InstanceID: "other"})
	n, err := other.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	close(llm.block)
	require.Equal(t, jobs.JobCompleted, f.waitTerminal(t, job.ID).Status)
}
