package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/clients/openai"
	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
	"github.com/yungbote/fulfillment-backend/internal/jobs/worker"
	"github.com/yungbote/fulfillment-backend/internal/pkg/textstats"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
	"github.com/yungbote/fulfillment-backend/internal/platform/ctxutil"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const (
	ReasonInterrupted = "interrupted"

	failureWriteTimeout = 10 * time.Second
)

// stepProgress is the line item progress once the named step completes.
var stepProgress = map[string]int{
	jobs.StepGatherInput:   25,
	jobs.StepBuildPrompt:   50,
	jobs.StepGenerate:      75,
	jobs.StepPersistOutput: 100,
}

type TaskSubmitter interface {
	Submit(t worker.Task) error
}

type GenerationOptions struct {
	LLMTimeout time.Duration
	// InstanceID names this process as the owner of the jobs it starts.
	InstanceID string
	LeaseTTL   time.Duration
}

type GenerationOrchestrator interface {
	// Start claims the line item, records a queued job and hands the attempt to the worker pool.
	Start(ctx context.Context, orderID, itemID uuid.UUID) (*types.GenerationJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*types.GenerationJob, error)
	ListJobs(ctx context.Context, f repos.JobFilter) ([]*types.GenerationJob, error)
	// RecoverInterrupted fails queued or running jobs that no live process holds and restores their line items.
	// Those are jobs owned by a previous run of this instance and jobs whose lease has lapsed.
	RecoverInterrupted(ctx context.Context) (int, error)
	// Heartbeat renews the leases of jobs held by this process until ctx is done.
	Heartbeat(ctx context.Context)
}

type generationOrchestrator struct {
	log       *logger.Logger
	items     repos.LineItemRepo
	orders    repos.OrderRepo
	jobs      repos.GenerationJobRepo
	tracer    StepTracer
	composer  PromptComposer
	gen       openai.Client
	reconcile ReconcileService
	pool      TaskSubmitter
	opts      GenerationOptions

	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewGenerationOrchestrator(
	baseLog *logger.Logger,
	items repos.LineItemRepo,
	orderRepo repos.OrderRepo,
	jobRepo repos.GenerationJobRepo,
	tracer StepTracer,
	composer PromptComposer,
	gen openai.Client,
	reconcile ReconcileService,
	pool TaskSubmitter,
	opts GenerationOptions,
) GenerationOrchestrator {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 2 * time.Minute
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	return &generationOrchestrator{
		log:       baseLog.With("service", "GenerationOrchestrator"),
		items:     items,
		orders:    orderRepo,
		jobs:      jobRepo,
		tracer:    tracer,
		composer:  composer,
		gen:       gen,
		reconcile: reconcile,
		pool:      pool,
		opts:      opts,
		held:      make(map[uuid.UUID]struct{}),
	}
}

// attempt is the mutable state of one running job, shared with the panic handler.
type attempt struct {
	job  *types.GenerationJob
	pre  types.PreAttempt
	step *types.GenerationStep
}

func (o *generationOrchestrator) Start(ctx context.Context, orderID, itemID uuid.UUID) (*types.GenerationJob, error) {
	if orderID == uuid.Nil || itemID == uuid.Nil {
		return nil, apierr.Validation("missing_ids", "orderId and itemId are required")
	}
	dbc := dbctx.New(ctx)
	li, err := o.items.GetInOrder(dbc, orderID, itemID)
	if err != nil {
		return nil, apierr.Persistence("line_item_lookup_failed", err)
	}
	if li == nil {
		return nil, apierr.NotFound("line_item_not_found", "line item %s not found in order %s", itemID, orderID)
	}

	jobID := uuid.New()
	claimed, pre, err := o.items.ClaimForGeneration(dbc, li.ID, jobID)
	if err != nil {
		return nil, apierr.Persistence("claim_failed", err)
	}
	if !claimed {
		return nil, apierr.Conflict("generation_in_progress", "line item %s is already being generated", li.ID)
	}

	payload, _ := json.Marshal(pre)
	lease := time.Now().Add(o.opts.LeaseTTL)
	job := &types.GenerationJob{
		ID:             jobID,
		OrderID:        orderID,
		LineItemID:     li.ID,
		Payload:        payload,
		Owner:          o.opts.InstanceID,
		LeaseExpiresAt: &lease,
	}
	o.hold(job.ID)
	if err := o.tracer.CreateJob(dbc, job); err != nil {
		o.release(job.ID)
		o.restoreLineItem(ctx, li.ID, job.ID, *pre)
		return nil, apierr.Persistence("job_create_failed", err)
	}

	at := &attempt{job: job, pre: *pre}
	task := worker.Task{
		ID:   job.ID,
		Name: "generation",
		Run:  func(runCtx context.Context) error { return o.run(runCtx, at) },
		OnPanic: func(err error) {
			o.fail(ctxutil.Detach(ctx), at, err)
		},
	}
	if err := o.pool.Submit(task); err != nil {
		o.fail(ctx, at, err)
		o.release(job.ID)
		if errors.Is(err, worker.ErrQueueFull) {
			return nil, apierr.New(http.StatusServiceUnavailable, "queue_full", err)
		}
		return nil, apierr.New(http.StatusServiceUnavailable, "pool_unavailable", err)
	}

	o.log.Info("generation queued", append(ctxutil.LogFields(ctx), "job_id", job.ID, "line_item_id", li.ID)...)
	return job, nil
}

func (o *generationOrchestrator) run(ctx context.Context, at *attempt) error {
	defer o.release(at.job.ID)
	dbc := dbctx.New(ctx)
	if err := o.tracer.MarkRunning(dbc, at.job); err != nil {
		o.fail(ctx, at, err)
		return err
	}

	var (
		li      *types.LineItem
		input   PromptInput
		req     openai.Request
		content string
	)

	err := o.step(ctx, at, jobs.StepGatherInput, map[string]string{"line_item_id": at.job.LineItemID.String()}, func() (any, *types.TokenUsage, error) {
		var err error
		li, err = o.items.GetByID(dbc, at.job.LineItemID)
		if err != nil {
			return nil, nil, err
		}
		if li == nil {
			return nil, nil, fmt.Errorf("line item %s disappeared", at.job.LineItemID)
		}
		order, err := o.orders.GetByID(dbc, li.OrderID)
		if err != nil {
			return nil, nil, err
		}
		if order == nil {
			return nil, nil, fmt.Errorf("order %s not found", li.OrderID)
		}
		input = PromptInput{
			Topic:            li.Topic,
			ContentType:      li.ContentType,
			Language:         li.Language,
			Tone:             li.Tone,
			LengthTarget:     li.LengthTarget,
			Guidelines:       li.Guidelines,
			Keywords:         SplitKeywords(li.Keywords),
			WithBibliography: li.WithBibliography,
		}
		return input, nil, nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, at, jobs.StepBuildPrompt, input, func() (any, *types.TokenUsage, error) {
		var err error
		req, err = o.composer.Compose(input)
		if err != nil {
			return nil, nil, err
		}
		return map[string]string{"system": req.System, "user": req.User}, nil, nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, at, jobs.StepGenerate, map[string]int{"prompt_chars": len(req.User)}, func() (any, *types.TokenUsage, error) {
		genCtx, cancel := context.WithTimeout(ctx, o.opts.LLMTimeout)
		defer cancel()
		res, err := o.gen.Generate(genCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
				return nil, nil, apierr.Upstream("generation_timeout", fmt.Errorf("generation timed out after %s", o.opts.LLMTimeout))
			}
			return nil, nil, apierr.Upstream("generation_failed", err)
		}
		content = res.Content
		words, chars := textstats.Count(content)
		usage := res.Usage
		return map[string]any{
			"model":         res.Model,
			"finish_reason": res.FinishReason,
			"words":         words,
			"characters":    chars,
		}, &usage, nil
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, at, jobs.StepPersistOutput, map[string]int{"content_chars": len(content)}, func() (any, *types.TokenUsage, error) {
		ok, err := o.items.UpdateFieldsIfClaimedBy(dbc, li.ID, at.job.ID, map[string]interface{}{
			"content":           content,
			"status":            orders.StatusDone,
			"progress":          stepProgress[jobs.StepPersistOutput],
			"generation_job_id": nil,
		})
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("line item %s is no longer claimed by this job", li.ID)
		}
		orderStatus, err := o.orders.RecomputeStatus(dbc, li.OrderID)
		if err != nil {
			o.log.Error("order recompute after generation failed", "job_id", at.job.ID, "order_id", li.OrderID, "error", err)
		}
		return map[string]string{"line_item_status": orders.StatusDone, "order_status": orderStatus}, nil, nil
	})
	if err != nil {
		return err
	}

	if err := o.tracer.CompleteJob(dbc, at.job); err != nil {
		o.log.Error("complete job failed", "job_id", at.job.ID, "error", err)
		return err
	}
	o.log.Info("generation completed",
		"job_id", at.job.ID,
		"line_item_id", li.ID,
		"total_tokens", at.job.TotalTokens,
		"duration_ms", at.job.TotalDurationMs,
	)

	if err := o.reconcile.ReconcileLineItem(ctx, li.ID, ReconcileOutcome{Outcome: jobs.OutcomeDone, Content: content}); err != nil {
		o.log.Warn("reconcile linked intake records failed", "job_id", at.job.ID, "line_item_id", li.ID, "error", err)
	}
	return nil
}

// step opens a traced step, runs fn and closes the step. A failure fails the whole attempt.
func (o *generationOrchestrator) step(ctx context.Context, at *attempt, name string, input any, fn func() (any, *types.TokenUsage, error)) error {
	dbc := dbctx.New(ctx)
	st, err := o.tracer.StartStep(dbc, at.job, name, input)
	if err != nil {
		o.fail(ctx, at, err)
		return err
	}
	at.step = st

	output, usage, err := fn()
	if err != nil {
		o.fail(ctx, at, err)
		return err
	}
	if err := o.tracer.CompleteStep(dbc, at.job, st, output, usage); err != nil {
		o.fail(ctx, at, err)
		return err
	}
	at.step = nil

	if pct := stepProgress[name]; pct > 0 && name != jobs.StepPersistOutput {
		if _, err := o.items.UpdateFieldsIfClaimedBy(dbc, at.job.LineItemID, at.job.ID, map[string]interface{}{"progress": pct}); err != nil {
			o.log.Warn("progress update failed", "job_id", at.job.ID, "step", name, "error", err)
		}
	}
	return nil
}

// fail closes the open step, fails the job and rolls the line item back. Writes use a
// detached context so that a cancelled run still leaves a terminal record.
func (o *generationOrchestrator) fail(ctx context.Context, at *attempt, cause error) {
	wctx, cancel := context.WithTimeout(ctxutil.Detach(ctx), failureWriteTimeout)
	defer cancel()
	dbc := dbctx.New(wctx)

	if at.step != nil && !at.step.Closed() {
		if err := o.tracer.FailStep(dbc, at.job, at.step, cause); err != nil && !errors.Is(err, ErrStepNotRunning) {
			o.log.Error("fail step failed", "job_id", at.job.ID, "step", at.step.Name, "error", err)
		}
	}
	at.step = nil
	if err := o.tracer.FailJob(dbc, at.job, errorText(cause)); err != nil && !errors.Is(err, ErrJobTerminal) {
		o.log.Error("fail job failed", "job_id", at.job.ID, "error", err)
	}
	o.restoreLineItem(wctx, at.job.LineItemID, at.job.ID, at.pre)
	o.log.Warn("generation failed", "job_id", at.job.ID, "line_item_id", at.job.LineItemID, "error", cause)
}

// restoreLineItem puts the pre-attempt state back and releases the claim, unless another
// writer already took the item away from jobID.
func (o *generationOrchestrator) restoreLineItem(ctx context.Context, lineItemID, jobID uuid.UUID, pre types.PreAttempt) {
	if pre.Status == "" {
		pre.Status = orders.StatusWaiting
	}
	dbc := dbctx.New(ctx)
	err := withStoreRetry(ctx, func() error {
		_, err := o.items.UpdateFieldsIfClaimedBy(dbc, lineItemID, jobID, map[string]interface{}{
			"status":            pre.Status,
			"progress":          pre.Progress,
			"generation_job_id": nil,
		})
		return err
	})
	if err != nil {
		o.log.Error("line item rollback failed", "line_item_id", lineItemID, "error", err)
	}
}

func (o *generationOrchestrator) GetJob(ctx context.Context, id uuid.UUID) (*types.GenerationJob, error) {
	job, err := o.tracer.GetJob(dbctx.New(ctx), id)
	if err != nil {
		return nil, apierr.Persistence("job_lookup_failed", err)
	}
	if job == nil {
		return nil, apierr.NotFound("job_not_found", "generation job %s not found", id)
	}
	return job, nil
}

func (o *generationOrchestrator) ListJobs(ctx context.Context, f repos.JobFilter) ([]*types.GenerationJob, error) {
	out, err := o.tracer.ListJobs(dbctx.New(ctx), f)
	if err != nil {
		return nil, apierr.Persistence("job_list_failed", err)
	}
	return out, nil
}

func (o *generationOrchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	dbc := dbctx.New(ctx)
	stale, err := o.jobs.ListRecoverable(dbc, o.opts.InstanceID, time.Now())
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, s := range stale {
		if o.holds(s.ID) {
			continue
		}
		job, err := o.jobs.GetByID(dbc, s.ID)
		if err != nil || job == nil {
			continue
		}
		at := &attempt{job: job, pre: types.PreAttempt{Status: orders.StatusWaiting}}
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &at.pre); err != nil {
				o.log.Warn("unreadable pre-attempt snapshot", "job_id", job.ID, "error", err)
			}
		}
		if n := len(job.Steps); n > 0 && !job.Steps[n-1].Closed() {
			at.step = &job.Steps[n-1]
		}
		o.fail(ctx, at, errors.New(ReasonInterrupted))
		recovered++
	}
	if recovered > 0 {
		o.log.Warn("interrupted generation jobs failed", "count", recovered)
	}
	released, err := o.items.ReleaseOrphanedClaims(dbc, time.Now().Add(-o.opts.LeaseTTL))
	if err != nil {
		return recovered, err
	}
	if released > 0 {
		o.log.Warn("orphaned line item claims released", "count", released)
	}
	return recovered, nil
}

func (o *generationOrchestrator) Heartbeat(ctx context.Context) {
	t := time.NewTicker(o.opts.LeaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := o.renewLeases(ctx); err != nil {
				o.log.Warn("job lease renewal failed", "error", err)
			}
		}
	}
}

func (o *generationOrchestrator) renewLeases(ctx context.Context) (int64, error) {
	o.mu.Lock()
	ids := make([]uuid.UUID, 0, len(o.held))
	for id := range o.held {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	return o.jobs.ExtendLease(dbctx.New(ctx), ids, o.opts.InstanceID, time.Now().Add(o.opts.LeaseTTL))
}

func (o *generationOrchestrator) hold(id uuid.UUID) {
	o.mu.Lock()
	o.held[id] = struct{}{}
	o.mu.Unlock()
}

func (o *generationOrchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	delete(o.held, id)
	o.mu.Unlock()
}

func (o *generationOrchestrator) holds(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.held[id]
	return ok
}
