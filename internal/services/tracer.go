package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const tracerName = "github.com/yungbote/fulfillment-backend/internal/services"

// StepTracer is the append-only log of generation jobs and their steps. Every mutation
// is written before it is announced, so observers reading the store see live progress.
type StepTracer interface {
	CreateJob(dbc dbctx.Context, job *types.GenerationJob) error
	MarkRunning(dbc dbctx.Context, job *types.GenerationJob) error
	StartStep(dbc dbctx.Context, job *types.GenerationJob, name string, input any) (*types.GenerationStep, error)
	CompleteStep(dbc dbctx.Context, job *types.GenerationJob, step *types.GenerationStep, output any, usage *types.TokenUsage) error
	FailStep(dbc dbctx.Context, job *types.GenerationJob, step *types.GenerationStep, stepErr error) error
	CompleteJob(dbc dbctx.Context, job *types.GenerationJob) error
	FailJob(dbc dbctx.Context, job *types.GenerationJob, reason string) error
	GetJob(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error)
	ListJobs(dbc dbctx.Context, f repos.JobFilter) ([]*types.GenerationJob, error)
}

type stepTracer struct {
	log    *logger.Logger
	jobs   repos.GenerationJobRepo
	steps  repos.GenerationStepRepo
	notify GenerationNotifier
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[uuid.UUID]trace.Span
}

func NewStepTracer(
	baseLog *logger.Logger,
	jobRepo repos.GenerationJobRepo,
	stepRepo repos.GenerationStepRepo,
	notify GenerationNotifier,
	tp trace.TracerProvider,
) StepTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	return &stepTracer{
		log:    baseLog.With("service", "StepTracer"),
		jobs:   jobRepo,
		steps:  stepRepo,
		notify: notify,
		tracer: tp.Tracer(tracerName),
		spans:  make(map[uuid.UUID]trace.Span),
	}
}

var terminalJobStatuses = []string{jobs.JobCompleted, jobs.JobFailed}

func (t *stepTracer) CreateJob(dbc dbctx.Context, job *types.GenerationJob) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	job.Status = jobs.JobQueued
	if err := t.jobs.Create(dbc, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	t.notify.GenerationUpdate(dbc.Ctx, job, "", jobs.JobQueued)
	return nil
}

func (t *stepTracer) MarkRunning(dbc dbctx.Context, job *types.GenerationJob) error {
	now := time.Now()
	ok, err := t.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalJobStatuses, map[string]interface{}{
		"status":     jobs.JobRunning,
		"started_at": now,
	})
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		return ErrJobTerminal
	}
	job.Status = jobs.JobRunning
	job.StartedAt = &now
	t.notify.GenerationUpdate(dbc.Ctx, job, job.CurrentStep(), jobs.JobRunning)
	return nil
}

func (t *stepTracer) StartStep(dbc dbctx.Context, job *types.GenerationJob, name string, input any) (*types.GenerationStep, error) {
	if job.Terminal() {
		return nil, ErrJobTerminal
	}
	if n := len(job.Steps); n > 0 && !job.Steps[n-1].Closed() {
		return nil, ErrStepStillOpen
	}
	step := &types.GenerationStep{
		JobID:     job.ID,
		Seq:       len(job.Steps) + 1,
		Name:      name,
		Status:    jobs.StepRunning,
		StartedAt: time.Now(),
		Input:     toJSON(input),
	}
	if err := t.steps.Create(dbc, step); err != nil {
		return nil, fmt.Errorf("start step %s: %w", name, err)
	}
	job.Steps = append(job.Steps, *step)

	_, span := t.tracer.Start(dbc.Ctx, "generation."+name, trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("line_item.id", job.LineItemID.String()),
		attribute.Int("step.seq", step.Seq),
	))
	t.mu.Lock()
	t.spans[step.ID] = span
	t.mu.Unlock()

	t.notify.GenerationUpdate(dbc.Ctx, job, name, jobs.StepRunning)
	return &job.Steps[len(job.Steps)-1], nil
}

func (t *stepTracer) CompleteStep(dbc dbctx.Context, job *types.GenerationJob, step *types.GenerationStep, output any, usage *types.TokenUsage) error {
	now := time.Now()
	duration := now.Sub(step.StartedAt).Milliseconds()
	updates := map[string]interface{}{
		"status":      jobs.StepCompleted,
		"finished_at": now,
		"duration_ms": duration,
		"output":      toJSON(output),
	}
	if usage != nil {
		updates["prompt_tokens"] = usage.PromptTokens
		updates["completion_tokens"] = usage.CompletionTokens
		updates["total_tokens"] = usage.TotalTokens
	}
	ok, err := t.steps.CloseIfRunning(dbc, step.ID, updates)
	if err != nil {
		return fmt.Errorf("complete step %s: %w", step.Name, err)
	}
	if !ok {
		return ErrStepNotRunning
	}

	step.Status = jobs.StepCompleted
	step.FinishedAt = &now
	step.DurationMs = duration
	step.Output = toJSON(output)
	if usage != nil {
		p, c, tot := usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens
		step.PromptTokens, step.CompletionTokens, step.TotalTokens = &p, &c, &tot
	}
	t.endSpan(step, nil, usage)
	t.notify.GenerationUpdate(dbc.Ctx, job, step.Name, jobs.StepCompleted)
	return nil
}

func (t *stepTracer) FailStep(dbc dbctx.Context, job *types.GenerationJob, step *types.GenerationStep, stepErr error) error {
	now := time.Now()
	duration := now.Sub(step.StartedAt).Milliseconds()
	msg := errorText(stepErr)
	ok, err := t.steps.CloseIfRunning(dbc, step.ID, map[string]interface{}{
		"status":      jobs.StepFailed,
		"finished_at": now,
		"duration_ms": duration,
		"error":       msg,
	})
	if err != nil {
		return fmt.Errorf("fail step %s: %w", step.Name, err)
	}
	if !ok {
		return ErrStepNotRunning
	}

	step.Status = jobs.StepFailed
	step.FinishedAt = &now
	step.DurationMs = duration
	step.Error = msg
	t.endSpan(step, stepErr, nil)
	t.notify.GenerationUpdate(dbc.Ctx, job, step.Name, jobs.StepFailed)
	return nil
}

func (t *stepTracer) CompleteJob(dbc dbctx.Context, job *types.GenerationJob) error {
	if len(job.Steps) == 0 {
		return ErrIncompleteJob
	}
	for i := range job.Steps {
		if job.Steps[i].Status != jobs.StepCompleted {
			return ErrIncompleteJob
		}
	}
	return t.finish(dbc, job, jobs.JobCompleted, "")
}

func (t *stepTracer) FailJob(dbc dbctx.Context, job *types.GenerationJob, reason string) error {
	return t.finish(dbc, job, jobs.JobFailed, reason)
}

func (t *stepTracer) finish(dbc dbctx.Context, job *types.GenerationJob, status string, reason string) error {
	now := time.Now()
	var total int64
	if job.StartedAt != nil {
		total = now.Sub(*job.StartedAt).Milliseconds()
	} else {
		for i := range job.Steps {
			total += job.Steps[i].DurationMs
		}
	}
	usage := sumUsage(job.Steps)

	ok, err := t.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalJobStatuses, map[string]interface{}{
		"status":            status,
		"error":             reason,
		"finished_at":       now,
		"total_duration_ms": total,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	})
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if !ok {
		return ErrJobTerminal
	}
	job.Status = status
	job.Error = reason
	job.FinishedAt = &now
	job.TotalDurationMs = total
	job.PromptTokens = usage.PromptTokens
	job.CompletionTokens = usage.CompletionTokens
	job.TotalTokens = usage.TotalTokens

	t.notify.GenerationUpdate(dbc.Ctx, job, job.CurrentStep(), status)
	return nil
}

func (t *stepTracer) GetJob(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	return t.jobs.GetByID(dbc, id)
}

func (t *stepTracer) ListJobs(dbc dbctx.Context, f repos.JobFilter) ([]*types.GenerationJob, error) {
	return t.jobs.List(dbc, f)
}

func (t *stepTracer) endSpan(step *types.GenerationStep, stepErr error, usage *types.TokenUsage) {
	t.mu.Lock()
	span, ok := t.spans[step.ID]
	delete(t.spans, step.ID)
	t.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("step.duration_ms", step.DurationMs))
	if usage != nil {
		span.SetAttributes(attribute.Int64("llm.total_tokens", usage.TotalTokens))
	}
	if stepErr != nil {
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	}
	span.End()
}

func sumUsage(steps []types.GenerationStep) types.TokenUsage {
	var u types.TokenUsage
	for i := range steps {
		s := &steps[i]
		if s.PromptTokens != nil {
			u.PromptTokens += *s.PromptTokens
		}
		if s.CompletionTokens != nil {
			u.CompletionTokens += *s.CompletionTokens
		}
		if s.TotalTokens != nil {
			u.TotalTokens += *s.TotalTokens
		}
	}
	return u
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown error"
}
