package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
	"github.com/yungbote/fulfillment-backend/internal/domain/jobs"
	"github.com/yungbote/fulfillment-backend/internal/domain/orders"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
	"github.com/yungbote/fulfillment-backend/internal/platform/ctxutil"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

// Output record policies.
const (
	OutputModeAppend = "append"
	OutputModeUpsert = "upsert"
)

// ReconcileOutcome is the terminal result of one generation attempt.
type ReconcileOutcome struct {
	Outcome      string
	Content      string
	ErrorMessage string
}

// OutputWebhook is the body of an externally-produced output delivery.
type OutputWebhook struct {
	ExternalOrderID string `json:"externalOrderId"`
	ExternalItemID  string `json:"externalItemId"`
	Content         string `json:"content"`
	Status          string `json:"status"`
	ErrorMessage    string `json:"errorMessage"`
}

type ReconcileOptions struct {
	Mode              string
	RepairGrace       time.Duration
	RepairMaxAttempts int
	RepairBatch       int
}

// ErrOrderStage marks a reconciliation whose records were updated but whose order recompute failed.
var ErrOrderStage = errors.New("order status recompute failed")

type ReconcileService interface {
	// ReceiveOutput records an externally produced output and reconciles its intake record.
	ReceiveOutput(ctx context.Context, in OutputWebhook) (*types.OutputRecord, error)
	// Reconcile propagates outcome to the output record, the intake record, its line item and the order.
	Reconcile(ctx context.Context, rec *types.IntakeRecord, outputID *uuid.UUID, outcome ReconcileOutcome) (*types.ReconciliationSaga, error)
	// ReconcileLineItem reconciles every intake record linked to a line item after an own-built run.
	ReconcileLineItem(ctx context.Context, lineItemID uuid.UUID, outcome ReconcileOutcome) error
	UpdateIntakeStatus(ctx context.Context, id uuid.UUID, status string) (*types.IntakeRecord, error)
	DeleteIntake(ctx context.Context, id uuid.UUID) (*IntakeDeleteResult, error)
	// Repair re-applies pending or failed sagas older than the grace period.
	Repair(ctx context.Context) (int, error)
}

type IntakeDeleteResult struct {
	IntakeRecordID uuid.UUID `json:"intakeRecordId"`
	OutputRecords  int64     `json:"outputRecords"`
	Sagas          int64     `json:"sagas"`
}

type reconcileService struct {
	log     *logger.Logger
	intakes repos.IntakeRecordRepo
	outputs repos.OutputRecordRepo
	items   repos.LineItemRepo
	orders  repos.OrderRepo
	sagas   repos.SagaRepo
	opts    ReconcileOptions
}

func NewReconcileService(
	baseLog *logger.Logger,
	intakes repos.IntakeRecordRepo,
	outputs repos.OutputRecordRepo,
	items repos.LineItemRepo,
	orderRepo repos.OrderRepo,
	sagas repos.SagaRepo,
	opts ReconcileOptions,
) ReconcileService {
	if opts.Mode != OutputModeUpsert {
		opts.Mode = OutputModeAppend
	}
	if opts.RepairGrace <= 0 {
		opts.RepairGrace = time.Minute
	}
	if opts.RepairMaxAttempts <= 0 {
		opts.RepairMaxAttempts = 10
	}
	if opts.RepairBatch <= 0 {
		opts.RepairBatch = 50
	}
	return &reconcileService{
		log:     baseLog.With("service", "ReconcileService"),
		intakes: intakes,
		outputs: outputs,
		items:   items,
		orders:  orderRepo,
		sagas:   sagas,
		opts:    opts,
	}
}

func (s *reconcileService) ReceiveOutput(ctx context.Context, in OutputWebhook) (*types.OutputRecord, error) {
	in.ExternalOrderID = strings.TrimSpace(in.ExternalOrderID)
	in.ExternalItemID = strings.TrimSpace(in.ExternalItemID)
	if in.ExternalOrderID == "" || in.ExternalItemID == "" {
		return nil, apierr.Validation("missing_keys", "externalOrderId and externalItemId are required")
	}
	var outcome string
	switch strings.ToLower(strings.TrimSpace(in.Status)) {
	case "done":
		outcome = jobs.OutcomeDone
	case "error":
		outcome = jobs.OutcomeError
	default:
		return nil, apierr.Validation("invalid_status", "status must be Done or Error, got %q", in.Status)
	}
	if outcome != jobs.OutcomeError && strings.TrimSpace(in.Content) == "" {
		return nil, apierr.Validation("missing_content", "content is required unless status is Error")
	}

	dbc := dbctx.New(ctx)
	rec, err := s.intakes.GetByNaturalKey(dbc, in.ExternalOrderID, in.ExternalItemID)
	if err != nil {
		return nil, apierr.Persistence("intake_lookup_failed", err)
	}
	if rec == nil {
		return nil, apierr.NotFound("intake_not_found", "no intake record for %s/%s", in.ExternalOrderID, in.ExternalItemID)
	}

	out, err := s.deliverOutput(dbc, rec.ID, in.Content)
	if err != nil {
		return nil, apierr.Persistence("output_persist_failed", err)
	}

	_, err = s.Reconcile(ctx, rec, &out.ID, ReconcileOutcome{Outcome: outcome, Content: in.Content, ErrorMessage: in.ErrorMessage})
	if err != nil && !errors.Is(err, ErrOrderStage) {
		return nil, err
	}
	fresh, gerr := s.outputs.GetByID(dbc, out.ID)
	if gerr != nil || fresh == nil {
		return out, nil
	}
	return fresh, nil
}

// deliverOutput stores delivered content for an intake record according to the output mode.
func (s *reconcileService) deliverOutput(dbc dbctx.Context, intakeID uuid.UUID, content string) (*types.OutputRecord, error) {
	now := time.Now()
	if s.opts.Mode == OutputModeUpsert {
		existing, err := s.outputs.LatestForIntake(dbc, intakeID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.SetContent(content)
			err := withStoreRetry(dbc.Ctx, func() error {
				return s.outputs.UpdateFields(dbc, existing.ID, map[string]interface{}{
					"content":         existing.Content,
					"word_count":      existing.WordCount,
					"character_count": existing.CharacterCount,
					"delivered":       true,
					"delivered_at":    now,
				})
			})
			if err != nil {
				return nil, err
			}
			existing.Delivered = true
			existing.DeliveredAt = &now
			return existing, nil
		}
	}
	out := &types.OutputRecord{
		IntakeRecordID: intakeID,
		Status:         intake.OutputGenerating,
		Delivered:      true,
		DeliveredAt:    &now,
	}
	out.SetContent(content)
	if err := withStoreRetry(dbc.Ctx, func() error { return s.outputs.Create(dbc, out) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *reconcileService) Reconcile(ctx context.Context, rec *types.IntakeRecord, outputID *uuid.UUID, outcome ReconcileOutcome) (*types.ReconciliationSaga, error) {
	if rec == nil || rec.ID == uuid.Nil {
		return nil, apierr.Validation("missing_intake", "intake record is required")
	}
	if _, ok := types.StatusesForOutcome(outcome.Outcome); !ok {
		return nil, apierr.Validation("invalid_outcome", "unknown outcome %q", outcome.Outcome)
	}
	dbc := dbctx.New(ctx)
	saga := &types.ReconciliationSaga{
		IntakeRecordID: rec.ID,
		OutputRecordID: outputID,
		Outcome:        outcome.Outcome,
		Content:        outcome.Content,
		ContentDigest:  contentDigest(outcome.Content),
		ErrorMessage:   outcome.ErrorMessage,
		Status:         jobs.SagaPending,
	}
	if err := withStoreRetry(ctx, func() error { return s.sagas.Create(dbc, saga) }); err != nil {
		return nil, apierr.Persistence("saga_create_failed", err)
	}
	if err := s.apply(dbc, saga, rec); err != nil {
		return saga, err
	}
	return saga, nil
}

// apply runs every stage in order and records progress on the saga. Each stage writes
// absolute values, so replaying a partially applied saga converges on the same state.
func (s *reconcileService) apply(dbc dbctx.Context, saga *types.ReconciliationSaga, rec *types.IntakeRecord) error {
	set, _ := types.StatusesForOutcome(saga.Outcome)
	stages := []struct {
		name string
		run  func() error
	}{
		{jobs.SagaStageOutput, func() error { return s.applyOutput(dbc, saga, set) }},
		{jobs.SagaStageIntake, func() error {
			return s.intakes.UpdateFields(dbc, rec.ID, map[string]interface{}{"status": set.Intake})
		}},
		{jobs.SagaStageLineItem, func() error { return s.applyLineItem(dbc, saga, rec, set) }},
		{jobs.SagaStageOrder, func() error { return s.applyOrder(dbc, rec) }},
	}

	for _, st := range stages {
		if err := withStoreRetry(dbc.Ctx, st.run); err != nil {
			s.failSaga(dbc, saga, st.name, err)
			if st.name == jobs.SagaStageOrder {
				s.log.Error("reconciliation left order status stale", append(ctxutil.LogFields(dbc.Ctx),
					"saga_id", saga.ID, "intake_record_id", rec.ID, "error", err)...)
				return fmt.Errorf("%w: %v", ErrOrderStage, err)
			}
			return apierr.Persistence("reconcile_failed", fmt.Errorf("stage %s: %w", st.name, err))
		}
		saga.LastStage = st.name
		_ = s.sagas.UpdateFields(dbc, saga.ID, map[string]interface{}{"last_stage": st.name})
	}

	saga.Status = jobs.SagaApplied
	saga.Error = ""
	if err := s.sagas.UpdateFields(dbc, saga.ID, map[string]interface{}{
		"status": jobs.SagaApplied,
		"error":  "",
	}); err != nil {
		s.log.Warn("mark saga applied failed", "saga_id", saga.ID, "error", err)
	}
	rec.Status = set.Intake
	return nil
}

func (s *reconcileService) applyOutput(dbc dbctx.Context, saga *types.ReconciliationSaga, set types.StatusSet) error {
	if saga.OutputRecordID == nil {
		out, err := s.deliverOutput(dbc, saga.IntakeRecordID, saga.Content)
		if err != nil {
			return err
		}
		saga.OutputRecordID = &out.ID
		if err := s.sagas.UpdateFields(dbc, saga.ID, map[string]interface{}{"output_record_id": out.ID}); err != nil {
			return err
		}
	}
	updates := map[string]interface{}{
		"status":        set.Output,
		"error_message": saga.ErrorMessage,
	}
	if saga.Outcome == jobs.OutcomeDone {
		counted := types.OutputRecord{}
		counted.SetContent(saga.Content)
		updates["content"] = counted.Content
		updates["word_count"] = counted.WordCount
		updates["character_count"] = counted.CharacterCount
	}
	return s.outputs.UpdateFields(dbc, *saga.OutputRecordID, updates)
}

func (s *reconcileService) applyLineItem(dbc dbctx.Context, saga *types.ReconciliationSaga, rec *types.IntakeRecord, set types.StatusSet) error {
	if rec.LineItemID == nil {
		return nil
	}
	updates := map[string]interface{}{"status": set.LineItem}
	if saga.Outcome == jobs.OutcomeDone {
		updates["content"] = saga.Content
		updates["progress"] = 100
	} else {
		updates["progress"] = 0
	}
	applied, err := s.items.UpdateFieldsIfUnclaimed(dbc, *rec.LineItemID, updates)
	if err != nil || applied {
		return err
	}
	// A running generation job owns the item; its own outcome decides the line item state.
	s.log.Info("line item held by a generation job, left untouched",
		"saga_id", saga.ID, "intake_record_id", rec.ID, "line_item_id", *rec.LineItemID)
	return nil
}

func (s *reconcileService) applyOrder(dbc dbctx.Context, rec *types.IntakeRecord) error {
	orderID := rec.OrderID
	if orderID == nil && rec.LineItemID != nil {
		li, err := s.items.GetByID(dbc, *rec.LineItemID)
		if err != nil {
			return err
		}
		if li != nil {
			orderID = &li.OrderID
		}
	}
	if orderID == nil {
		return nil
	}
	_, err := s.orders.RecomputeStatus(dbc, *orderID)
	return err
}

func (s *reconcileService) failSaga(dbc dbctx.Context, saga *types.ReconciliationSaga, stage string, cause error) {
	saga.Status = jobs.SagaFailed
	saga.Error = fmt.Sprintf("%s: %v", stage, cause)
	if err := s.sagas.UpdateFields(dbc, saga.ID, map[string]interface{}{
		"status": jobs.SagaFailed,
		"error":  saga.Error,
	}); err != nil {
		s.log.Error("mark saga failed failed", "saga_id", saga.ID, "error", err)
	}
}

func (s *reconcileService) ReconcileLineItem(ctx context.Context, lineItemID uuid.UUID, outcome ReconcileOutcome) error {
	recs, err := s.intakes.ListByLineItem(dbctx.New(ctx), lineItemID)
	if err != nil {
		return err
	}
	var errs error
	for _, rec := range recs {
		if _, err := s.Reconcile(ctx, rec, nil, outcome); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("intake %s: %w", rec.ID, err))
		}
	}
	return errs
}

func (s *reconcileService) UpdateIntakeStatus(ctx context.Context, id uuid.UUID, status string) (*types.IntakeRecord, error) {
	status = strings.TrimSpace(status)
	liStatus, ok := types.LineItemStatusForIntake(status)
	if !ok {
		return nil, apierr.Validation("invalid_status", "unknown intake status %q", status)
	}
	dbc := dbctx.New(ctx)
	rec, err := s.intakes.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Persistence("intake_lookup_failed", err)
	}
	if rec == nil {
		return nil, apierr.NotFound("intake_not_found", "intake record %s not found", id)
	}
	if rec.LineItemID != nil {
		li, err := s.items.GetByID(dbc, *rec.LineItemID)
		if err != nil {
			return nil, apierr.Persistence("line_item_lookup_failed", err)
		}
		if li != nil && li.GenerationJobID != nil {
			return nil, apierr.Conflict("generation_in_progress", "line item %s is being generated by job %s", li.ID, *li.GenerationJobID)
		}
	}

	if err := withStoreRetry(ctx, func() error {
		return s.intakes.UpdateFields(dbc, id, map[string]interface{}{"status": status})
	}); err != nil {
		return nil, apierr.Persistence("intake_update_failed", err)
	}
	rec.Status = status

	if rec.LineItemID != nil {
		updates := map[string]interface{}{"status": liStatus}
		switch liStatus {
		case orders.StatusDone:
			updates["progress"] = 100
		case orders.StatusWaiting:
			updates["progress"] = 0
		}
		var applied bool
		if err := withStoreRetry(ctx, func() error {
			var err error
			applied, err = s.items.UpdateFieldsIfUnclaimed(dbc, *rec.LineItemID, updates)
			return err
		}); err != nil {
			return nil, apierr.Persistence("line_item_update_failed", err)
		}
		if !applied {
			s.log.Warn("line item not updated by status edit", "intake_record_id", id, "line_item_id", *rec.LineItemID)
		}
		if err := s.applyOrder(dbc, rec); err != nil {
			s.log.Error("order recompute after status edit failed", "intake_record_id", id, "error", err)
		}
	}
	s.log.Info("intake status edited", "intake_record_id", id, "status", status)
	return rec, nil
}

func (s *reconcileService) DeleteIntake(ctx context.Context, id uuid.UUID) (*IntakeDeleteResult, error) {
	dbc := dbctx.New(ctx)
	rec, err := s.intakes.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.Persistence("intake_lookup_failed", err)
	}
	if rec == nil {
		return nil, apierr.NotFound("intake_not_found", "intake record %s not found", id)
	}
	res := &IntakeDeleteResult{IntakeRecordID: id}
	if res.OutputRecords, err = s.outputs.DeleteByIntake(dbc, id); err != nil {
		return nil, apierr.Persistence("output_delete_failed", err)
	}
	if res.Sagas, err = s.sagas.DeleteByIntake(dbc, id); err != nil {
		return nil, apierr.Persistence("saga_delete_failed", err)
	}
	if _, err := s.intakes.Delete(dbc, id); err != nil {
		return nil, apierr.Persistence("intake_delete_failed", err)
	}
	s.log.Info("intake record deleted", "intake_record_id", id, "output_records", res.OutputRecords, "sagas", res.Sagas)
	return res, nil
}

func (s *reconcileService) Repair(ctx context.Context) (int, error) {
	dbc := dbctx.New(ctx)
	pending, err := s.sagas.ListRepairable(dbc, time.Now().Add(-s.opts.RepairGrace), s.opts.RepairMaxAttempts, s.opts.RepairBatch)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, saga := range pending {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		saga.Attempts++
		_ = s.sagas.UpdateFields(dbc, saga.ID, map[string]interface{}{"attempts": saga.Attempts})

		rec, err := s.intakes.GetByID(dbc, saga.IntakeRecordID)
		if err != nil {
			s.log.Warn("saga repair lookup failed", "saga_id", saga.ID, "error", err)
			continue
		}
		if rec == nil {
			s.failSaga(dbc, saga, jobs.SagaStageIntake, errors.New("intake record missing"))
			continue
		}
		if err := s.apply(dbc, saga, rec); err != nil {
			s.log.Warn("saga repair failed", "saga_id", saga.ID, "attempts", saga.Attempts, "error", err)
			continue
		}
		repaired++
	}
	if repaired > 0 {
		s.log.Info("reconciliation sagas repaired", "count", repaired)
	}
	return repaired, nil
}

func contentDigest(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
