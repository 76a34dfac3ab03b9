package app

import (
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/fulfillment-backend/internal/jobs/worker"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

type Services struct {
	Intake     services.IntakeService
	Reconcile  services.ReconcileService
	Generation services.GenerationOrchestrator
	Tracer     services.StepTracer
	Dashboard  services.DashboardService
	Repair     *services.RepairScheduler
	Workers    *worker.Pool
}

func wireServices(log *logger.Logger, cfg *Config, r Repos, c Clients, hub *realtime.SSEHub, tp trace.TracerProvider) (Services, error) {
	log.Info("Wiring services...")

	var emitter services.SSEEmitter = &services.HubEmitter{Hub: hub}
	if c.Bus != nil {
		emitter = &services.RedisEmitter{Bus: c.Bus, Log: log.With("component", "RedisEmitter")}
	}
	notifier := services.NewGenerationNotifier(emitter)
	tracer := services.NewStepTracer(log, r.Job, r.Step, notifier, tp)

	composer, err := services.NewPromptComposer(log)
	if err != nil {
		return Services{}, fmt.Errorf("init prompt composer: %w", err)
	}

	reconcile := services.NewReconcileService(log, r.IntakeRecord, r.OutputRecord, r.LineItem, r.Order, r.Saga, services.ReconcileOptions{
		Mode:              cfg.Reconcile.Mode,
		RepairGrace:       cfg.Reconcile.RepairGrace,
		RepairMaxAttempts: cfg.Reconcile.RepairMaxAttempts,
		RepairBatch:       cfg.Reconcile.RepairBatch,
	})

	pool := worker.NewPool(log, worker.Options{
		Concurrency: cfg.Generation.Workers,
		QueueSize:   cfg.Generation.QueueSize,
	})

	generation := services.NewGenerationOrchestrator(
		log,
		r.LineItem,
		r.Order,
		r.Job,
		tracer,
		composer,
		c.OpenAI,
		reconcile,
		pool,
		services.GenerationOptions{
			LLMTimeout: cfg.Generation.LLMTimeout,
			InstanceID: instanceID(cfg),
			LeaseTTL:   cfg.Generation.LeaseTTL,
		},
	)

	return Services{
		Intake:     services.NewIntakeService(log, r.IntakeRecord, r.LineItem, cfg.Generation.IntakeConcurrency),
		Reconcile:  reconcile,
		Generation: generation,
		Tracer:     tracer,
		Dashboard:  services.NewDashboardService(log, r.IntakeRecord, r.OutputRecord, r.Job, r.LineItem, r.Saga),
		Repair:     services.NewRepairScheduler(log, reconcile, generation, cfg.Reconcile.RepairInterval),
		Workers:    pool,
	}, nil
}

func instanceID(cfg *Config) string {
	if cfg.Generation.InstanceID != "" {
		return cfg.Generation.InstanceID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return ""
}
