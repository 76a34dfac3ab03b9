package app

import (
	httpH "github.com/yungbote/fulfillment-backend/internal/http/handlers"
	httpMW "github.com/yungbote/fulfillment-backend/internal/http/middleware"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
)

type Middleware struct {
	WebhookSecret *httpMW.WebhookSecretMiddleware
}

type Handlers struct {
	Health     *httpH.HealthHandler
	Intake     *httpH.IntakeHandler
	Generation *httpH.GenerationHandler
	Realtime   *httpH.RealtimeHandler
	Dashboard  *httpH.DashboardHandler
}

func wireMiddleware(log *logger.Logger, cfg *Config) Middleware {
	log.Info("Wiring middleware...")
	if cfg.Webhook.Secret == "" {
		log.Warn("WEBHOOK_SECRET is empty; intake endpoints are unauthenticated (sqlite dev mode)")
	}
	return Middleware{
		WebhookSecret: httpMW.NewWebhookSecretMiddleware(log, cfg.Webhook.Secret),
	}
}

func wireHandlers(log *logger.Logger, s Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(),
		Intake:     httpH.NewIntakeHandler(s.Intake, s.Reconcile),
		Generation: httpH.NewGenerationHandler(s.Generation),
		Realtime:   httpH.NewRealtimeHandler(log, hub),
		Dashboard:  httpH.NewDashboardHandler(s.Dashboard),
	}
}
