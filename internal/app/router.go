package app

import (
	"github.com/yungbote/fulfillment-backend/internal/http"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg *Config, h Handlers, mw Middleware) *http.Server {
	log.Info("Wiring router...")
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:               log,
		ServiceName:       serviceName,
		CORSOrigins:       cfg.CORS.AllowedOrigins,
		WebhookSecret:     mw.WebhookSecret,
		IntakeHandler:     h.Intake,
		GenerationHandler: h.Generation,
		RealtimeHandler:   h.Realtime,
		DashboardHandler:  h.Dashboard,
		HealthHandler:     h.Health,
	})
}
