package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/fulfillment-backend/internal/http/handlers"
	httpMW "github.com/yungbote/fulfillment-backend/internal/http/middleware"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	WebhookSecret *httpMW.WebhookSecretMiddleware

	IntakeHandler     *httpH.IntakeHandler
	GenerationHandler *httpH.GenerationHandler
	RealtimeHandler   *httpH.RealtimeHandler
	DashboardHandler  *httpH.DashboardHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Webhooks + admin edits (shared secret)
	intake := r.Group("/intake")
	{
		if cfg.WebhookSecret != nil {
			intake.Use(cfg.WebhookSecret.RequireSecret())
		}
		if cfg.IntakeHandler != nil {
			intake.POST("/ordered-texts", cfg.IntakeHandler.ReceiveOrdered)
			intake.POST("/generated-texts", cfg.IntakeHandler.ReceiveGenerated)
			intake.PATCH("/ordered-texts/:id/status", cfg.IntakeHandler.UpdateStatus)
			intake.DELETE("/ordered-texts/:id", cfg.IntakeHandler.Delete)
		}
	}

	generation := r.Group("/generation")
	{
		if cfg.GenerationHandler != nil {
			generation.POST("/start", cfg.GenerationHandler.Start)
			generation.GET("/jobs", cfg.GenerationHandler.ListJobs)
			generation.GET("/jobs/:id", cfg.GenerationHandler.GetJob)
		}
		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			generation.GET("/stream", cfg.RealtimeHandler.Stream)
		}
	}

	if cfg.DashboardHandler != nil {
		r.GET("/dashboard/summary", cfg.DashboardHandler.Summary)
	}

	return r
}
