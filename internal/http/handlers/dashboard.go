package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/fulfillment-backend/internal/http/response"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

type DashboardHandler struct {
	dashboard services.DashboardService
}

func NewDashboardHandler(dashboard services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// GET /dashboard/summary
func (h *DashboardHandler) Summary(c *gin.Context) {
	sum, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, "summary_failed", err)
		return
	}
	response.RespondOK(c, sum)
}
