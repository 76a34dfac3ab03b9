package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
)

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.SSEHub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub}
}

// GET /generation/stream
func (h *RealtimeHandler) Stream(c *gin.Context) {
	client := h.Hub.NewSSEClient()
	h.Log.Info("SSE stream open", "client_id", client.ID, "remote", c.ClientIP())

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.Hub.CloseClient(client)
	h.Log.Info("SSE stream closed", "client_id", client.ID)
}
