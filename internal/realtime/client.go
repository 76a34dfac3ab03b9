package realtime

import (
	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type SSEClient struct {
	ID       uuid.UUID
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}
