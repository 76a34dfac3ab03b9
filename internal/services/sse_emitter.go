package services

import (
	"context"
	"time"

	"github.com/yungbote/fulfillment-backend/internal/platform/ctxutil"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
	"github.com/yungbote/fulfillment-backend/internal/realtime/bus"
)

type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

// RedisEmitter publishes through the bus; every instance's forwarder feeds its own hub.
type RedisEmitter struct {
	Bus     bus.Bus
	Log     *logger.Logger
	Timeout time.Duration
}

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(ctxutil.Detach(ctx), timeout)
	defer cancel()
	if err := e.Bus.Publish(pubCtx, msg); err != nil && e.Log != nil {
		e.Log.Warn("realtime publish failed", "event", msg.Event, "error", err)
	}
}
