package services

import (
	"context"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/realtime"
)

// GenerationNotifier publishes job and step transitions to realtime observers.
// Delivery is best effort; observers that connect late read state from the tracer.
type GenerationNotifier interface {
	GenerationUpdate(ctx context.Context, job *types.GenerationJob, currentStep string, status string)
}

type generationNotifier struct {
	emit SSEEmitter
}

func NewGenerationNotifier(emit SSEEmitter) GenerationNotifier {
	return &generationNotifier{emit: emit}
}

func (n *generationNotifier) GenerationUpdate(ctx context.Context, job *types.GenerationJob, currentStep string, status string) {
	if n == nil || n.emit == nil || job == nil {
		return
	}
	n.emit.Emit(ctx, realtime.SSEMessage{
		Event: realtime.SSEEventGenerationUpdate,
		Data: realtime.GenerationUpdate{
			JobID:       job.ID.String(),
			CurrentStep: currentStep,
			Status:      status,
		},
	})
}

// NopNotifier drops every update.
type NopNotifier struct{}

func (NopNotifier) GenerationUpdate(context.Context, *types.GenerationJob, string, string) {}
