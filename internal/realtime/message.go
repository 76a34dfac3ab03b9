package realtime

type SSEEvent string

const SSEEventGenerationUpdate SSEEvent = "generationUpdate"

type SSEMessage struct {
	Event SSEEvent `json:"event"`
	Data  any      `json:"data,omitempty"`
}

// GenerationUpdate is the payload of a generationUpdate event.
type GenerationUpdate struct {
	JobID       string `json:"jobId"`
	CurrentStep string `json:"currentStep"`
	Status      string `json:"status"`
}
