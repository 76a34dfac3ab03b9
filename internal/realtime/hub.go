package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const (
	defaultOutboundBuffer = 16
	defaultHeartbeat      = 15 * time.Second
)

type HubOptions struct {
	OutboundBuffer int
	Heartbeat      time.Duration
}

// SSEHub fans every message out to all connected clients. Each client has a bounded
// outbound buffer; when it is full the message is dropped for that client only.
type SSEHub struct {
	mu        sync.RWMutex
	logger    *logger.Logger
	clients   map[*SSEClient]struct{}
	buffer    int
	heartbeat time.Duration
}

func NewSSEHub(log *logger.Logger, opts HubOptions) *SSEHub {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = defaultOutboundBuffer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &SSEHub{
		logger:    log.With("component", "SSEHub"),
		clients:   make(map[*SSEClient]struct{}),
		buffer:    opts.OutboundBuffer,
		heartbeat: opts.Heartbeat,
	}
}

// NewSSEClient registers a client; it receives every message broadcast after this call.
func (hub *SSEHub) NewSSEClient() *SSEClient {
	id := uuid.New()
	client := &SSEClient{
		ID:       id,
		Outbound: make(chan SSEMessage, hub.buffer),
		done:     make(chan struct{}),
		Logger:   hub.logger.With("clientID", id),
	}
	hub.mu.Lock()
	hub.clients[client] = struct{}{}
	hub.mu.Unlock()
	hub.logger.Debug("SSE client connected", "clientID", id)
	return client
}

func (hub *SSEHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func (hub *SSEHub) Broadcast(msg SSEMessage) {
	if msg.Event == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.clients {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("Dropping SSE message; outbound buffer full", "clientID", c.ID, "event", msg.Event)
		}
	}
}

func (hub *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *SSEClient) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	ctx := r.Context()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("SSE client context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			if err := sse.Encode(w, sse.Event{Event: string(msg.Event), Data: msg.Data}); err != nil {
				hub.logger.Warn("Failed to encode SSE message", "error", err)
				continue
			}
			flusher.Flush()
		}
	}
}

// CloseClient unregisters the client and closes its outbound channel. Safe to call twice.
func (hub *SSEHub) CloseClient(client *SSEClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; !ok {
		return
	}
	delete(hub.clients, client)
	close(client.done)
	close(client.Outbound)
	hub.logger.Debug("SSE client disconnected", "clientID", client.ID)
}

// CloseAll disconnects every client, used at shutdown.
func (hub *SSEHub) CloseAll() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for c := range hub.clients {
		delete(hub.clients, c)
		close(c.done)
		close(c.Outbound)
	}
}
