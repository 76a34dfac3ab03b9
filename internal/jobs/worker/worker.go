package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

var (
	ErrQueueFull  = errors.New("worker queue full")
	ErrPoolClosed = errors.New("worker pool closed")
)

// Task is one unit of background work. OnPanic receives the recovered panic as an error
// so the owner can record the failure; Run's own errors are the owner's responsibility.
type Task struct {
	ID      uuid.UUID
	Name    string
	Run     func(ctx context.Context) error
	OnPanic func(err error)
}

type Options struct {
	Concurrency int
	QueueSize   int
}

// Pool is a bounded queue drained by a fixed set of workers. Every accepted task is
// tracked until it returns, and Shutdown waits for queued and running tasks.
type Pool struct {
	log         *logger.Logger
	concurrency int
	queue       chan Task

	mu       sync.RWMutex
	closed   bool
	started  bool
	inflight map[uuid.UUID]time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

func NewPool(baseLog *logger.Logger, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	return &Pool{
		log:         baseLog.With("component", "WorkerPool"),
		concurrency: opts.Concurrency,
		queue:       make(chan Task, opts.QueueSize),
		inflight:    make(map[uuid.UUID]time.Time),
	}
}

// Start launches the workers. Tasks run with a context derived from ctx that is only
// cancelled when Shutdown gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx, p.cancelRun = context.WithCancel(context.WithoutCancel(ctx))

	p.log.Info("Starting worker pool", "concurrency", p.concurrency, "queue_size", cap(p.queue))
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runLoop(i + 1)
	}
}

// Submit enqueues t without blocking.
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %s has no Run func", t.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- t:
		p.inflight[t.ID] = time.Now()
		return nil
	default:
		return ErrQueueFull
	}
}

// InFlight returns the ids of tasks queued or running.
func (p *Pool) InFlight() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(p.inflight))
	for id := range p.inflight {
		out = append(out, id)
	}
	return out
}

// Shutdown stops accepting tasks and waits for the queue to drain. When ctx expires
// first, running tasks are cancelled and Shutdown waits for them to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelRun()
		p.log.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		p.log.Warn("Worker pool drain timed out; cancelling running tasks", "in_flight", len(p.InFlight()))
		p.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) runLoop(workerID int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.execute(workerID, t)
	}
	p.log.Debug("Worker loop stopped", "worker_id", workerID)
}

func (p *Pool) execute(workerID int, t Task) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, t.ID)
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Task panic",
				"worker_id", workerID,
				"task_id", t.ID,
				"task", t.Name,
				"panic", r,
			)
			if t.OnPanic != nil {
				t.OnPanic(&PanicError{Val: r})
			}
		}
	}()

	if err := t.Run(p.runCtx); err != nil {
		p.log.Debug("Task returned error", "worker_id", workerID, "task_id", t.ID, "task", t.Name, "error", err)
	}
}

type PanicError struct{ Val any }

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
