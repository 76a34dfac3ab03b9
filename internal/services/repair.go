package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

// InterruptRecoverer fails generation jobs that no live process holds.
type InterruptRecoverer interface {
	RecoverInterrupted(ctx context.Context) (int, error)
}

// RepairScheduler runs the reconciliation repair sweep on a fixed interval. Each sweep also
// recovers generation jobs whose owner stopped renewing their lease.
type RepairScheduler struct {
	log       *logger.Logger
	svc       ReconcileService
	recoverer InterruptRecoverer
	interval  time.Duration
	timeout   time.Duration

	cron    *cron.Cron
	running atomic.Bool
}

func NewRepairScheduler(baseLog *logger.Logger, svc ReconcileService, recoverer InterruptRecoverer, interval time.Duration) *RepairScheduler {
	if interval < time.Second {
		interval = time.Minute
	}
	return &RepairScheduler{
		log:       baseLog.With("service", "RepairScheduler"),
		svc:       svc,
		recoverer: recoverer,
		interval:  interval,
		timeout:   interval,
	}
}

func (r *RepairScheduler) Start() error {
	c := cron.New()
	if err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), func() { r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule repair sweep: %w", err)
	}
	c.Start()
	r.cron = c
	r.log.Info("repair sweep scheduled", "interval", r.interval.String())
	return nil
}

func (r *RepairScheduler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// RunOnce performs one sweep unless another is still in progress.
func (r *RepairScheduler) RunOnce(ctx context.Context) int {
	if !r.running.CompareAndSwap(false, true) {
		return 0
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.recoverer != nil {
		if _, err := r.recoverer.RecoverInterrupted(ctx); err != nil {
			r.log.Warn("interrupted job recovery failed", "error", err)
		}
	}
	n, err := r.svc.Repair(ctx)
	if err != nil {
		r.log.Warn("repair sweep failed", "error", err)
	}
	return n
}
