package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type countingReconciler struct {
	ReconcileService
	calls atomic.Int32
	block chan struct{}
}

func (c *countingReconciler) Repair(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if c.block != nil {
		<-c.block
	}
	return 2, nil
}

func TestRepairSchedulerRunOnce(t *testing.T) {
	fake := &countingReconciler{}
	r := NewRepairScheduler(logger.Nop(), fake, nil, time.Minute)
	if n := r.RunOnce(context.Background()); n != 2 {
		t.Fatalf("RunOnce: want=2 got=%d", n)
	}
	if fake.calls.Load() != 1 {
		t.Fatalf("calls: want=1 got=%d", fake.calls.Load())
	}
}

type countingRecoverer struct{ calls atomic.Int32 }

func (c *countingRecoverer) RecoverInterrupted(ctx context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestRepairSchedulerRecoversInterruptedJobs(t *testing.T) {
	rec := &countingRecoverer{}
	r := NewRepairScheduler(logger.Nop(), &countingReconciler{}, rec, time.Minute)
	r.RunOnce(context.Background())
	if rec.calls.Load() != 1 {
		t.Fatalf("recover calls: want=1 got=%d", rec.calls.Load())
	}
}

func TestRepairSchedulerSkipsOverlappingRuns(t *testing.T) {
	fake := &countingReconciler{block: make(chan struct{})}
	r := NewRepairScheduler(logger.Nop(), fake, nil, time.Minute)

	done := make(chan struct{})
	go func() {
		r.RunOnce(context.Background())
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for fake.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := r.RunOnce(context.Background()); n != 0 {
		t.Fatalf("overlapping RunOnce: want=0 got=%d", n)
	}
	close(fake.block)
	<-done
	if fake.calls.Load() != 1 {
		t.Fatalf("calls: want=1 got=%d", fake.calls.Load())
	}
}

func TestRepairSchedulerStartStop(t *testing.T) {
	r := NewRepairScheduler(logger.Nop(), &countingReconciler{}, nil, time.Second)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}
