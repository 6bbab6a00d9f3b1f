package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"Pivot/internal/metrics"
)

// ErrBusy is returned when the generation slot stayed taken for the whole
// admission wait.
var ErrBusy = errors.New("server: generation slot busy")

// admission hands out the single generation slot. Requests queue for at most
// maxWait.
type admission struct {
	slot    chan struct{}
	maxWait time.Duration
	waiting atomic.Int64
}

func newAdmission(maxWait time.Duration) *admission {
	return &admission{slot: make(chan struct{}, 1), maxWait: maxWait}
}

// acquire blocks until the slot is free, ctx ends or maxWait elapses. The
// returned func releases the slot.
func (a *admission) acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	metrics.SetQueueDepth(int(a.waiting.Add(1)))
	defer func() { metrics.SetQueueDepth(int(a.waiting.Add(-1))) }()

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()

	select {
	case a.slot <- struct{}{}:
		metrics.RecordQueueWait(time.Since(start))
		return func() { <-a.slot }, nil
	case <-timer.C:
		metrics.RecordQueueRejection()
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
