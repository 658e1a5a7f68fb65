package backfill

import (
	"context"
	"sync"
	"time"
)

// Concurrency bounds and step sizes for the adaptive controller.
const (
	initialLimit = 10
	minLimit     = 5
	maxLimit     = 30
	stepUp       = 3
	stepDown     = 2

	adjustWindow = 5 * time.Second
)

// Controller bounds the number of in-flight page fetches and tracks measured
// request throughput against the target rate R. When the pipeline runs below
// 0.9·R the limit grows; above 1.1·R it shrinks, inside [minLimit, maxLimit].
type Controller struct {
	target float64

	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	inflight int

	windowStart time.Time
	requests    int
}

func NewController(targetRPS float64) *Controller {
	c := &Controller{
		target:      targetRPS,
		limit:       initialLimit,
		windowStart: time.Now(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Limit returns the current concurrency limit.
func (c *Controller) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Acquire blocks until an in-flight slot is free or ctx is cancelled.
func (c *Controller) Acquire(ctx context.Context) error {
	// Wake waiters on cancellation; Cond has no context support.
	stop := context.AfterFunc(ctx, func() { c.cond.Broadcast() })
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inflight >= c.limit {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cond.Wait()
	}
	c.inflight++
	return nil
}

// Release frees an in-flight slot and records one completed request for the
// throughput measurement.
func (c *Controller) Release() {
	c.mu.Lock()
	c.inflight--
	c.requests++
	if elapsed := time.Since(c.windowStart); elapsed >= adjustWindow {
		measured := float64(c.requests) / elapsed.Seconds()
		c.limit = adjust(c.limit, measured, c.target)
		c.requests = 0
		c.windowStart = time.Now()
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// adjust applies the control rule to one measurement.
func adjust(limit int, measuredRPS, targetRPS float64) int {
	switch {
	case measuredRPS < 0.9*targetRPS && limit < maxLimit:
		limit += stepUp
		if limit > maxLimit {
			limit = maxLimit
		}
	case measuredRPS > 1.1*targetRPS && limit > minLimit:
		limit -= stepDown
		if limit < minLimit {
			limit = minLimit
		}
	}
	return limit
}
