// Package limit provides the two independent throttles used by the pipeline:
// a counting semaphore bounding concurrency and a token bucket bounding the
// request rate.
package limit

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting concurrency gate. Waiters are served in FIFO
// order. It has no built-in timeout, callers bound the wait through the
// context they pass to Acquire.
type Semaphore struct {
	capacity int64
	inUse    atomic.Int64
	w        *semaphore.Weighted
}

// NewSemaphore returns a semaphore with the given number of permits.
// A capacity below 1 is raised to 1.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{
		capacity: int64(capacity),
		w:        semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire takes a permit, suspending the caller until one is free or ctx
// is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("semaphore: %w", err)
	}
	s.inUse.Add(1)
	return nil
}

// TryAcquire takes a permit only if one is immediately available.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.inUse.Add(1)
	return true
}

// Release hands the permit to the oldest waiter or back to the pool.
// Releasing more permits than were acquired panics.
func (s *Semaphore) Release() {
	if s.inUse.Add(-1) < 0 {
		panic("semaphore: released more than held")
	}
	s.w.Release(1)
}

// InUse reports the number of permits currently held.
func (s *Semaphore) InUse() int {
	return int(s.inUse.Load())
}

func (s *Semaphore) Capacity() int {
	return int(s.capacity)
}
