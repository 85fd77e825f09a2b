package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the number of jobs allowed to run at once.
const DefaultCapacity = 6

// Limiter bounds how many jobs are past admission at the same time.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
}

// NewLimiter creates a limiter with n slots; n <= 0 selects DefaultCapacity.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(n)),
		capacity: int64(n),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}

func (l *Limiter) Capacity() int {
	return int(l.capacity)
}
