package acquire

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of units of work executing at once. A slot must
// be acquired before any collaborator is created and released only after the
// unit of work has fully terminated.
//
// Waiters are served in FIFO order, so when the caller acquires in
// enumeration order, admission tracks enumeration order.
type Limiter struct {
	ceiling  int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewLimiter returns a limiter admitting at most ceiling holders.
func NewLimiter(ceiling int) *Limiter {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Limiter{
		ceiling: int64(ceiling),
		sem:     semaphore.NewWeighted(int64(ceiling)),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Ceiling returns the configured maximum.
func (l *Limiter) Ceiling() int { return int(l.ceiling) }

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak returns the highest number of slots held at once.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }
