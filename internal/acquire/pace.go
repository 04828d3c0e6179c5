package acquire

import (
	"context"
	"math/rand/v2"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer inserts a random delay drawn uniformly from [Min, Max] before every
// attempt so requests never follow a fixed interval.
type Pacer struct {
	Min, Max time.Duration

	// Sleep defaults to Sleep.
	Sleep SleepFunc
	// Int64N returns a value in [0, n). Defaults to math/rand/v2.
	Int64N func(n int64) int64
}

// NewPacer returns a pacer for the given bounds.
func NewPacer(min, max time.Duration) *Pacer {
	return &Pacer{Min: min, Max: max}
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	n := p.Int64N
	if n == nil {
		n = rand.Int64N
	}
	return p.Min + time.Duration(n(int64(p.Max-p.Min)+1))
}

// Wait sleeps for a freshly drawn delay and returns it.
func (p *Pacer) Wait(ctx context.Context) (time.Duration, error) {
	d := p.Next()
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return d, sleep(ctx, d)
}
