package acquire

import (
	"fmt"
	"sync"
)

// Collector gathers outcomes as targets complete, in any order, and hands
// them back in index order once every target has reported exactly once.
type Collector struct {
	mu        sync.Mutex
	outcomes  []Outcome
	seen      []bool
	remaining int
	done      chan struct{}
}

// NewCollector returns a collector expecting targets 1..n.
func NewCollector(n int) *Collector {
	c := &Collector{
		outcomes:  make([]Outcome, n),
		seen:      make([]bool, n),
		remaining: n,
		done:      make(chan struct{}),
	}
	if n == 0 {
		close(c.done)
	}
	return c
}

// Record stores the outcome for target index. Safe for concurrent use.
func (c *Collector) Record(index int, o Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 1 || index > len(c.outcomes) {
		return fmt.Errorf("%w: %d (expected 1..%d)", ErrUnknownTarget, index, len(c.outcomes))
	}
	if c.seen[index-1] {
		return fmt.Errorf("%w: target %d", ErrDuplicateRecord, index)
	}
	c.seen[index-1] = true
	c.outcomes[index-1] = o
	c.remaining--
	if c.remaining == 0 {
		close(c.done)
	}
	return nil
}

// Done is closed once every target has reported.
func (c *Collector) Done() <-chan struct{} { return c.done }

// Remaining returns how many targets have not reported yet.
func (c *Collector) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Finalize blocks until every target has reported, then returns the outcomes
// ordered by target index. Calling it before the run can complete blocks
// forever; callers wait on their workers first.
func (c *Collector) Finalize() []Outcome {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
