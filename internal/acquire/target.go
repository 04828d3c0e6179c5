package acquire

import (
	"fmt"
	"time"
)

// Target is one unit of external work: a locator plus its position in the
// required output ordering. Index is 1-based.
type Target struct {
	Index   int
	Locator string
}

func (t Target) String() string {
	return fmt.Sprintf("#%d %s", t.Index, t.Locator)
}

// Targets builds targets from locators, numbering them 1..N in slice order.
func Targets(locators []string) []Target {
	out := make([]Target, len(locators))
	for i, loc := range locators {
		out[i] = Target{Index: i + 1, Locator: loc}
	}
	return out
}

// Item is one piece of acquired content, e.g. a link found on a page or a
// completed download.
type Item struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url"`
}

// Kind classifies a terminal outcome.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindEmpty
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindEmpty:
		return "empty"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt records one try at a target.
type Attempt struct {
	Number   int
	Backoff  time.Duration // delay slept after this attempt, zero if none
	Err      error
	Duration time.Duration
}

// Outcome is the terminal result for a target. Exactly one of Items/Reason/Err
// is meaningful depending on Kind.
type Outcome struct {
	Source   string // logical source name, set for multi-source runs
	Target   Target
	Kind     Kind
	Items    []Item
	Reason   string
	Err      error
	Attempts []Attempt
}

// Success returns a successful outcome carrying items.
func Success(items ...Item) Outcome {
	return Outcome{Kind: KindSuccess, Items: items}
}

// Empty returns an outcome for work that completed but produced nothing.
func Empty(reason string) Outcome {
	return Outcome{Kind: KindEmpty, Reason: reason}
}

// Failed returns a terminal failure carrying its cause.
func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

func (o Outcome) OK() bool { return o.Kind == KindSuccess }

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("%s: success (%d items)", o.Target, len(o.Items))
	case KindEmpty:
		return fmt.Sprintf("%s: empty (%s)", o.Target, o.Reason)
	case KindFailed:
		return fmt.Sprintf("%s: failed (%v)", o.Target, o.Err)
	default:
		return fmt.Sprintf("%s: unknown", o.Target)
	}
}

// AggregateResult is the ordered set of outcomes for a run. Outcomes are in
// target index order, never completion order.
type AggregateResult struct {
	Outcomes []Outcome
}

// Len returns the number of outcomes.
func (r AggregateResult) Len() int { return len(r.Outcomes) }

// Items flattens every successful outcome's items, preserving target order.
func (r AggregateResult) Items() []Item {
	var items []Item
	for _, o := range r.Outcomes {
		items = append(items, o.Items...)
	}
	return items
}

// Count returns the number of outcomes of the given kind.
func (r AggregateResult) Count(k Kind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes in order.
func (r AggregateResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == KindFailed {
			out = append(out, o)
		}
	}
	return out
}

// TotalAttempts sums the recorded attempts across all outcomes.
func (r AggregateResult) TotalAttempts() int {
	n := 0
	for _, o := range r.Outcomes {
		n += len(o.Attempts)
	}
	return n
}

// Concat appends other's outcomes after r's.
func (r AggregateResult) Concat(other AggregateResult) AggregateResult {
	out := make([]Outcome, 0, len(r.Outcomes)+len(other.Outcomes))
	out = append(out, r.Outcomes...)
	out = append(out, other.Outcomes...)
	return AggregateResult{Outcomes: out}
}
