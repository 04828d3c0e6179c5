package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Pipeline.
type Options struct {
	// Concurrency is the ceiling on units of work in flight.
	Concurrency int
	// MaxRetries is the number of attempts per target.
	MaxRetries int
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration

	// Sleep is used for backoff waits. Defaults to Sleep.
	Sleep  SleepFunc
	Logger *slog.Logger

	// Observe, when set, is called once per terminal outcome as it is
	// recorded. It runs on worker goroutines and must be safe for concurrent
	// use.
	Observe func(Outcome)
}

func (o Options) validate() error {
	if o.Concurrency < 1 {
		return &ConfigError{Field: "concurrency", Reason: fmt.Sprintf("must be at least 1, got %d", o.Concurrency)}
	}
	if o.MaxRetries < 1 {
		return &ConfigError{Field: "max_retries", Reason: fmt.Sprintf("must be at least 1, got %d", o.MaxRetries)}
	}
	if o.BaseDelay < 0 {
		return &ConfigError{Field: "base_delay", Reason: "must not be negative"}
	}
	return nil
}

// Pipeline drives targets through the limiter and retrier and aggregates
// their outcomes in target order.
type Pipeline struct {
	opts    Options
	retrier *Retrier
	limiter *Limiter
	logger  *slog.Logger
}

// New validates opts and returns a pipeline. Invalid options produce a
// *ConfigError.
func New(opts Options) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts: opts,
		retrier: &Retrier{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.BaseDelay,
			Sleep:      opts.Sleep,
			Logger:     logger,
		},
		limiter: NewLimiter(opts.Concurrency),
		logger:  logger,
	}, nil
}

// Limiter exposes the admission limiter, mainly for inspection.
func (p *Pipeline) Limiter() *Limiter { return p.limiter }

// Run drives every target through work and returns one outcome per target,
// in target order.
//
// Targets must be numbered 1..N in slice order. When ctx is cancelled no
// further targets are admitted; those never started are reported Failed with
// ErrNotAdmitted. The returned error is non-nil only for invalid targets or
// when a unit of work reports ErrCapabilityLost; the aggregate is complete in
// the latter case too.
func (p *Pipeline) Run(ctx context.Context, work Work, targets []Target) (AggregateResult, error) {
	for i, t := range targets {
		if t.Index != i+1 {
			return AggregateResult{}, &ConfigError{
				Field:  "targets",
				Reason: fmt.Sprintf("target at position %d has index %d", i+1, t.Index),
			}
		}
	}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	col := NewCollector(len(targets))
	var wg sync.WaitGroup

	for i, t := range targets {
		err := p.limiter.Acquire(runCtx)
		if err == nil && runCtx.Err() != nil {
			p.limiter.Release()
			err = runCtx.Err()
		}
		if err != nil {
			cause := context.Cause(runCtx)
			if cause == nil {
				cause = err
			}
			p.logger.WarnContext(ctx, "admission stopped",
				"admitted", i, "remaining", len(targets)-i, "err", cause)
			p.reject(col, targets[i:], cause)
			break
		}

		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			defer p.limiter.Release()

			p.logger.DebugContext(runCtx, "target admitted", "index", t.Index, "target", t.Locator)
			out := p.retrier.Run(runCtx, work, t)
			if out.Kind == KindFailed && errors.Is(out.Err, ErrCapabilityLost) {
				abort(out.Err)
			}
			p.record(col, out)
		}(t)
	}

	wg.Wait()
	result := AggregateResult{Outcomes: col.Finalize()}

	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, ErrCapabilityLost) {
		return result, cause
	}
	return result, nil
}

func (p *Pipeline) reject(col *Collector, rest []Target, cause error) {
	for _, t := range rest {
		out := Failed(fmt.Errorf("%w: %w", ErrNotAdmitted, cause))
		out.Target = t
		p.record(col, out)
	}
}

func (p *Pipeline) record(col *Collector, out Outcome) {
	// Finalize never returns if a record is dropped.
	if err := col.Record(out.Target.Index, out); err != nil {
		panic(fmt.Sprintf("acquire: record target %d: %v", out.Target.Index, err))
	}
	if p.opts.Observe != nil {
		p.opts.Observe(out)
	}
}

// Source is one logical source of targets, e.g. one paginated site.
type Source struct {
	Name    string
	Targets []Target
	Work    Work
}

// RunSources runs each source to completion in declaration order and
// concatenates their aggregates. If a source loses its capability, later
// sources are not started and their targets are reported as not admitted.
func (p *Pipeline) RunSources(ctx context.Context, sources []Source) (AggregateResult, error) {
	var (
		all   AggregateResult
		fatal error
	)
	for _, src := range sources {
		var res AggregateResult
		if fatal != nil {
			for _, t := range src.Targets {
				out := Failed(fmt.Errorf("%w: %w", ErrNotAdmitted, fatal))
				out.Target = t
				res.Outcomes = append(res.Outcomes, out)
			}
		} else {
			p.logger.InfoContext(ctx, "running source", "source", src.Name, "targets", len(src.Targets))
			var err error
			res, err = p.Run(ctx, src.Work, src.Targets)
			if err != nil {
				if !errors.Is(err, ErrCapabilityLost) {
					return all, fmt.Errorf("source %s: %w", src.Name, err)
				}
				fatal = err
			}
		}
		for i := range res.Outcomes {
			res.Outcomes[i].Source = src.Name
		}
		all = all.Concat(res)
	}
	return all, fatal
}
