package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("harvest/acquire")

// Work performs a single attempt at a target.
//
// A nil error makes the returned outcome terminal (Success or Empty). A
// non-nil error is a soft failure eligible for retry unless it was marked
// with Fatal.
type Work interface {
	Attempt(ctx context.Context, t Target) (Outcome, error)
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context, t Target) (Outcome, error)

func (f WorkFunc) Attempt(ctx context.Context, t Target) (Outcome, error) {
	return f(ctx, t)
}

// Retrier runs a unit of work with bounded retries and exponential backoff.
// It holds no per-target state and may be shared by all workers.
type Retrier struct {
	// MaxRetries is the total number of attempts, not the number of repeats.
	MaxRetries int
	// BaseDelay is the backoff after the first failed attempt; it doubles
	// after each further failure.
	BaseDelay time.Duration

	Sleep  SleepFunc
	Logger *slog.Logger
}

// MaxBackoff caps a single backoff delay.
const MaxBackoff = time.Hour

// Backoff returns the delay slept after failed attempt n (1-based):
// BaseDelay * 2^(n-1), saturating at MaxBackoff.
func (r *Retrier) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := r.BaseDelay
	for i := 1; i < n; i++ {
		if d > MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}

// Run executes work for t until it yields a terminal outcome, a fatal error,
// or MaxRetries attempts have soft-failed. It never panics on work errors and
// always returns an outcome with Target and Attempts filled in.
func (r *Retrier) Run(ctx context.Context, work Work, t Target) Outcome {
	maxAttempts := r.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "acquire.target", trace.WithAttributes(
		attribute.Int("target.index", t.Index),
		attribute.String("target.locator", t.Locator),
	))
	defer span.End()

	finish := func(out Outcome, attempts []Attempt) Outcome {
		out.Target = t
		out.Attempts = attempts
		span.SetAttributes(
			attribute.String("outcome", out.Kind.String()),
			attribute.Int("attempts", len(attempts)),
		)
		if out.Kind == KindFailed {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		return out
	}

	var attempts []Attempt
	for n := 1; ; n++ {
		start := time.Now()
		out, err := work.Attempt(ctx, t)
		a := Attempt{Number: n, Err: err, Duration: time.Since(start)}

		if err == nil {
			attempts = append(attempts, a)
			return finish(normalize(out), attempts)
		}

		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", n),
			attribute.String("err", err.Error()),
		))

		if IsFatal(err) {
			attempts = append(attempts, a)
			logger.WarnContext(ctx, "attempt failed fatally",
				"target", t.Locator, "index", t.Index, "attempt", n, "err", err)
			return finish(Failed(err), attempts)
		}

		if n >= maxAttempts {
			attempts = append(attempts, a)
			logger.WarnContext(ctx, "retries exhausted",
				"target", t.Locator, "index", t.Index, "attempts", n, "err", err)
			return finish(Failed(&ExhaustedError{Attempts: n, Err: err}), attempts)
		}

		a.Backoff = r.Backoff(n)
		attempts = append(attempts, a)
		logger.WarnContext(ctx, "attempt failed",
			"target", t.Locator, "index", t.Index, "attempt", n, "of", maxAttempts,
			"backoff", a.Backoff, "err", err)

		if serr := sleep(ctx, a.Backoff); serr != nil {
			return finish(Failed(fmt.Errorf("retry interrupted after attempt %d: %w", n, errors.Join(err, serr))), attempts)
		}
	}
}

// normalize fills in a kind for work that returned a zero outcome.
func normalize(out Outcome) Outcome {
	switch out.Kind {
	case KindSuccess, KindEmpty:
		return out
	case KindFailed:
		// Retryable failures come through the error return. A failed
		// outcome returned directly is terminal.
		if out.Err == nil {
			out.Err = errors.New("work reported failure")
		}
		return out
	}
	if len(out.Items) > 0 {
		return Success(out.Items...)
	}
	if out.Reason == "" {
		out.Reason = "no content"
	}
	return Empty(out.Reason)
}
