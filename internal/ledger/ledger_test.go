package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"harvest/internal/acquire"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func outcome(kind acquire.Kind, locator string) acquire.Outcome {
	var o acquire.Outcome
	switch kind {
	case acquire.KindSuccess:
		o = acquire.Success()
	case acquire.KindEmpty:
		o = acquire.Empty("nothing")
	default:
		o = acquire.Failed(errors.New("timeout"))
	}
	o.Target = acquire.Target{Index: 1, Locator: locator}
	return o
}

func TestRecordAndSucceeded(t *testing.T) {
	ctx := context.Background()
	l := setup(t)

	done, err := l.Succeeded(ctx, "https://a.test/1")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, l.Record(ctx, outcome(acquire.KindFailed, "https://a.test/1")))
	done, err = l.Succeeded(ctx, "https://a.test/1")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, l.Record(ctx, outcome(acquire.KindSuccess, "https://a.test/1")))
	done, err = l.Succeeded(ctx, "https://a.test/1")
	require.NoError(t, err)
	require.True(t, done)
}

func TestSuccessIsNotDowngraded(t *testing.T) {
	ctx := context.Background()
	l := setup(t)

	require.NoError(t, l.Record(ctx, outcome(acquire.KindSuccess, "https://a.test/1")))
	require.NoError(t, l.Record(ctx, outcome(acquire.KindFailed, "https://a.test/1")))

	done, err := l.Succeeded(ctx, "https://a.test/1")
	require.NoError(t, err)
	require.True(t, done)
}

func TestSkipResumesRun(t *testing.T) {
	ctx := context.Background()
	l := setup(t)

	var calls atomic.Int64
	work := acquire.WorkFunc(func(ctx context.Context, t acquire.Target) (acquire.Outcome, error) {
		calls.Add(1)
		return acquire.Success(acquire.Item{URL: t.Locator}), nil
	})

	p, err := acquire.New(acquire.Options{
		Concurrency: 2,
		MaxRetries:  1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observe:     l.Observe(ctx),
	})
	require.NoError(t, err)

	targets := acquire.Targets([]string{"https://a.test/1", "https://a.test/2", "https://a.test/3"})
	res, err := p.Run(ctx, l.Skip(work), targets)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count(acquire.KindSuccess))
	require.EqualValues(t, 3, calls.Load())

	res, err = p.Run(ctx, l.Skip(work), targets)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count(acquire.KindSuccess))
	require.EqualValues(t, 3, calls.Load(), "second run must not repeat recorded work")
}
