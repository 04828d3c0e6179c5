package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrierAlwaysFailingUsesEveryAttempt(t *testing.T) {
	sleep := &recordingSleep{}
	r := &Retrier{MaxRetries: 4, BaseDelay: 250 * time.Millisecond, Sleep: sleep.Sleep, Logger: quiet}

	calls := 0
	boom := errors.New("timeout")
	out := r.Run(context.Background(), WorkFunc(func(ctx context.Context, tg Target) (Outcome, error) {
		calls++
		return Outcome{}, &TransportError{Op: "get", Err: boom}
	}), Target{Index: 1, Locator: "u"})

	require.Equal(t, 4, calls)
	require.Equal(t, KindFailed, out.Kind)
	require.ErrorIs(t, out.Err, boom)
	require.Len(t, out.Attempts, 4)

	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}
	require.Equal(t, want, sleep.delays)
	for k, a := range out.Attempts {
		require.Equal(t, k+1, a.Number)
		if k < len(want) {
			require.Equal(t, want[k], a.Backoff)
			if k > 0 {
				require.GreaterOrEqual(t, a.Backoff, out.Attempts[k-1].Backoff)
			}
		} else {
			require.Zero(t, a.Backoff)
		}
	}
}

func TestRetrierStopsAtFirstSuccess(t *testing.T) {
	for k := 1; k < 5; k++ {
		sleep := &recordingSleep{}
		r := &Retrier{MaxRetries: 5, BaseDelay: time.Second, Sleep: sleep.Sleep, Logger: quiet}

		calls := 0
		out := r.Run(context.Background(), WorkFunc(func(ctx context.Context, tg Target) (Outcome, error) {
			calls++
			if calls < k {
				return Outcome{}, errors.New("flaky")
			}
			return Success(Item{URL: "x"}), nil
		}), Target{Index: 3, Locator: "u"})

		require.Equal(t, k, calls)
		require.Equal(t, KindSuccess, out.Kind)
		require.Len(t, out.Attempts, k)
		require.Len(t, sleep.delays, k-1)
		require.Equal(t, Target{Index: 3, Locator: "u"}, out.Target)
	}
}

func TestRetrierFatalShortCircuits(t *testing.T) {
	sleep := &recordingSleep{}
	r := &Retrier{MaxRetries: 3, BaseDelay: time.Second, Sleep: sleep.Sleep, Logger: quiet}

	calls := 0
	bad := errors.New("malformed locator")
	out := r.Run(context.Background(), WorkFunc(func(ctx context.Context, tg Target) (Outcome, error) {
		calls++
		return Outcome{}, Fatal(bad)
	}), Target{Index: 1})

	require.Equal(t, 1, calls)
	require.Empty(t, sleep.delays)
	require.True(t, IsFatal(out.Err))
	require.ErrorIs(t, out.Err, bad)
	var ex *ExhaustedError
	require.False(t, errors.As(out.Err, &ex))
}

func TestRetrierNormalizesZeroOutcome(t *testing.T) {
	r := &Retrier{MaxRetries: 1, Logger: quiet}

	out := r.Run(context.Background(), WorkFunc(func(ctx context.Context, tg Target) (Outcome, error) {
		return Outcome{}, nil
	}), Target{Index: 1})
	require.Equal(t, KindEmpty, out.Kind)
	require.NotEmpty(t, out.Reason)

	out = r.Run(context.Background(), WorkFunc(func(ctx context.Context, tg Target) (Outcome, error) {
		return Outcome{Items: []Item{{URL: "a"}}}, nil
	}), Target{Index: 1})
	require.Equal(t, KindSuccess, out.Kind)
}

func TestRetrierBackoffFormula(t *testing.T) {
	r := &Retrier{BaseDelay: 2 * time.Second}
	require.Equal(t, 2*time.Second, r.Backoff(1))
	require.Equal(t, 4*time.Second, r.Backoff(2))
	require.Equal(t, 8*time.Second, r.Backoff(3))
}

func TestRetrierBackoffSaturates(t *testing.T) {
	r := &Retrier{BaseDelay: 2 * time.Second}
	prev := time.Duration(0)
	for n := 1; n <= 80; n++ {
		d := r.Backoff(n)
		require.Positive(t, d, "attempt %d", n)
		require.GreaterOrEqual(t, d, prev, "attempt %d", n)
		require.LessOrEqual(t, d, MaxBackoff)
		prev = d
	}
	require.Equal(t, MaxBackoff, r.Backoff(34))
}

func TestFatalNil(t *testing.T) {
	require.NoError(t, Fatal(nil))
	require.False(t, IsFatal(errors.New("x")))
}
