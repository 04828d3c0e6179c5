package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harvest/internal/acquire"

	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCapability hands out fakeHandles and counts opens and closes.
type fakeCapability struct {
	openErr error

	// interrupts is consumed by ProbeInterrupt calls across all handles.
	mu         sync.Mutex
	interrupts []bool

	navigate   func(ctx context.Context, url string) error
	trigger    func(ctx context.Context) error
	verify     func(ctx context.Context) error
	dismissErr error

	opened, closed atomic.Int64
	dismissed      atomic.Int64
}

func (c *fakeCapability) Open(ctx context.Context) (Handle, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened.Add(1)
	return &fakeHandle{c: c}, nil
}

func (c *fakeCapability) nextInterrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.interrupts) == 0 {
		return false
	}
	v := c.interrupts[0]
	c.interrupts = c.interrupts[1:]
	return v
}

type fakeHandle struct {
	c *fakeCapability
}

func (h *fakeHandle) Navigate(ctx context.Context, url string) error {
	if h.c.navigate != nil {
		return h.c.navigate(ctx, url)
	}
	return nil
}

func (h *fakeHandle) ProbeInterrupt(ctx context.Context) (bool, string, error) {
	if h.c.nextInterrupt() {
		return true, "Session expired", nil
	}
	return false, "", nil
}

func (h *fakeHandle) DismissInterrupt(ctx context.Context) error {
	h.c.dismissed.Add(1)
	return h.c.dismissErr
}

func (h *fakeHandle) TriggerAction(ctx context.Context) error {
	if h.c.trigger != nil {
		return h.c.trigger(ctx)
	}
	return nil
}

func (h *fakeHandle) VerifyAction(ctx context.Context) error {
	if h.c.verify != nil {
		return h.c.verify(ctx)
	}
	return nil
}

func (h *fakeHandle) Close() error {
	h.c.closed.Add(1)
	return nil
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func target(i int) acquire.Target {
	return acquire.Target{Index: i, Locator: fmt.Sprintf("https://chartink.test/screener/%d", i)}
}

func TestAttemptHappyPathTransitions(t *testing.T) {
	var states []State
	c := &fakeCapability{}
	s := New(c, Options{
		Logger: quiet,
		OnTransition: func(_ acquire.Target, from, to State) {
			states = append(states, to)
		},
	})

	out, err := s.Attempt(context.Background(), target(1))
	require.NoError(t, err)
	require.Equal(t, acquire.KindSuccess, out.Kind)
	require.Equal(t, []State{StateNavigating, StateCheckingInterrupt, StateActing, StateVerifying, StateDone}, states)
	require.EqualValues(t, 1, c.opened.Load())
	require.EqualValues(t, 1, c.closed.Load())
}

func TestAttemptFailureAtEachStageIsSoftAndReleases(t *testing.T) {
	boom := errors.New("element not found")
	cases := map[string]func(c *fakeCapability){
		"navigating": func(c *fakeCapability) { c.navigate = func(context.Context, string) error { return boom } },
		"acting":     func(c *fakeCapability) { c.trigger = func(context.Context) error { return boom } },
		"verifying":  func(c *fakeCapability) { c.verify = func(context.Context) error { return boom } },
	}
	for stage, setup := range cases {
		t.Run(stage, func(t *testing.T) {
			var last State
			c := &fakeCapability{}
			setup(c)
			s := New(c, Options{Logger: quiet, OnTransition: func(_ acquire.Target, _, to State) { last = to }})

			_, err := s.Attempt(context.Background(), target(1))
			var te *acquire.TransportError
			require.ErrorAs(t, err, &te)
			require.Equal(t, stage, te.Op)
			require.ErrorIs(t, err, boom)
			require.False(t, acquire.IsFatal(err))
			require.Equal(t, StateFailed, last)
			require.EqualValues(t, 1, c.closed.Load())
		})
	}
}

func TestAttemptPageLoadTimeout(t *testing.T) {
	c := &fakeCapability{
		navigate: func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := New(c, Options{PageLoadTimeout: 20 * time.Millisecond, Logger: quiet})

	_, err := s.Attempt(context.Background(), target(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, c.closed.Load())
}

func TestAttemptActionTimeout(t *testing.T) {
	c := &fakeCapability{
		trigger: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := New(c, Options{ActionTimeout: 20 * time.Millisecond, Logger: quiet})

	_, err := s.Attempt(context.Background(), target(1))
	var te *acquire.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "acting", te.Op)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttemptDismissFailureIsTransportError(t *testing.T) {
	c := &fakeCapability{interrupts: []bool{true}, dismissErr: errors.New("no such alert")}
	s := New(c, Options{Logger: quiet})

	_, err := s.Attempt(context.Background(), target(1))
	var te *acquire.TransportError
	require.ErrorAs(t, err, &te)
	var ie *InterruptionError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "Session expired", ie.Detail)
	require.EqualValues(t, 1, c.closed.Load())
}

func TestOpenFailureIsCapabilityLoss(t *testing.T) {
	c := &fakeCapability{openErr: errors.New("chrome not found")}
	s := New(c, Options{Logger: quiet})

	_, err := s.Attempt(context.Background(), target(1))
	require.True(t, acquire.IsFatal(err))
	require.ErrorIs(t, err, acquire.ErrCapabilityLost)
}

func TestInterruptOnlyFirstAttemptPaysDismissPause(t *testing.T) {
	sleeps := &sleepLog{}
	c := &fakeCapability{interrupts: []bool{true}}
	s := New(c, Options{DismissPause: 2 * time.Second, Sleep: sleeps.Sleep, Logger: quiet})

	p, err := acquire.New(acquire.Options{Concurrency: 1, MaxRetries: 3, BaseDelay: time.Second, Sleep: sleeps.Sleep, Logger: quiet})
	require.NoError(t, err)

	targets := acquire.Targets([]string{"https://a.test/1", "https://a.test/2", "https://a.test/3"})
	res, err := p.Run(context.Background(), s, targets)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count(acquire.KindSuccess))
	require.EqualValues(t, 1, c.dismissed.Load())
	require.Equal(t, []time.Duration{2 * time.Second}, sleeps.delays)
	require.Equal(t, c.opened.Load(), c.closed.Load())
}

func TestSessionRetriedUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	c := &fakeCapability{
		trigger: func(ctx context.Context) error {
			if calls.Add(1) < 2 {
				return errors.New("button not clickable")
			}
			return nil
		},
	}
	s := New(c, Options{Logger: quiet})
	r := &acquire.Retrier{MaxRetries: 3, BaseDelay: time.Second, Sleep: (&sleepLog{}).Sleep, Logger: quiet}

	out := r.Run(context.Background(), s, target(9))
	require.Equal(t, acquire.KindSuccess, out.Kind)
	require.Len(t, out.Attempts, 2)
	require.EqualValues(t, 2, c.opened.Load())
	require.EqualValues(t, 2, c.closed.Load())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "checking-interrupt", StateCheckingInterrupt.String())
	require.Equal(t, "unknown", State(0).String())
}
