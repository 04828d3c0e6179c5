// Package session drives one interactive browser operation per target:
// navigate, clear any interrupting dialog, trigger a control and verify its
// effect. Each run is a single attempt plugged into acquire.Retrier.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"harvest/internal/acquire"
)

// State is a step of the per-target state machine.
type State int

const (
	StateNavigating State = iota + 1
	StateCheckingInterrupt
	StateActing
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNavigating:
		return "navigating"
	case StateCheckingInterrupt:
		return "checking-interrupt"
	case StateActing:
		return "acting"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Capability opens a scoped handle for one attempt.
type Capability interface {
	Open(ctx context.Context) (Handle, error)
}

// Handle is one open interactive context, e.g. a browser tab. Every method
// honours ctx deadlines; Close must be safe to call after any failure.
type Handle interface {
	// Navigate loads url and returns once the page signals ready.
	Navigate(ctx context.Context, url string) error
	// ProbeInterrupt reports whether a blocking dialog is present, with a
	// human readable detail such as the alert text.
	ProbeInterrupt(ctx context.Context) (present bool, detail string, err error)
	// DismissInterrupt clears the dialog found by ProbeInterrupt.
	DismissInterrupt(ctx context.Context) error
	// TriggerAction locates and activates the required control.
	TriggerAction(ctx context.Context) error
	// VerifyAction confirms the action had an observable effect.
	VerifyAction(ctx context.Context) error
	Close() error
}

// InterruptionError reports a dialog that could not be dismissed.
type InterruptionError struct {
	Detail string
	Err    error
}

func (e *InterruptionError) Error() string {
	return fmt.Sprintf("dismiss interrupt %q: %v", e.Detail, e.Err)
}

func (e *InterruptionError) Unwrap() error { return e.Err }

// Options configures a Session.
type Options struct {
	PageLoadTimeout time.Duration // default 10s
	ActionTimeout   time.Duration // default 10s
	DismissPause    time.Duration // fixed wait after dismissing a dialog

	// Pacer, when set, adds jitter before each attempt.
	Pacer *acquire.Pacer
	Sleep acquire.SleepFunc

	Logger *slog.Logger

	// OnTransition observes every state change.
	OnTransition func(t acquire.Target, from, to State)
}

// Session is the interactive unit of work. It implements acquire.Work.
type Session struct {
	cap  Capability
	opts Options
}

// New creates a Session over cap.
func New(cap Capability, opts Options) *Session {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = 10 * time.Second
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.DismissPause < 0 {
		opts.DismissPause = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = acquire.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{cap: cap, opts: opts}
}

// Attempt runs the state machine once for t. Any stage failure is returned
// as a retryable *acquire.TransportError whose Op names the stage. Failure to
// open a handle at all is fatal and wraps acquire.ErrCapabilityLost.
func (s *Session) Attempt(ctx context.Context, t acquire.Target) (acquire.Outcome, error) {
	if s.opts.Pacer != nil {
		if _, err := s.opts.Pacer.Wait(ctx); err != nil {
			return acquire.Outcome{}, &acquire.TransportError{Op: "pace", Err: err}
		}
	}

	h, err := s.cap.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return acquire.Outcome{}, &acquire.TransportError{Op: "open", Err: err}
		}
		return acquire.Outcome{}, acquire.Fatal(fmt.Errorf("%w: open session: %w", acquire.ErrCapabilityLost, err))
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			s.opts.Logger.WarnContext(ctx, "failed to close session", "target", t.Locator, "err", cerr)
		}
	}()

	m := &machine{s: s, t: t, h: h, state: StateNavigating}
	s.notify(t, 0, StateNavigating)
	return m.run(ctx)
}

func (s *Session) notify(t acquire.Target, from, to State) {
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(t, from, to)
	}
}

type machine struct {
	s     *Session
	t     acquire.Target
	h     Handle
	state State
}

func (m *machine) to(next State) {
	prev := m.state
	m.state = next
	m.s.notify(m.t, prev, next)
}

func (m *machine) fail(err error) (acquire.Outcome, error) {
	stage := m.state
	m.to(StateFailed)
	return acquire.Outcome{}, &acquire.TransportError{Op: stage.String(), Err: err}
}

func (m *machine) run(ctx context.Context) (acquire.Outcome, error) {
	logger := m.s.opts.Logger

	nctx, cancel := context.WithTimeout(ctx, m.s.opts.PageLoadTimeout)
	err := m.h.Navigate(nctx, m.t.Locator)
	cancel()
	if err != nil {
		return m.fail(err)
	}

	m.to(StateCheckingInterrupt)
	if err := m.clearInterrupt(ctx); err != nil {
		return m.fail(err)
	}

	m.to(StateActing)
	actx, cancel := context.WithTimeout(ctx, m.s.opts.ActionTimeout)
	err = m.h.TriggerAction(actx)
	cancel()
	if err != nil {
		return m.fail(err)
	}

	m.to(StateVerifying)
	vctx, cancel := context.WithTimeout(ctx, m.s.opts.ActionTimeout)
	err = m.h.VerifyAction(vctx)
	cancel()
	if err != nil {
		return m.fail(err)
	}

	m.to(StateDone)
	logger.InfoContext(ctx, "successfully downloaded", "target", m.t.Locator, "index", m.t.Index)
	return acquire.Success(acquire.Item{Text: "downloaded", URL: m.t.Locator}), nil
}

// clearInterrupt dismisses a blocking dialog if one is present. No dialog is
// not an error.
func (m *machine) clearInterrupt(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, m.s.opts.ActionTimeout)
	defer cancel()

	present, detail, err := m.h.ProbeInterrupt(pctx)
	if err != nil {
		return fmt.Errorf("check interrupt: %w", err)
	}
	if !present {
		return nil
	}

	m.s.opts.Logger.WarnContext(ctx, "interrupt present", "target", m.t.Locator, "text", detail)
	if err := m.h.DismissInterrupt(pctx); err != nil {
		return &InterruptionError{Detail: detail, Err: err}
	}
	return m.s.opts.Sleep(ctx, m.s.opts.DismissPause)
}
