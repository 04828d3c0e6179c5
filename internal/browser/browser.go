package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"harvest/internal/session"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls the launched browser and what every tab does.
type Config struct {
	Headless bool
	ProxyURL string
	// DownloadDir receives files triggered by ActionXPath; empty keeps the
	// browser default.
	DownloadDir string

	ActionXPath       string // control clicked on every page
	VerifySelector    string // element that must exist after the click
	InterruptSelector string // DOM modal removed when present; empty disables

	Logger *slog.Logger
}

// Browser wraps a launched rod.Browser. It implements session.Capability.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      Config
}

// New launches a browser and connects to it.
func New(cfg Config) (*Browser, error) {
	if cfg.ActionXPath == "" {
		return nil, errors.New("browser: action xpath is required")
	}
	if cfg.VerifySelector == "" {
		cfg.VerifySelector = "body"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := launcher.New().Headless(cfg.Headless)
	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	if cfg.DownloadDir != "" {
		err := proto.BrowserSetDownloadBehavior{
			Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
			DownloadPath: cfg.DownloadDir,
		}.Call(b)
		if err != nil {
			b.Close()
			l.Kill()
			return nil, fmt.Errorf("failed to set download directory: %w", err)
		}
	}

	return &Browser{browser: b, launcher: l, cfg: cfg}, nil
}

// Open creates a new tab for one attempt.
func (b *Browser) Open(ctx context.Context) (session.Handle, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	// Detach from ctx so Close still works after the attempt times out.
	page = page.Context(context.Background())

	evctx, cancel := context.WithCancel(context.Background())
	t := &tab{page: page, cfg: b.cfg, stop: cancel, dialogSeen: make(chan struct{}, 1)}
	wait := page.Context(evctx).EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		t.mu.Lock()
		t.dialog = e
		t.mu.Unlock()
		select {
		case t.dialogSeen <- struct{}{}:
		default:
		}
	})
	go wait()
	return t, nil
}

// Close shuts the browser down and kills the launched process.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}

// tab is one page. A JavaScript dialog seen by the event listener takes
// precedence over a DOM modal when probing.
type tab struct {
	page *rod.Page
	cfg  Config
	stop context.CancelFunc

	// dialogSeen is signalled whenever a JavaScript dialog opens.
	dialogSeen chan struct{}

	mu     sync.Mutex
	dialog *proto.PageJavascriptDialogOpening
	modal  bool
}

// Navigate returns once the page has loaded, or as soon as a JavaScript
// dialog opens. An open alert stalls the load event until it is accepted.
func (t *tab) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	dialog, err := awaitLoad(ctx, p.WaitLoad, t.dialogSeen, func() bool { return t.pendingDialog() != nil })
	if err != nil {
		return fmt.Errorf("failed to wait for load: %w", err)
	}
	if dialog {
		return nil
	}
	if _, err := p.Element("body"); err != nil {
		return fmt.Errorf("page has no body: %w", err)
	}
	return nil
}

// awaitLoad races load against a dialog opening. It reports dialog=true when
// a dialog is pending, in which case a failed or unfinished load is not an
// error.
func awaitLoad(ctx context.Context, load func() error, dialogSeen <-chan struct{}, pending func() bool) (dialog bool, err error) {
	if pending() {
		return true, nil
	}
	loaded := make(chan error, 1)
	go func() { loaded <- load() }()

	select {
	case err := <-loaded:
		if err != nil && pending() {
			return true, nil
		}
		return false, err
	case <-dialogSeen:
		return true, nil
	case <-ctx.Done():
		if pending() {
			return true, nil
		}
		return false, ctx.Err()
	}
}

func (t *tab) pendingDialog() *proto.PageJavascriptDialogOpening {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialog
}

func (t *tab) ProbeInterrupt(ctx context.Context) (bool, string, error) {
	if d := t.pendingDialog(); d != nil {
		return true, d.Message, nil
	}
	if t.cfg.InterruptSelector == "" {
		return false, "", nil
	}
	has, el, err := t.page.Context(ctx).Has(t.cfg.InterruptSelector)
	if err != nil {
		return false, "", fmt.Errorf("failed to query modal: %w", err)
	}
	if !has {
		return false, "", nil
	}
	t.mu.Lock()
	t.modal = true
	t.mu.Unlock()
	text, _ := el.Text()
	return true, text, nil
}

func (t *tab) DismissInterrupt(ctx context.Context) error {
	t.mu.Lock()
	d, modal := t.dialog, t.modal
	t.dialog, t.modal = nil, false
	t.mu.Unlock()

	p := t.page.Context(ctx)
	if d != nil {
		t.cfg.Logger.InfoContext(ctx, "accepting alert", "type", d.Type, "text", d.Message)
		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(p); err != nil {
			return fmt.Errorf("failed to accept alert: %w", err)
		}
		return nil
	}
	if modal {
		_, err := p.Eval(`(sel) => document.querySelectorAll(sel).forEach(e => e.remove())`, t.cfg.InterruptSelector)
		if err != nil {
			return fmt.Errorf("failed to remove modal: %w", err)
		}
	}
	return nil
}

func (t *tab) TriggerAction(ctx context.Context) error {
	el, err := t.page.Context(ctx).ElementX(t.cfg.ActionXPath)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", t.cfg.ActionXPath, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", t.cfg.ActionXPath, err)
	}
	return nil
}

func (t *tab) VerifyAction(ctx context.Context) error {
	if _, err := t.page.Context(ctx).Element(t.cfg.VerifySelector); err != nil {
		return fmt.Errorf("failed to verify %s: %w", t.cfg.VerifySelector, err)
	}
	return nil
}

func (t *tab) Close() error {
	t.stop()
	return t.page.Close()
}
