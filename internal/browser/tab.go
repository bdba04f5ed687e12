package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Tab is one open product page. It is driven by a single goroutine.
type Tab struct {
	ctx           context.Context
	cancel        context.CancelFunc
	meta          *responseMeta
	actionTimeout time.Duration
	requestURL    string
	release       func()
	closeOnce     sync.Once
}

// Eval evaluates a JavaScript expression and decodes its result into out.
func (t *Tab) Eval(ctx context.Context, expression string, out any) error {
	return t.run(ctx, "evaluate", chromedp.Evaluate(expression, out))
}

// HTML returns the current outer HTML of the document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, "read html", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Location returns the current URL of the tab.
func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, "read location", chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// StatusCode returns the HTTP status of the main document.
func (t *Tab) StatusCode() int {
	status, _ := t.meta.snapshotWithFallbacks(t.requestURL, "")
	return status
}

// Close closes the tab and frees its slot.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.release != nil {
			t.release()
		}
	})
}

func (t *Tab) navigate(ctx context.Context, rawURL string, cfg Config) error {
	actions := []chromedp.Action{
		networkSetupAction(cfg),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(cfg.SettleDelay))
	}
	return t.runWithTimeout(ctx, "navigate", cfg.NavigationTimeout, actions...)
}

func (t *Tab) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	return t.runWithTimeout(ctx, op, t.actionTimeout, actions...)
}

func (t *Tab) runWithTimeout(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	err := chromedp.Run(runCtx, actions...)
	return t.classify(ctx, op, err)
}

// classify maps chromedp failures onto the variant error taxonomy.
func (t *Tab) classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case t.ctx.Err() != nil, errors.Is(err, chromedp.ErrInvalidContext), errors.Is(err, chromedp.ErrInvalidTarget):
		return fmt.Errorf("%s: %w: %w", op, variant.ErrPageBroken, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, variant.ErrSettleTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func networkSetupAction(cfg Config) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// forwardCancel cancels the tab operation when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
