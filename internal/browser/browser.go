// Package browser drives headless Chrome through chromedp. A Browser is one
// browsing session: a Chrome process behind a single proxy. Product pages
// are opened as tabs inside it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/id/uuid"
	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
)

// Config controls how sessions are launched and how long page operations may take.
type Config struct {
	Headless          bool
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	SettleDelay       time.Duration
	MaxTabs           int
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second
)

// ErrClosed is returned when a tab is requested from a closed Browser.
var ErrClosed = errors.New("browser closed")

// Browser owns one Chrome process and the proxy it routes through.
type Browser struct {
	cfg     Config
	limiter chan struct{}
	proxies *ProxyPool
	ids     *uuid.Generator
	logger  *zap.Logger

	mu            sync.Mutex
	proxy         string
	sessionID     string
	allocator     context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	closed        bool
}

// New prepares a session on the next available proxy. Chrome is launched
// lazily on the first OpenTab.
func New(cfg Config, proxies *ProxyPool, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if proxies == nil {
		proxies = NewProxyPool(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxTabs)
	}
	b := &Browser{
		cfg:     cfg,
		limiter: limiter,
		proxies: proxies,
		ids:     uuid.NewPrefixed("sess"),
		logger:  logger,
	}
	if err := b.reset(proxies.Next(nil)); err != nil {
		return nil, err
	}
	return b, nil
}

// SessionID identifies the current browsing session. It changes on Rotate.
func (b *Browser) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// Proxy returns the proxy URL of the current session, or "" for direct.
func (b *Browser) Proxy() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proxy
}

// Rotate abandons the current session and starts a new one on the next
// proxy for which skip returns false. Open tabs are closed.
func (b *Browser) Rotate(skip func(proxy string) bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	old := b.proxy
	b.shutdownLocked()
	if err := b.resetLocked(b.proxies.Next(skip)); err != nil {
		return err
	}
	b.logger.Info("browser session rotated",
		zap.String("old_proxy", ProxyHost(old)),
		zap.String("new_proxy", ProxyHost(b.proxy)),
		zap.String("session_id", b.sessionID),
	)
	return nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.shutdownLocked()
}

// OpenTab opens rawURL in a new tab and waits for the document to be ready.
func (b *Browser) OpenTab(ctx context.Context, rawURL string) (*Tab, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	browserCtx, err := b.ensureStarted()
	if err != nil {
		b.release()
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		b.release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	metrics.TabOpened()

	tab := &Tab{
		ctx:           tabCtx,
		cancel:        tabCancel,
		meta:          meta,
		actionTimeout: b.cfg.ActionTimeout,
		requestURL:    rawURL,
		release: func() {
			metrics.TabClosed()
			b.release()
		},
	}
	if err := tab.navigate(ctx, rawURL, b.cfg); err != nil {
		tab.Close()
		return nil, err
	}
	return tab, nil
}

func (b *Browser) ensureStarted() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.started {
		return b.browserCtx, nil
	}
	browserCtx, cancel := chromedp.NewContext(b.allocator)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	b.browserCtx = browserCtx
	b.browserCancel = cancel
	b.started = true
	b.logger.Info("browser session started",
		zap.String("proxy", ProxyHost(b.proxy)),
		zap.String("session_id", b.sessionID),
	)
	return browserCtx, nil
}

func (b *Browser) reset(proxy string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetLocked(proxy)
}

func (b *Browser) resetLocked(proxy string) error {
	id, err := b.ids.NewID()
	if err != nil {
		return fmt.Errorf("new session id: %w", err)
	}
	b.proxy = proxy
	b.sessionID = id
	b.allocator, b.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.cfg, proxy)...)
	b.started = false
	return nil
}

func (b *Browser) shutdownLocked() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.started = false
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func allocatorOptions(cfg Config, proxy string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// ProxyHost returns the host part of a proxy URL, which is how burned
// proxies are keyed. Direct sessions report "direct".
func ProxyHost(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	parsed, err := url.Parse(proxy)
	if err != nil || parsed.Hostname() == "" {
		return proxy
	}
	return parsed.Hostname()
}
