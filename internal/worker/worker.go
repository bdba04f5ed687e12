// Package worker drives product requests from the queue through a browser
// session and the variant explorer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/browser"
	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
	"github.com/JakeFAU/retail-variant-crawler/internal/session"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

var tracer = otel.Tracer("github.com/JakeFAU/retail-variant-crawler/internal/worker")

// DefaultMaxAttempts bounds how many sessions one product may burn.
const DefaultMaxAttempts = 3

// Registry resolves a product URL to its retailer.
type Registry interface {
	Lookup(rawURL string) (*retailer.Definition, error)
}

// Limiter spaces out page loads.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	// Explorer is the base exploration config; retailer and request
	// overrides are applied on top.
	Explorer variant.Config
	// PollInterval is the observer's state polling interval.
	PollInterval time.Duration
	// ProductTimeout bounds one product across all attempts. Zero disables.
	ProductTimeout time.Duration
	// MaxAttempts bounds session rotations per product.
	MaxAttempts int
	// BurnCooldown keeps a burned proxy away from the same retailer.
	BurnCooldown time.Duration
	// OnOutcome, when set, receives every finished product.
	OnOutcome func(crawler.ProductOutcome)
}

// Worker consumes product requests one at a time.
type Worker struct {
	queue    crawler.Queue
	registry Registry
	session  Session
	sink     variant.Sink
	ledger   session.Ledger
	limiter  Limiter
	clock    crawler.Clock
	events   progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. ledger, limiter and events may be nil.
func New(
	queue crawler.Queue,
	registry Registry,
	sess Session,
	sink variant.Sink,
	ledger session.Ledger,
	limiter Limiter,
	clock crawler.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = variant.DefaultPollInterval
	}
	if events == nil {
		events = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		registry: registry,
		session:  sess,
		sink:     sink,
		ledger:   ledger,
		limiter:  limiter,
		clock:    clock,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run consumes the queue until ctx ends or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.IncActiveWorkers()
		outcome := w.Process(ctx, req)
		metrics.DecActiveWorkers()
		if w.cfg.OnOutcome != nil {
			w.cfg.OnOutcome(outcome)
		}
	}
}

// Process explores one product. A burned session is rotated and the product
// retried with the variants found so far, up to MaxAttempts sessions.
func (w *Worker) Process(ctx context.Context, req crawler.ProductRequest) crawler.ProductOutcome {
	start := w.clock.Now()
	reqID := progress.RequestIDFrom(req.ID)
	logger := w.logger.With(zap.String("request_id", req.ID), zap.String("url", req.URL))
	outcome := crawler.ProductOutcome{RequestID: req.ID, URL: req.URL}

	ctx, span := tracer.Start(ctx, "worker.Process", trace.WithAttributes(
		attribute.String("product.url", req.URL),
		attribute.String("request.id", req.ID),
	))
	defer span.End()

	def, err := w.registry.Lookup(req.URL)
	if err != nil {
		logger.Warn("no retailer for product", zap.Error(err))
		outcome.Status = crawler.ProductStatusUnsupported
		outcome.Error = err.Error()
		annotate(span, outcome)
		return outcome
	}
	domain := def.Domain()
	outcome.Retailer = domain
	span.SetAttributes(attribute.String("retailer", domain))
	logger = logger.With(zap.String("retailer", domain))

	w.events.Emit(progress.Event{
		RequestID: reqID, TS: start, Stage: progress.StageProductStart, Site: domain, URL: req.URL,
	})

	if w.cfg.ProductTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ProductTimeout)
		defer cancel()
	}

	explored := variant.NewExploredSet()
	skipped := 0
	attempt := 1
	for {
		res, err := w.attempt(ctx, req, def, explored, reqID, logger)
		skipped += res.Skipped
		outcome.Emitted = explored.Len()
		outcome.Skipped = skipped
		outcome.Truncated = outcome.Truncated || res.Truncated
		outcome.SessionID = w.session.SessionID()

		if err == nil {
			outcome.Status = crawler.ProductStatusDone
			break
		}
		outcome.Error = err.Error()
		if !variant.IsSessionFatal(err) {
			outcome.Status = crawler.ProductStatusFailed
			break
		}

		w.burn(ctx, domain, reqID, req.URL, logger)
		attempt++
		if attempt > w.cfg.MaxAttempts || ctx.Err() != nil {
			outcome.Status = crawler.ProductStatusSessionBurned
			break
		}
		logger.Info("retrying product on a fresh session", zap.Int("attempt", attempt))
	}

	outcome.Duration = w.clock.Now().Sub(start)
	w.finish(reqID, domain, outcome, logger)
	annotate(span, outcome)
	return outcome
}

func annotate(span trace.Span, outcome crawler.ProductOutcome) {
	span.SetAttributes(
		attribute.String("product.status", string(outcome.Status)),
		attribute.Int("variants.emitted", outcome.Emitted),
		attribute.Int("variants.skipped", outcome.Skipped),
	)
	if outcome.Status != crawler.ProductStatusDone {
		span.SetStatus(codes.Error, outcome.Error)
	}
}

func (w *Worker) attempt(
	ctx context.Context,
	req crawler.ProductRequest,
	def *retailer.Definition,
	explored *variant.ExploredSet,
	reqID [16]byte,
	logger *zap.Logger,
) (variant.Result, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, req.URL); err != nil {
			return variant.Result{}, &variant.ProductError{URL: req.URL, Stage: variant.StageOpen, Err: err}
		}
	}

	tab, err := w.session.Open(ctx, req.URL)
	if err != nil {
		return variant.Result{}, openError(req.URL, err)
	}
	defer tab.Close()

	bound := def.Bind(tab)
	if err := bound.Assert(ctx); err != nil {
		if antiBot(err) {
			return variant.Result{}, &variant.SessionError{URL: req.URL, Stage: variant.StageOpen, Err: err}
		}
		return variant.Result{}, &variant.ProductError{URL: req.URL, Stage: variant.StageOpen, Err: err}
	}

	domain := def.Domain()
	hooks := variant.Hooks{
		OnEmit: func(rec variant.Record) {
			w.events.Emit(progress.Event{
				RequestID: reqID, TS: rec.FetchedAt, Stage: progress.StageVariantEmitted,
				Site: domain, URL: rec.URL, Variant: rec.Variant,
			})
		},
		OnSkip: func(a variant.Attempt, err error) {
			w.events.Emit(progress.Event{
				RequestID: reqID, TS: w.clock.Now(), Stage: progress.StageVariantSkipped,
				Site: domain, URL: req.URL, Class: variant.ClassSkip.String(),
				Note: fmt.Sprintf("%s at %s: %v", a.Stage, a.Path, err),
			})
		},
	}
	explorer, err := variant.New(
		bound,
		variant.NewPollingObserver(bound.CaptureState, w.cfg.PollInterval),
		w.sink,
		w.explorerConfig(def.Config(), req),
		variant.WithLogger(logger),
		variant.WithClock(w.clock),
		variant.WithHooks(hooks),
		variant.WithRetailer(domain),
		variant.WithSession(w.session.SessionID()),
	)
	if err != nil {
		return variant.Result{}, fmt.Errorf("build explorer: %w", err)
	}
	return explorer.ExploreWith(ctx, req.VariantGroupURL(), explored)
}

// explorerConfig layers retailer overrides and then the request limit over
// the worker's base config.
func (w *Worker) explorerConfig(rc retailer.Config, req crawler.ProductRequest) variant.Config {
	cfg := w.cfg.Explorer
	if rc.Limit > 0 {
		cfg.Limit = rc.Limit
	}
	if rc.SettleTimeout > 0 {
		cfg.SettleTimeout = rc.SettleTimeout
	}
	if rc.RetryBudget != 0 {
		cfg.RetryBudget = rc.RetryBudget
	}
	if req.Limit > 0 {
		cfg.Limit = req.Limit
	}
	return cfg
}

// burn records the current proxy as flagged by domain and moves the
// session to a proxy that is not cooling down for it.
func (w *Worker) burn(ctx context.Context, domain string, reqID [16]byte, url string, logger *zap.Logger) {
	proxy := browser.ProxyHost(w.session.Proxy())
	now := w.clock.Now()
	if w.ledger != nil {
		if err := w.ledger.Burn(ctx, proxy, domain, now); err != nil {
			logger.Error("record burned proxy failed", zap.String("proxy", proxy), zap.Error(err))
		}
	}
	w.events.Emit(progress.Event{
		RequestID: reqID, TS: now, Stage: progress.StageSessionBurned, Site: domain, URL: url, Note: proxy,
	})

	skip := func(candidate string) bool {
		cooling, err := session.Cooling(ctx, w.ledger, browser.ProxyHost(candidate), domain, w.cfg.BurnCooldown, now)
		if err != nil {
			logger.Warn("read proxy ledger failed", zap.String("proxy", candidate), zap.Error(err))
		}
		return cooling
	}
	if err := w.session.Rotate(skip); err != nil {
		logger.Error("rotate session failed", zap.Error(err))
		return
	}
	metrics.ObserveBrowserRotation(domain)
	logger.Warn("session burned",
		zap.String("proxy", proxy),
		zap.String("next_proxy", browser.ProxyHost(w.session.Proxy())),
	)
}

func (w *Worker) finish(reqID [16]byte, domain string, outcome crawler.ProductOutcome, logger *zap.Logger) {
	evt := progress.Event{
		RequestID: reqID,
		TS:        w.clock.Now(),
		Stage:     progress.StageProductDone,
		Site:      domain,
		URL:       outcome.URL,
		Emitted:   outcome.Emitted,
		Skipped:   outcome.Skipped,
		Dur:       outcome.Duration,
	}
	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Int("emitted", outcome.Emitted),
		zap.Int("skipped", outcome.Skipped),
		zap.Bool("truncated", outcome.Truncated),
		zap.Duration("duration", outcome.Duration),
	}
	if outcome.Status == crawler.ProductStatusDone {
		w.events.Emit(evt)
		logger.Info("product explored", fields...)
		return
	}
	evt.Stage = progress.StageProductError
	evt.Class = variant.ClassFatalProduct.String()
	if outcome.Status == crawler.ProductStatusSessionBurned {
		evt.Class = variant.ClassFatalSession.String()
	}
	evt.Note = outcome.Error
	w.events.Emit(evt)
	logger.Warn("product failed", append(fields, zap.String("error", outcome.Error))...)
}

// openError classifies a failed tab open. Proxy and tunnel failures mean
// the session is unusable; anything else is charged to the product.
func openError(url string, err error) error {
	if antiBot(err) {
		return &variant.SessionError{URL: url, Stage: variant.StageOpen, Err: err}
	}
	if msg := err.Error(); strings.Contains(msg, "ERR_PROXY") || strings.Contains(msg, "ERR_TUNNEL") {
		return &variant.SessionError{URL: url, Stage: variant.StageOpen, Err: fmt.Errorf("%w: %w", variant.ErrBlocked, err)}
	}
	return &variant.ProductError{URL: url, Stage: variant.StageOpen, Err: err}
}

func antiBot(err error) bool {
	return errors.Is(err, variant.ErrCaptcha) || errors.Is(err, variant.ErrBlocked)
}
