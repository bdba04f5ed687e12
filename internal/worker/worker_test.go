package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
	"github.com/JakeFAU/retail-variant-crawler/internal/session"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func shopConfig() retailer.Config {
	return retailer.Config{
		TitleSelector:  "h1.title",
		PriceSelector:  ".price",
		SKUSelector:    "[data-sku]",
		SKUAttribute:   "data-sku",
		RequiredFields: []string{"title"},
		Limit:          10,
	}
}

type harness struct {
	worker  *Worker
	session *fakeSession
	sink    *recordingSink
	events  *recordingEvents
	ledger  *session.MemoryLedger
}

func newHarness(t *testing.T, sess *fakeSession, cfg Config) *harness {
	t.Helper()
	registry, err := retailer.NewRegistry(map[string]retailer.Config{"shop.test": shopConfig()})
	require.NoError(t, err)
	if cfg.Explorer.SettleTimeout == 0 {
		cfg.Explorer.SettleTimeout = 10 * time.Millisecond
	}
	cfg.PollInterval = time.Millisecond
	h := &harness{
		session: sess,
		sink:    &recordingSink{},
		events:  &recordingEvents{},
		ledger:  session.NewMemoryLedger(),
	}
	h.worker = New(&sliceQueue{}, registry, sess, h.sink, h.ledger, nil, fixedClock{testNow}, h.events, cfg, zap.NewNop())
	return h
}

func request() crawler.ProductRequest {
	return crawler.ProductRequest{ID: "0194e5c2-7a41-7c1e-9a5e-3d2f1b0c9a88", URL: "https://www.shop.test/p/lounge-chair"}
}

func TestProcessEmitsVariant(t *testing.T) {
	t.Parallel()

	tab := productTab()
	h := newHarness(t, &fakeSession{proxies: []string{"http://10.0.0.1:3128"}, tabs: []*fakeTab{tab}}, Config{})

	outcome := h.worker.Process(context.Background(), request())

	require.Equal(t, crawler.ProductStatusDone, outcome.Status, outcome.Error)
	assert.Equal(t, "shop.test", outcome.Retailer)
	assert.Equal(t, 1, outcome.Emitted)
	assert.Equal(t, "session-1", outcome.SessionID)
	assert.True(t, tab.closed)

	records := h.sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "LC-1", records[0].SKU)
	assert.Equal(t, "Lounge Chair", records[0].Title)
	assert.Equal(t, "shop.test", records[0].RetailerDomain)
	assert.Equal(t, request().URL, records[0].VariantGroupURL)

	assert.Equal(t, []progress.Stage{
		progress.StageProductStart, progress.StageVariantEmitted, progress.StageProductDone,
	}, h.events.stages())
	assert.Equal(t, 1, h.events.last().Emitted)
}

func TestProcessUnsupportedRetailer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeSession{tabs: []*fakeTab{productTab()}}, Config{})
	req := request()
	req.URL = "https://elsewhere.example/p/1"

	outcome := h.worker.Process(context.Background(), req)

	assert.Equal(t, crawler.ProductStatusUnsupported, outcome.Status)
	assert.Zero(t, h.session.opens)
	assert.Empty(t, h.events.stages())
}

func TestProcessRotatesBurnedSession(t *testing.T) {
	t.Parallel()

	walled := productTab()
	walled.status = 429
	sess := &fakeSession{
		proxies: []string{"http://10.0.0.1:3128", "http://10.0.0.2:3128"},
		tabs:    []*fakeTab{walled, productTab()},
	}
	h := newHarness(t, sess, Config{BurnCooldown: time.Hour})

	outcome := h.worker.Process(context.Background(), request())

	require.Equal(t, crawler.ProductStatusDone, outcome.Status, outcome.Error)
	assert.Equal(t, 1, sess.rotations)
	assert.Equal(t, "http://10.0.0.2:3128", sess.Proxy())
	at, ok, err := h.ledger.LastBurned(context.Background(), "10.0.0.1", "shop.test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testNow, at)
	assert.Contains(t, h.events.stages(), progress.StageSessionBurned)
	assert.Len(t, h.sink.all(), 1)
}

func TestProcessSkipsCoolingProxies(t *testing.T) {
	t.Parallel()

	walled := productTab()
	walled.state = map[string]any{"captcha": true}
	sess := &fakeSession{
		proxies: []string{"http://10.0.0.1:3128", "http://10.0.0.2:3128", "http://10.0.0.3:3128"},
		tabs:    []*fakeTab{walled, productTab()},
	}
	h := newHarness(t, sess, Config{BurnCooldown: time.Hour})
	require.NoError(t, h.ledger.Burn(context.Background(), "10.0.0.2", "shop.test", testNow.Add(-time.Minute)))

	outcome := h.worker.Process(context.Background(), request())

	require.Equal(t, crawler.ProductStatusDone, outcome.Status, outcome.Error)
	assert.Equal(t, []string{"http://10.0.0.2:3128"}, sess.skipped)
	assert.Equal(t, "http://10.0.0.3:3128", sess.Proxy())
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	walled := productTab()
	walled.status = 403
	sess := &fakeSession{proxies: []string{"http://10.0.0.1:3128", "http://10.0.0.2:3128"}, tabs: []*fakeTab{walled}}
	h := newHarness(t, sess, Config{MaxAttempts: 2})

	outcome := h.worker.Process(context.Background(), request())

	assert.Equal(t, crawler.ProductStatusSessionBurned, outcome.Status)
	assert.Equal(t, 2, sess.opens)
	assert.Equal(t, 2, sess.rotations)
	last := h.events.last()
	assert.Equal(t, progress.StageProductError, last.Stage)
	assert.Equal(t, variant.ClassFatalSession.String(), last.Class)
	assert.Empty(t, h.sink.all())
}

func TestProcessProductFailureDoesNotRotate(t *testing.T) {
	t.Parallel()

	missing := productTab()
	missing.status = 404
	sess := &fakeSession{proxies: []string{"http://10.0.0.1:3128"}, tabs: []*fakeTab{missing}}
	h := newHarness(t, sess, Config{})

	outcome := h.worker.Process(context.Background(), request())

	assert.Equal(t, crawler.ProductStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "not found")
	assert.Zero(t, sess.rotations)
	assert.Equal(t, variant.ClassFatalProduct.String(), h.events.last().Class)
}

func TestRunDrainsQueueAndReportsOutcomes(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{proxies: []string{""}, tabs: []*fakeTab{productTab()}}
	var outcomes []crawler.ProductOutcome
	h := newHarness(t, sess, Config{OnOutcome: func(o crawler.ProductOutcome) { outcomes = append(outcomes, o) }})
	queue := &sliceQueue{}
	h.worker.queue = queue
	require.NoError(t, queue.Enqueue(context.Background(), request()))
	second := request()
	second.ID = "second"
	require.NoError(t, queue.Enqueue(context.Background(), second))

	h.worker.Run(context.Background())

	require.Len(t, outcomes, 2)
	assert.Equal(t, "second", outcomes[1].RequestID)
	assert.Equal(t, crawler.ProductStatusDone, outcomes[1].Status)
}

func TestExplorerConfigOverrides(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, nil, fixedClock{testNow}, nil, Config{
		Explorer: variant.Config{Limit: 50, SettleTimeout: time.Second, RetryBudget: 1},
	}, nil)

	rc := retailer.Config{Limit: 20, SettleTimeout: 3 * time.Second}
	cfg := w.explorerConfig(rc, crawler.ProductRequest{})
	assert.Equal(t, 20, cfg.Limit)
	assert.Equal(t, 3*time.Second, cfg.SettleTimeout)
	assert.Equal(t, 1, cfg.RetryBudget)

	cfg = w.explorerConfig(rc, crawler.ProductRequest{Limit: 5})
	assert.Equal(t, 5, cfg.Limit)
}

func TestOpenErrorClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, variant.IsSessionFatal(openError("u", errors.New("page load error net::ERR_PROXY_CONNECTION_FAILED"))))
	assert.True(t, variant.IsSessionFatal(openError("u", variant.ErrCaptcha)))

	err := openError("u", variant.ErrSettleTimeout)
	var productErr *variant.ProductError
	require.ErrorAs(t, err, &productErr)
	assert.Equal(t, variant.StageOpen, productErr.Stage)
}

func TestAnnotateMarksFailedProducts(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, ok := tp.Tracer("test").Start(context.Background(), "done")
	annotate(ok, crawler.ProductOutcome{Status: crawler.ProductStatusDone, Emitted: 3})
	ok.End()

	_, bad := tp.Tracer("test").Start(context.Background(), "burned")
	annotate(bad, crawler.ProductOutcome{Status: crawler.ProductStatusSessionBurned, Error: "captcha"})
	bad.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("variants.emitted", 3))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "captcha", spans[1].Status().Description)
}
