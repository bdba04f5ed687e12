// Package app builds the crawler's dependencies from configuration and runs
// them either as an HTTP service or as a one-shot exploration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/api"
	"github.com/JakeFAU/retail-variant-crawler/internal/browser"
	"github.com/JakeFAU/retail-variant-crawler/internal/clock/system"
	"github.com/JakeFAU/retail-variant-crawler/internal/config"
	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/dispatcher"
	"github.com/JakeFAU/retail-variant-crawler/internal/hash/sha256"
	"github.com/JakeFAU/retail-variant-crawler/internal/id/uuid"
	"github.com/JakeFAU/retail-variant-crawler/internal/logging"
	"github.com/JakeFAU/retail-variant-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/retail-variant-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/retail-variant-crawler/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/retail-variant-crawler/internal/publisher/redis"
	queueMemory "github.com/JakeFAU/retail-variant-crawler/internal/queue/memory"
	pubsubintake "github.com/JakeFAU/retail-variant-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
	"github.com/JakeFAU/retail-variant-crawler/internal/session"
	"github.com/JakeFAU/retail-variant-crawler/internal/sink"
	gcsstorage "github.com/JakeFAU/retail-variant-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/retail-variant-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/retail-variant-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/retail-variant-crawler/internal/storage/postgres"
	"github.com/JakeFAU/retail-variant-crawler/internal/store"
	"github.com/JakeFAU/retail-variant-crawler/internal/telemetry"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
	"github.com/JakeFAU/retail-variant-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *retailer.Registry
	queue    *queueMemory.Queue
	dispatch *dispatcher.Dispatcher

	progressHub *progress.Hub
	runs        store.RunRepository
	records     variant.Sink
	memory      *sink.Memory

	browsers   []*browser.Browser
	ledger     session.Ledger
	pgPool     *pgxpool.Pool
	gcsClient  *storage.Client
	pubsub     *gcppublisher.Publisher
	redis      *redispublisher.Publisher
	intake     *pubsubintake.Intake
	registerer prometheus.Registerer
	telemetry  telemetry.Telemetry

	mu       sync.Mutex
	outcomes []crawler.ProductOutcome
}

// Option customizes Build.
type Option func(*App)

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers progress metrics with reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Strings("sinks", cfg.Output.Sinks),
	)

	var err error
	if cfg.Telemetry.ServiceName != "" {
		app.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("telemetry init failed: %w", err)
		}
	}

	app.registry, err = retailer.NewRegistry(cfg.Retailers)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("retailer registry init failed: %w", err)
	}
	app.logger.Info("retailers loaded", zap.Strings("domains", app.registry.Domains()))

	if err = setupDatabase(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = setupSinks(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = setupProgress(app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = setupLedger(app); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	if err = setupDispatcher(app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = setupIntake(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Records returns the in-memory record sink, or nil when the memory sink is
// not enabled.
func (a *App) Records() *sink.Memory {
	return a.memory
}

// Runs returns the product run repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Explore crawls urls once and returns their outcomes in completion order.
// The queue is closed afterwards, so an App explores at most once.
func (a *App) Explore(ctx context.Context, urls []string, limit int) ([]crawler.ProductOutcome, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one url is required")
	}
	ids := uuid.NewUUIDGenerator()
	clock := system.New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dispatch.Run(ctx)
	}()

	var enqueueErr error
	for _, u := range urls {
		id, err := ids.NewID()
		if err != nil {
			enqueueErr = err
			break
		}
		req := crawler.ProductRequest{ID: id, URL: u, Limit: limit, Attempt: 1, Submitted: clock.Now()}
		if err := a.dispatch.Enqueue(ctx, req); err != nil {
			enqueueErr = err
			break
		}
	}
	a.queue.Close()
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]crawler.ProductOutcome, len(a.outcomes))
	copy(out, a.outcomes)
	return out, enqueueErr
}

// Serve runs the HTTP API and the worker pool until ctx is canceled or the
// process receives SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	intakeDone := make(chan struct{})
	go func() {
		defer close(intakeDone)
		if a.intake == nil {
			return
		}
		a.logger.Info("pubsub intake started", zap.String("subscription", a.cfg.Intake.Subscription))
		if err := a.intake.Run(ctx); err != nil {
			a.logger.Error("pubsub intake stopped", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-intakeDone:
	case <-shutdownCtx.Done():
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// APIServer builds the HTTP API over the app's queue and run store.
func (a *App) APIServer() *api.Server {
	return api.NewServer(
		a.dispatch,
		a.registry,
		a.runs,
		uuid.NewUUIDGenerator(),
		system.New(),
		api.Options{
			APIKey:         a.cfg.Server.APIKey,
			RequestTimeout: a.cfg.Server.WriteTimeout,
			Ready:          a.ready,
		},
		a.logger.Named("api"),
	)
}

func (a *App) ready(ctx context.Context) error {
	if a.pgPool != nil {
		if err := a.pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

func (a *App) recordOutcome(o crawler.ProductOutcome) {
	a.mu.Lock()
	a.outcomes = append(a.outcomes, o)
	a.mu.Unlock()
}

// Close flushes progress and releases every client. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	for _, b := range a.browsers {
		b.Close()
	}
	a.browsers = nil
	a.closeInfrastructure()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	a.telemetry = telemetry.Telemetry{}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.intake != nil {
		if err := a.intake.Close(); err != nil {
			a.logger.Warn("pubsub intake close failed", zap.Error(err))
		}
		a.intake = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis publisher close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if l, ok := a.ledger.(*session.RedisLedger); ok {
		if err := l.Close(); err != nil {
			a.logger.Warn("session ledger close failed", zap.Error(err))
		}
		a.ledger = nil
	}
	if a.pgPool != nil {
		a.pgPool.Close()
		a.pgPool = nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Output.Postgres.DSN == "" {
		app.logger.Info("no postgres DSN configured, keeping product runs in memory")
		app.runs = memoryStorage.NewRunStore()
		return nil
	}
	var err error
	app.pgPool, err = pgstore.Connect(ctx, app.cfg.Output.Postgres)
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.runs, err = pgstore.NewRunStore(app.pgPool, app.cfg.Output.Postgres.RunTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.logger.Info("postgres run store initialized", zap.String("table", app.cfg.Output.Postgres.RunTable))
	return nil
}

//nolint:gocognit,gocyclo // one branch per sink keeps the wiring readable
func setupSinks(ctx context.Context, app *App) error {
	out := app.cfg.Output
	var sinks []variant.Sink

	if out.Enabled(config.SinkLog) {
		sinks = append(sinks, sink.NewLog(app.logger.Named("records")))
	}
	if out.Enabled(config.SinkMemory) {
		app.memory = sink.NewMemory()
		sinks = append(sinks, app.memory)
	}
	if out.Enabled(config.SinkLocal) {
		blobs, err := localstorage.New(out.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		s, err := sink.NewBlobSink(blobs, sha256.New())
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		app.logger.Info("local sink enabled", zap.String("path", out.Local.BaseDir))
	}
	if out.Enabled(config.SinkGCS) {
		var err error
		app.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.gcsClient, out.GCS)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		s, err := sink.NewBlobSink(blobs, sha256.New())
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		app.logger.Info("gcs sink enabled", zap.String("bucket", out.GCS.Bucket))
	}
	if out.Enabled(config.SinkPubSub) {
		var err error
		app.pubsub, err = gcppublisher.Dial(ctx, out.PubSub)
		if err != nil {
			return fmt.Errorf("pubsub init failed: %w", err)
		}
		s, err := sink.NewPublisherSink(app.pubsub, out.PubSub.Topic)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		app.logger.Info("pubsub sink enabled",
			zap.String("project", out.PubSub.ProjectID),
			zap.String("topic", out.PubSub.Topic),
			zap.Bool("ordered", out.PubSub.Ordered),
		)
	}
	if out.Enabled(config.SinkRedis) {
		var err error
		app.redis, err = redispublisher.New(out.Redis)
		if err != nil {
			return fmt.Errorf("redis publisher init failed: %w", err)
		}
		s, err := sink.NewPublisherSink(app.redis, out.Redis.Stream)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		app.logger.Info("redis sink enabled", zap.String("stream", out.Redis.Stream), zap.Int64("max_len", out.Redis.MaxLen))
	}
	if out.Enabled(config.SinkPostgres) {
		if app.pgPool == nil {
			return errors.New("postgres sink requires output.postgres.dsn")
		}
		variants, err := pgstore.NewVariantStore(app.pgPool, out.Postgres.VariantTable)
		if err != nil {
			return fmt.Errorf("variant store init failed: %w", err)
		}
		s, err := sink.NewStoreSink(variants)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		app.logger.Info("postgres sink enabled", zap.String("table", out.Postgres.VariantTable))
	}

	if len(sinks) == 0 {
		return errors.New("no output sinks configured")
	}
	if len(sinks) == 1 {
		app.records = sinks[0]
	} else {
		app.records = sink.NewMulti(sinks...)
	}
	return nil
}

func setupProgress(app *App) error {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.Progress.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}

	hubCfg := app.cfg.Progress.Options()
	hubCfg.Logger = app.logger.Named("progress_hub")
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func setupLedger(app *App) error {
	switch app.cfg.Session.Ledger {
	case config.LedgerRedis:
		l, err := session.NewRedisLedger(app.cfg.Session.Redis.Options())
		if err != nil {
			return fmt.Errorf("redis ledger init failed: %w", err)
		}
		app.ledger = l
		app.logger.Info("redis session ledger", zap.String("addr", app.cfg.Session.Redis.Addr))
	default:
		app.ledger = session.NewMemoryLedger()
	}
	return nil
}

func setupIntake(ctx context.Context, app *App) error {
	if !app.cfg.Intake.Enabled() {
		return nil
	}
	intake, err := pubsubintake.Dial(ctx, app.cfg.Intake, app.dispatch,
		uuid.NewUUIDGenerator(), system.New(), app.logger.Named("intake"))
	if err != nil {
		return fmt.Errorf("pubsub intake init failed: %w", err)
	}
	app.intake = intake
	return nil
}

func setupDispatcher(app *App) error {
	cfg := app.cfg
	clock := system.New()
	limiter := ratelimit.New(cfg.RateLimit.Options())
	proxies := browser.NewProxyPool(cfg.Browser.Proxies)
	app.logger.Info("browser pool",
		zap.Int("proxies", proxies.Len()),
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Int("max_tabs", cfg.Browser.MaxTabs),
	)

	workerCfg := worker.Config{
		Explorer:       cfg.Explorer.Options(),
		PollInterval:   cfg.Crawler.PollInterval,
		ProductTimeout: cfg.Crawler.ProductTimeout,
		MaxAttempts:    cfg.Crawler.MaxAttempts,
		BurnCooldown:   cfg.Session.Cooldown,
		OnOutcome:      app.recordOutcome,
	}

	runners := make([]dispatcher.Runner, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		logger := app.logger.Named("worker").With(zap.Int("index", i))
		b, err := browser.New(cfg.Browser.Options(), proxies, logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("browser %d init failed: %w", i, err)
		}
		app.browsers = append(app.browsers, b)
		runners = append(runners, worker.New(
			app.queue,
			app.registry,
			worker.BrowserSession{Browser: b},
			app.records,
			app.ledger,
			limiter,
			clock,
			app.progressHub,
			workerCfg,
			logger,
		))
	}
	app.dispatch = dispatcher.New(app.queue, runners)
	return nil
}
