// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/retail-variant-crawler/internal/browser"
	"github.com/JakeFAU/retail-variant-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	"github.com/JakeFAU/retail-variant-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/retail-variant-crawler/internal/publisher/redis"
	pubsubqueue "github.com/JakeFAU/retail-variant-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
	"github.com/JakeFAU/retail-variant-crawler/internal/session"
	"github.com/JakeFAU/retail-variant-crawler/internal/storage/gcs"
	"github.com/JakeFAU/retail-variant-crawler/internal/storage/local"
	"github.com/JakeFAU/retail-variant-crawler/internal/storage/postgres"
	"github.com/JakeFAU/retail-variant-crawler/internal/telemetry"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Output sink names accepted in output.sinks.
const (
	SinkLog      = "log"
	SinkMemory   = "memory"
	SinkLocal    = "local"
	SinkGCS      = "gcs"
	SinkPubSub   = "pubsub"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// Session ledger backends.
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Browser   BrowserConfig    `mapstructure:"browser"`
	Explorer  ExplorerConfig   `mapstructure:"explorer"`
	Crawler   CrawlerConfig    `mapstructure:"crawler"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Progress  ProgressConfig   `mapstructure:"progress"`
	Output    OutputConfig     `mapstructure:"output"`
	Session   SessionConfig    `mapstructure:"session"`
	// Intake optionally reads product requests from a Pub/Sub subscription
	// in serve mode.
	Intake pubsubqueue.Config `mapstructure:"intake"`
	// Retailers are keyed by a short name. A retailer without a domain uses
	// its key.
	Retailers map[string]retailer.Config `mapstructure:"retailers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey, when set, is required on /v1 routes via X-API-Key.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the Chrome allocator and tab pool.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MaxTabs           int           `mapstructure:"max_tabs"`
	Proxies           []string      `mapstructure:"proxies"`
}

// Options converts to the browser package's config.
func (c BrowserConfig) Options() browser.Config {
	return browser.Config{
		Headless:          c.Headless,
		UserAgent:         c.UserAgent,
		AcceptLanguage:    c.AcceptLanguage,
		NavigationTimeout: c.NavigationTimeout,
		ActionTimeout:     c.ActionTimeout,
		SettleDelay:       c.SettleDelay,
		MaxTabs:           c.MaxTabs,
	}
}

// ExplorerConfig bounds each product's variant walk.
type ExplorerConfig struct {
	Limit         int           `mapstructure:"limit"`
	MaxDepth      int           `mapstructure:"max_depth"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	RetryBudget   int           `mapstructure:"retry_budget"`
}

// Options converts to the variant package's config.
func (c ExplorerConfig) Options() variant.Config {
	return variant.Config{
		Limit:         c.Limit,
		MaxDepth:      c.MaxDepth,
		SettleTimeout: c.SettleTimeout,
		RetryBudget:   c.RetryBudget,
	}
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ProductTimeout time.Duration `mapstructure:"product_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// RateLimitConfig sets the default bucket and per-domain overrides. The
// overrides are a list because viper splits map keys on dots.
type RateLimitConfig struct {
	DefaultRPS   float64      `mapstructure:"default_rps"`
	DefaultBurst int          `mapstructure:"default_burst"`
	Domains      []DomainRate `mapstructure:"domains"`
}

// DomainRate overrides the bucket for one domain.
type DomainRate struct {
	Domain string  `mapstructure:"domain"`
	RPS    float64 `mapstructure:"rps"`
	Burst  int     `mapstructure:"burst"`
}

// Options converts to the limiter's config.
func (c RateLimitConfig) Options() ratelimit.Config {
	out := ratelimit.Config{
		DefaultRPS:   c.DefaultRPS,
		DefaultBurst: c.DefaultBurst,
		Domains:      make(map[string]ratelimit.Bucket, len(c.Domains)),
	}
	for _, d := range c.Domains {
		out.Domains[d.Domain] = ratelimit.Bucket{RPS: d.RPS, Burst: d.Burst}
	}
	return out
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	// Log mirrors every event to the logger.
	Log bool `mapstructure:"log"`
}

// Options converts to the hub's config; the logger is attached by the caller.
func (c ProgressConfig) Options() progress.Config {
	return progress.Config{
		BufferSize:     c.BufferSize,
		MaxBatchEvents: c.MaxBatchEvents,
		MaxBatchWait:   c.MaxBatchWait,
		SinkTimeout:    c.SinkTimeout,
	}
}

// OutputConfig selects and configures record sinks.
type OutputConfig struct {
	Sinks    []string        `mapstructure:"sinks"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	PubSub   pubsub.Config   `mapstructure:"pubsub"`
	Postgres postgres.Config `mapstructure:"postgres"`
	Redis    redis.Config    `mapstructure:"redis"`
}

// Enabled reports whether sink name is selected.
func (c OutputConfig) Enabled(name string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

// SessionConfig configures the burned-proxy ledger.
type SessionConfig struct {
	Ledger   string        `mapstructure:"ledger"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	Redis    RedisLedger   `mapstructure:"redis"`
}

// RedisLedger addresses the ledger's Redis.
type RedisLedger struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Options converts to the session package's config.
func (c RedisLedger) Options() session.RedisConfig {
	return session.RedisConfig{
		Addr:      c.Addr,
		Password:  c.Password,
		DB:        c.DB,
		KeyPrefix: c.KeyPrefix,
		TTL:       c.TTL,
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "variant-crawler")
	v.SetDefault("telemetry.version", "")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.settle_delay", "250ms")
	v.SetDefault("browser.max_tabs", 4)
	v.SetDefault("browser.proxies", []string{})

	v.SetDefault("explorer.limit", 0)
	v.SetDefault("explorer.max_depth", 8)
	v.SetDefault("explorer.settle_timeout", "5s")
	v.SetDefault("explorer.retry_budget", 1)

	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.poll_interval", "250ms")
	v.SetDefault("crawler.product_timeout", "10m")
	v.SetDefault("crawler.max_attempts", 3)

	v.SetDefault("rate_limit.default_rps", 0.5)
	v.SetDefault("rate_limit.default_burst", 1)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("progress.log", true)

	v.SetDefault("intake.project_id", "")
	v.SetDefault("intake.subscription", "")
	v.SetDefault("intake.max_outstanding", 0)

	v.SetDefault("output.sinks", []string{SinkLog})
	v.SetDefault("output.local.base_dir", "data/variants")
	v.SetDefault("output.gcs.bucket", "")
	v.SetDefault("output.gcs.prefix", "variants")
	v.SetDefault("output.pubsub.project_id", "")
	v.SetDefault("output.pubsub.topic", "")
	v.SetDefault("output.pubsub.ordered", true)
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.variant_table", "variants")
	v.SetDefault("output.postgres.run_table", "product_runs")
	v.SetDefault("output.postgres.max_conns", 8)
	v.SetDefault("output.redis.addr", "")
	v.SetDefault("output.redis.stream", "variants")
	v.SetDefault("output.redis.max_len", 100000)

	v.SetDefault("session.ledger", LedgerMemory)
	v.SetDefault("session.cooldown", "30m")
	v.SetDefault("session.redis.key_prefix", "proxy_status:")
	v.SetDefault("session.redis.ttl", "24h")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.MaxTabs <= 0 {
		return fmt.Errorf("browser.max_tabs must be > 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	if c.Intake.Enabled() && c.Intake.ProjectID == "" {
		return fmt.Errorf("intake.project_id is required with intake.subscription")
	}
	if c.Explorer.Limit < 0 {
		return fmt.Errorf("explorer.limit must be >= 0")
	}
	if c.Explorer.MaxDepth <= 0 {
		return fmt.Errorf("explorer.max_depth must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.RateLimit.DefaultRPS < 0 {
		return fmt.Errorf("rate_limit.default_rps must be >= 0")
	}
	for _, d := range c.RateLimit.Domains {
		if d.Domain == "" {
			return fmt.Errorf("rate_limit.domains entries need a domain")
		}
	}
	if err := c.Output.validate(); err != nil {
		return err
	}
	switch c.Session.Ledger {
	case LedgerMemory:
	case LedgerRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr must be set when session.ledger is redis")
		}
	default:
		return fmt.Errorf("session.ledger %q is not one of memory, redis", c.Session.Ledger)
	}
	for name, r := range c.Retailers {
		if r.Domain == "" {
			r.Domain = name
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("retailers.%s: %w", name, err)
		}
	}
	return nil
}

func (c OutputConfig) validate() error {
	if len(c.Sinks) == 0 {
		return fmt.Errorf("output.sinks must name at least one sink")
	}
	for _, raw := range c.Sinks {
		switch name := strings.ToLower(strings.TrimSpace(raw)); name {
		case SinkLog, SinkMemory:
		case SinkLocal:
			if c.Local.BaseDir == "" {
				return fmt.Errorf("output.local.base_dir must be set for the local sink")
			}
		case SinkGCS:
			if c.GCS.Bucket == "" {
				return fmt.Errorf("output.gcs.bucket must be set for the gcs sink")
			}
		case SinkPubSub:
			if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
				return fmt.Errorf("output.pubsub.project_id and topic must be set for the pubsub sink")
			}
		case SinkPostgres:
			if c.Postgres.DSN == "" {
				return fmt.Errorf("output.postgres.dsn must be set for the postgres sink")
			}
		case SinkRedis:
			if c.Redis.Addr == "" || c.Redis.Stream == "" {
				return fmt.Errorf("output.redis.addr and stream must be set for the redis sink")
			}
		default:
			return fmt.Errorf("output.sinks: unknown sink %q", raw)
		}
	}
	return nil
}
