package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
browser:
  headless: false
  max_tabs: 2
  navigation_timeout: 30s
  proxies: ["http://p1:8080", "http://p2:8080"]
explorer:
  limit: 25
  max_depth: 4
  settle_timeout: 3s
crawler:
  workers: 6
  max_attempts: 5
rate_limit:
  default_rps: 1.5
  domains:
    - domain: shop.example.com
      rps: 0.2
      burst: 2
output:
  sinks: [log, postgres, redis]
  postgres:
    dsn: postgres://localhost/variants
  redis:
    addr: localhost:6379
session:
  ledger: redis
  cooldown: 45m
  redis:
    addr: localhost:6379
retailers:
  example:
    domain: shop.example.com
    parameter_selector: ".variant-group"
    option_selector: "button"
    sku_selector: "[data-sku]"
    settle_timeout: 2s
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Browser.Headless || cfg.Browser.MaxTabs != 2 || len(cfg.Browser.Proxies) != 2 {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if got := cfg.Browser.Options().NavigationTimeout; got != 30*time.Second {
		t.Fatalf("expected navigation timeout 30s, got %v", got)
	}
	if got := cfg.Explorer.Options(); got.Limit != 25 || got.MaxDepth != 4 || got.SettleTimeout != 3*time.Second {
		t.Fatalf("expected explorer overrides to apply: %+v", got)
	}
	if cfg.Crawler.Workers != 6 || cfg.Crawler.MaxAttempts != 5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	limits := cfg.RateLimit.Options()
	if b, ok := limits.Domains["shop.example.com"]; !ok || b.RPS != 0.2 || b.Burst != 2 {
		t.Fatalf("expected domain override, got %+v", limits.Domains)
	}
	if !cfg.Output.Enabled(SinkPostgres) || !cfg.Output.Enabled(SinkRedis) || cfg.Output.Enabled(SinkGCS) {
		t.Fatalf("unexpected sinks %v", cfg.Output.Sinks)
	}
	if cfg.Output.Redis.Stream != "variants" {
		t.Fatalf("expected default stream, got %q", cfg.Output.Redis.Stream)
	}
	if cfg.Session.Cooldown != 45*time.Minute || cfg.Session.Redis.Options().KeyPrefix != "proxy_status:" {
		t.Fatalf("expected session settings to apply: %+v", cfg.Session)
	}
	r, ok := cfg.Retailers["example"]
	if !ok || r.Domain != "shop.example.com" || r.SettleTimeout != 2*time.Second {
		t.Fatalf("expected retailer to be loaded: %+v", cfg.Retailers)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Explorer.MaxDepth != 8 || cfg.Explorer.SettleTimeout != 5*time.Second || cfg.Explorer.RetryBudget != 1 {
		t.Fatalf("unexpected explorer defaults: %+v", cfg.Explorer)
	}
	if cfg.Crawler.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Crawler.MaxAttempts)
	}
	if len(cfg.Output.Sinks) != 1 || cfg.Output.Sinks[0] != SinkLog {
		t.Fatalf("expected log sink only, got %v", cfg.Output.Sinks)
	}
	if cfg.Session.Ledger != LedgerMemory || cfg.Session.Cooldown != 30*time.Minute {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if !cfg.Output.PubSub.Ordered {
		t.Fatalf("expected ordered pubsub by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_SERVER_PORT", "7070")
	t.Setenv("CRAWLER_CRAWLER_WORKERS", "9")
	t.Setenv("CRAWLER_OUTPUT_SINKS", "log,memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Crawler.Workers != 9 {
		t.Fatalf("expected env overrides, got port=%d workers=%d", cfg.Server.Port, cfg.Crawler.Workers)
	}
	if !cfg.Output.Enabled(SinkMemory) {
		t.Fatalf("expected memory sink from env, got %v", cfg.Output.Sinks)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Browser:  BrowserConfig{MaxTabs: 1},
			Explorer: ExplorerConfig{MaxDepth: 8},
			Crawler:  CrawlerConfig{Workers: 1, QueueDepth: 1, MaxAttempts: 3},
			Output:   OutputConfig{Sinks: []string{SinkLog}},
			Session:  SessionConfig{Ledger: LedgerMemory},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"tabs", func(c *Config) { c.Browser.MaxTabs = 0 }, "browser.max_tabs"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
		{"intake project", func(c *Config) { c.Intake.Subscription = "requests" }, "intake.project_id"},
		{"limit", func(c *Config) { c.Explorer.Limit = -1 }, "explorer.limit"},
		{"depth", func(c *Config) { c.Explorer.MaxDepth = 0 }, "explorer.max_depth"},
		{"workers", func(c *Config) { c.Crawler.Workers = 0 }, "crawler.workers"},
		{"attempts", func(c *Config) { c.Crawler.MaxAttempts = 0 }, "crawler.max_attempts"},
		{"no sinks", func(c *Config) { c.Output.Sinks = nil }, "output.sinks"},
		{"unknown sink", func(c *Config) { c.Output.Sinks = []string{"kafka"} }, "unknown sink"},
		{"gcs bucket", func(c *Config) { c.Output.Sinks = []string{SinkGCS} }, "output.gcs.bucket"},
		{"pubsub topic", func(c *Config) { c.Output.Sinks = []string{SinkPubSub} }, "output.pubsub"},
		{"postgres dsn", func(c *Config) { c.Output.Sinks = []string{SinkPostgres} }, "output.postgres.dsn"},
		{"redis addr", func(c *Config) { c.Output.Sinks = []string{SinkRedis} }, "output.redis"},
		{"ledger", func(c *Config) { c.Session.Ledger = "etcd" }, "session.ledger"},
		{"ledger addr", func(c *Config) { c.Session.Ledger = LedgerRedis }, "session.redis.addr"},
		{"rate domain", func(c *Config) { c.RateLimit.Domains = []DomainRate{{RPS: 1}} }, "rate_limit.domains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	if _, ok := cfg.Retailers["example-shop"]; !ok {
		t.Fatalf("expected example retailer, got %v", cfg.Retailers)
	}
	if !cfg.Output.Enabled(SinkLocal) {
		t.Fatalf("expected local sink, got %v", cfg.Output.Sinks)
	}
}
