// Package redis publishes records onto Redis streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Client is the slice of the go-redis client the publisher needs.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Config addresses the Redis server and default stream.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// MaxLen caps each stream approximately (MAXLEN ~). Zero disables trimming.
	MaxLen int64 `mapstructure:"max_len"`
}

// Publisher appends one stream entry per payload.
type Publisher struct {
	client Client
	stream string
	maxLen int64
}

// New dials Redis from cfg.
func New(cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish XADDs payload as JSON under the "data" field. A non-empty topic
// overrides the configured stream. The payload's message key and attributes
// are written as extra fields.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	stream := topic
	if stream == "" {
		stream = p.stream
	}
	if stream == "" {
		return "", fmt.Errorf("redis stream is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	values := map[string]any{"data": string(data)}
	if a, ok := payload.(crawler.Attributed); ok {
		for k, v := range a.MessageAttributes() {
			values[k] = v
		}
	}
	if k, ok := payload.(crawler.Keyed); ok {
		values["key"] = k.MessageKey()
	}

	args := &redis.XAddArgs{Stream: stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
