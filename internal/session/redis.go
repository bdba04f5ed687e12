package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "proxy_status:"
	fieldPrefix      = "last_burned_"
)

// RedisClient is the subset of *redis.Client the ledger uses.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisLedger stores burns as hash fields:
//
//	HSET proxy_status:<proxy> last_burned_<retailer> <RFC3339 time>
type RedisLedger struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures NewRedisLedger.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires a proxy's hash after its last burn. Zero keeps it forever.
	TTL time.Duration
}

// NewRedisLedger dials Redis and returns a ledger.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLedgerWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisLedgerWithClient wraps an existing client.
func NewRedisLedgerWithClient(client RedisClient, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

// Burn writes the burn time for (proxy, retailer).
func (l *RedisLedger) Burn(ctx context.Context, proxy, retailer string, at time.Time) error {
	key := l.prefix + proxy
	if err := l.client.HSet(ctx, key, fieldPrefix+retailer, at.UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("record burn for %s: %w", proxy, err)
	}
	if l.ttl > 0 {
		if err := l.client.Expire(ctx, key, l.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return nil
}

// LastBurned reads the burn time for (proxy, retailer).
func (l *RedisLedger) LastBurned(ctx context.Context, proxy, retailer string) (time.Time, bool, error) {
	raw, err := l.client.HGet(ctx, l.prefix+proxy, fieldPrefix+retailer).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read burn for %s: %w", proxy, err)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse burn time %q: %w", raw, err)
	}
	return at, true, nil
}

// Close closes the client.
func (l *RedisLedger) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
