// Package pubsub feeds product requests published to a Google Cloud Pub/Sub
// subscription into the crawler's work queue.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Config names the subscription to read.
type Config struct {
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	// MaxOutstanding caps unacknowledged messages held at once.
	MaxOutstanding int `mapstructure:"max_outstanding"`
}

// Enabled reports whether a subscription is configured.
func (c Config) Enabled() bool {
	return c.Subscription != ""
}

// Receiver is the part of *pubsub.Subscriber the intake uses.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Enqueuer accepts product requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, req crawler.ProductRequest) error
}

// message is the JSON body of one product request.
type message struct {
	URL      string `json:"url"`
	GroupURL string `json:"group_url,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Intake turns subscription messages into queued product requests.
type Intake struct {
	receiver Receiver
	queue    Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
	client   *pubsub.Client
}

// Dial connects to Pub/Sub and returns an Intake for cfg.Subscription.
func Dial(
	ctx context.Context,
	cfg Config,
	queue Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Intake, error) {
	if cfg.ProjectID == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub project_id and subscription are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	sub := client.Subscriber(cfg.Subscription)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	in := New(sub, queue, idGen, clock, logger)
	in.client = client
	return in, nil
}

// New wraps an existing receiver.
func New(
	receiver Receiver,
	queue Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{receiver: receiver, queue: queue, idGen: idGen, clock: clock, logger: logger}
}

// Run receives until ctx ends. Malformed messages are acknowledged and
// dropped; messages that cannot be queued are nacked for redelivery.
func (i *Intake) Run(ctx context.Context) error {
	err := i.receiver.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if i.handle(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// handle reports whether the message should be acknowledged.
func (i *Intake) handle(ctx context.Context, msgID string, data []byte) bool {
	logger := i.logger.With(zap.String("message_id", msgID))

	req, err := i.decode(data)
	if err != nil {
		logger.Warn("dropping malformed product request", zap.Error(err))
		return true
	}
	if err := i.queue.Enqueue(ctx, req); err != nil {
		logger.Warn("enqueue product request failed", zap.String("url", req.URL), zap.Error(err))
		return false
	}
	logger.Info("product request received", zap.String("request_id", req.ID), zap.String("url", req.URL))
	return true
}

func (i *Intake) decode(data []byte) (crawler.ProductRequest, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return crawler.ProductRequest{}, fmt.Errorf("decode: %w", err)
	}
	u, err := url.Parse(m.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return crawler.ProductRequest{}, fmt.Errorf("invalid url %q", m.URL)
	}
	if m.Limit < 0 {
		return crawler.ProductRequest{}, fmt.Errorf("limit must be >= 0")
	}
	id, err := i.idGen.NewID()
	if err != nil {
		return crawler.ProductRequest{}, fmt.Errorf("generate request id: %w", err)
	}
	return crawler.ProductRequest{
		ID:        id,
		URL:       m.URL,
		GroupURL:  m.GroupURL,
		Limit:     m.Limit,
		Attempt:   1,
		Submitted: i.clock.Now(),
	}, nil
}

// Close releases the Pub/Sub client, if Dial created one.
func (i *Intake) Close() error {
	if i.client == nil {
		return nil
	}
	if err := i.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
