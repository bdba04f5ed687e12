// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Config selects the project and topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	// Ordered publishes with the payload's message key as ordering key so
	// the variants of one product are delivered in sequence.
	Ordered bool `mapstructure:"ordered"`
}

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	ordered   bool
}

// Dial connects to Pub/Sub and returns a Publisher for cfg.Topic.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := New(client.Publisher(cfg.Topic), cfg.Ordered)
	p.client = client
	return p, nil
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher, ordered bool) *Publisher {
	if publisher != nil && ordered {
		publisher.EnableMessageOrdering = true
	}
	return &Publisher{publisher: publisher, ordered: ordered}
}

// Publish marshals the payload to JSON and publishes it to the topic the
// publisher was created for. The topic argument is ignored.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := p.message(ctx, payload)
	if err != nil {
		return "", err
	}

	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			p.publisher.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) message(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if a, ok := payload.(crawler.Attributed); ok {
		for k, v := range a.MessageAttributes() {
			msg.Attributes[k] = v
		}
	}
	if k, ok := payload.(crawler.Keyed); ok && p.ordered {
		msg.OrderingKey = k.MessageKey()
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
