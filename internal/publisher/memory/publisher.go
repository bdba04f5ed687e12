// Package memory contains in-memory publisher implementations for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	closed   bool
}

// PublishedMessage captures one publish call along with the routing data a
// real broker would see.
type PublishedMessage struct {
	Topic      string
	Key        string
	Attributes map[string]string
	Payload    any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish canceled: %w", err)
	}
	msg := PublishedMessage{Topic: topic, Payload: payload}
	if k, ok := payload.(crawler.Keyed); ok {
		msg.Key = k.MessageKey()
	}
	if a, ok := payload.(crawler.Attributed); ok {
		msg.Attributes = a.MessageAttributes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("publisher closed")
	}
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close rejects further publishes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
