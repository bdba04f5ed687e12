package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes records to Pub/Sub, Redis streams or similar and returns
// the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Keyed payloads carry a routing key. Publishers use it as the ordering or
// partition key so every variant of a product lands in order.
type Keyed interface {
	MessageKey() string
}

// Attributed payloads carry message attributes.
type Attributed interface {
	MessageAttributes() map[string]string
}

// Queue provides enqueue/dequeue semantics for product requests.
type Queue interface {
	Enqueue(ctx context.Context, req ProductRequest) error
	Dequeue(ctx context.Context) (ProductRequest, error)
}

// Hasher computes digests for object keys and fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
