package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/queue/memory"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("req-%d", s.n), nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, crawler.ProductRequest) error {
	return crawler.ErrQueueClosed
}

func (failingQueue) Dequeue(context.Context) (crawler.ProductRequest, error) {
	return crawler.ProductRequest{}, crawler.ErrQueueClosed
}

type stubReceiver struct{ err error }

func (s stubReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return s.err
}

func TestHandleQueuesValidRequests(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	in := New(nil, q, &seqIDs{}, fixedClock{}, zap.NewNop())

	ack := in.handle(context.Background(), "m1",
		[]byte(`{"url":"https://shop.test/p/1","group_url":"https://shop.test/p","limit":5}`))
	require.True(t, ack)

	req, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.ProductRequest{
		ID:        "req-1",
		URL:       "https://shop.test/p/1",
		GroupURL:  "https://shop.test/p",
		Limit:     5,
		Attempt:   1,
		Submitted: now,
	}, req)
}

func TestHandleDropsMalformedMessages(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	in := New(nil, q, &seqIDs{}, fixedClock{}, nil)

	for _, body := range []string{
		`not json`,
		`{"url":"ftp://shop.test/p/1"}`,
		`{"url":"https:///p/1"}`,
		`{"url":"https://shop.test/p/1","limit":-1}`,
	} {
		assert.True(t, in.handle(context.Background(), "m", []byte(body)), body)
	}
	assert.Equal(t, 0, q.Len())
}

func TestHandleNacksWhenQueueRejects(t *testing.T) {
	t.Parallel()

	in := New(nil, failingQueue{}, &seqIDs{}, fixedClock{}, nil)
	assert.False(t, in.handle(context.Background(), "m", []byte(`{"url":"https://shop.test/p/1"}`)))
}

func TestRunSurfacesReceiveErrors(t *testing.T) {
	t.Parallel()

	in := New(stubReceiver{err: errors.New("permission denied")}, memory.NewQueue(1), &seqIDs{}, fixedClock{}, nil)
	require.ErrorContains(t, in.Run(context.Background()), "permission denied")

	in = New(stubReceiver{err: context.Canceled}, memory.NewQueue(1), &seqIDs{}, fixedClock{}, nil)
	require.NoError(t, in.Run(context.Background()))
	require.NoError(t, in.Close())
}

func TestDialValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{Subscription: "s"}, memory.NewQueue(1), &seqIDs{}, fixedClock{}, nil)
	require.Error(t, err)
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Subscription: "s"}.Enabled())
}
