package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

const productHTML = `<html><body><h1 class="title">Lounge Chair</h1>
<span class="price">$199.00</span><div data-sku="LC-1"></div></body></html>`

// fakeTab is a single-variant product page. Every Eval returns state.
type fakeTab struct {
	status   int
	location string
	state    map[string]any
	closed   bool
}

func productTab() *fakeTab {
	return &fakeTab{
		status:   200,
		location: "https://shop.test/p/lounge-chair",
		state:    map[string]any{"sku": "LC-1", "price": "$199.00"},
	}
}

func (t *fakeTab) Eval(_ context.Context, _ string, out any) error {
	raw, err := json.Marshal(t.state)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (t *fakeTab) HTML(context.Context) (string, error)     { return productHTML, nil }
func (t *fakeTab) Location(context.Context) (string, error) { return t.location, nil }
func (t *fakeTab) StatusCode() int                          { return t.status }
func (t *fakeTab) Close()                                   { t.closed = true }

// fakeSession hands out tabs in order; the last one repeats.
type fakeSession struct {
	mu        sync.Mutex
	proxies   []string
	current   int
	tabs      []*fakeTab
	opens     int
	openErr   error
	rotations int
	skipped   []string
}

func (s *fakeSession) Open(context.Context, string) (Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	i := s.opens
	if i >= len(s.tabs) {
		i = len(s.tabs) - 1
	}
	s.opens++
	return s.tabs[i], nil
}

func (s *fakeSession) Rotate(skip func(string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotations++
	for i := 1; i <= len(s.proxies); i++ {
		next := (s.current + i) % len(s.proxies)
		if skip(s.proxies[next]) {
			s.skipped = append(s.skipped, s.proxies[next])
			continue
		}
		s.current = next
		return nil
	}
	return errors.New("no usable proxy")
}

func (s *fakeSession) Proxy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.proxies) == 0 {
		return ""
	}
	return s.proxies[s.current]
}

func (s *fakeSession) SessionID() string { return "session-1" }

type recordingSink struct {
	mu      sync.Mutex
	records []variant.Record
}

func (s *recordingSink) Push(_ context.Context, rec variant.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) all() []variant.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]variant.Record(nil), s.records...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEvents) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEvents) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (e *recordingEvents) last() progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sliceQueue struct {
	mu    sync.Mutex
	items []crawler.ProductRequest
}

func (q *sliceQueue) Enqueue(_ context.Context, req crawler.ProductRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
	return nil
}

func (q *sliceQueue) Dequeue(context.Context) (crawler.ProductRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return crawler.ProductRequest{}, crawler.ErrQueueClosed
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req, nil
}
