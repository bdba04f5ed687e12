package variant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakePage models a product page whose state is the current option chosen
// for each parameter. Selecting a parameter resets every deeper parameter,
// the way cascading selects behave on most retailer pages.
type fakePage struct {
	options     []int
	endless     bool
	defaults    bool
	invalid     map[string]bool
	selectErrs  map[string][]error
	countErrs   map[int]error
	extractErrs map[string]error
	blockOn     map[string]func(ctx context.Context) error
	skuOf       func(selected []int) string

	selected []int
	selects  []string
}

func newFakePage(options ...int) *fakePage {
	p := &fakePage{
		options:     options,
		invalid:     map[string]bool{},
		selectErrs:  map[string][]error{},
		countErrs:   map[int]error{},
		extractErrs: map[string]error{},
		blockOn:     map[string]func(ctx context.Context) error{},
		selected:    make([]int, len(options)),
	}
	p.reset(0)
	return p
}

func (p *fakePage) withDefaults() *fakePage {
	p.defaults = true
	p.reset(0)
	return p
}

func (p *fakePage) reset(from int) {
	for i := from; i < len(p.selected); i++ {
		if p.defaults {
			p.selected[i] = 0
		} else {
			p.selected[i] = -1
		}
	}
}

func (p *fakePage) sku() string {
	if p.skuOf != nil {
		return p.skuOf(p.selected)
	}
	parts := make([]string, len(p.selected))
	for i, v := range p.selected {
		if v < 0 {
			parts[i] = "x"
			continue
		}
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "/")
}

func (p *fakePage) state(context.Context) (Snapshot, error) {
	return SKUSnapshot(p.sku()), nil
}

func (p *fakePage) OptionsCount(_ context.Context, param int) (int, error) {
	if err := p.countErrs[param]; err != nil {
		return 0, err
	}
	if p.endless {
		return 1, nil
	}
	if param < len(p.options) {
		return p.options[param], nil
	}
	return 0, nil
}

func (p *fakePage) HasDefaultSelection(_ context.Context, param int) (bool, error) {
	return p.defaults && (p.endless || param < len(p.options)), nil
}

func (p *fakePage) Select(ctx context.Context, param, option int) error {
	key := fmt.Sprintf("%d:%d", param, option)
	p.selects = append(p.selects, key)
	if wait := p.blockOn[key]; wait != nil {
		<-ctx.Done()
		return wait(ctx)
	}
	if errs := p.selectErrs[key]; len(errs) > 0 {
		p.selectErrs[key] = errs[1:]
		return errs[0]
	}
	for len(p.selected) <= param {
		p.selected = append(p.selected, -1)
	}
	p.selected[param] = option
	p.reset(param + 1)
	return nil
}

func (p *fakePage) IsInvalidCombination(_ context.Context, path SelectionPath) (bool, error) {
	return p.invalid[path.String()], nil
}

func (p *fakePage) Extract(context.Context) (Product, error) {
	sku := p.sku()
	if err := p.extractErrs[sku]; err != nil {
		return Product{}, err
	}
	return Product{
		URL:   "https://shop.test/product?sku=" + sku,
		Title: "Lounge Chair",
		SKU:   sku,
	}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *recordingSink) Push(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *recordingSink) skus() []string {
	records := s.all()
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SKU
	}
	return out
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type brokenObserver struct {
	Observer
	err error
}

func (o brokenObserver) WaitForChange(context.Context, Snapshot, time.Duration) (Snapshot, error) {
	return "", o.err
}

// flakyCapture serves the first ok Capture calls from the wrapped observer
// and fails every later one with err.
type flakyCapture struct {
	Observer
	ok    int
	calls int
	err   error
}

func (o *flakyCapture) Capture(ctx context.Context) (Snapshot, error) {
	o.calls++
	if o.calls > o.ok {
		return "", o.err
	}
	return o.Observer.Capture(ctx)
}
