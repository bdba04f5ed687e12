package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
)

// PrometheusSink turns progress events into product and variant metrics.
type PrometheusSink struct {
	productsStarted   prometheus.Counter
	productsCompleted *prometheus.CounterVec
	productsRunning   prometheus.Gauge
	productRuntime    *prometheus.HistogramVec

	variantsEmitted *prometheus.CounterVec
	variantsSkipped *prometheus.CounterVec
	sessionsBurned  *prometheus.CounterVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers its collectors with reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		productsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_products_started_total",
			Help: "Product requests that began exploring.",
		}),
		productsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_products_completed_total",
			Help: "Product requests finished, by result.",
		}, []string{"result"}),
		productsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_products_running",
			Help: "Product requests currently exploring.",
		}),
		productRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_product_runtime_seconds",
			Help:    "Wall time per finished product request.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		variantsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_variants_emitted_total",
			Help: "Variant records emitted, by retailer.",
		}, []string{"site"}),
		variantsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_variants_skipped_total",
			Help: "Branches skipped during exploration, by retailer and class.",
		}, []string{"site", "class"}),
		sessionsBurned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_sessions_burned_total",
			Help: "Browser sessions abandoned after captcha or blocking.",
		}, []string{"site"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.productsStarted, s.productsCompleted, s.productsRunning, s.productRuntime,
		s.variantsEmitted, s.variantsSkipped, s.sessionsBurned,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors for each event.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		site := metrics.SanitizeSite(evt.Site)
		switch evt.Stage {
		case progress.StageProductStart:
			s.productsStarted.Inc()
			if s.track(evt.RequestID, true) {
				s.productsRunning.Inc()
			}
		case progress.StageProductDone, progress.StageProductError:
			result := "done"
			if evt.Stage == progress.StageProductError {
				result = "error"
			}
			s.productsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.productRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RequestID, false) {
				s.productsRunning.Dec()
			}
		case progress.StageVariantEmitted:
			s.variantsEmitted.WithLabelValues(site).Inc()
		case progress.StageVariantSkipped:
			s.variantsSkipped.WithLabelValues(site, evt.Class).Inc()
		case progress.StageSessionBurned:
			s.sessionsBurned.WithLabelValues(site).Inc()
			// The request is requeued; it counts as running again on its next start.
			if s.track(evt.RequestID, false) {
				s.productsRunning.Dec()
			}
		}
	}
	return nil
}

// track marks id running (start) or finished and reports whether the
// running set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
