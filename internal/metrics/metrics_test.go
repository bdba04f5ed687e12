package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, want string
	}{
		{"https", "https://Shop.Example.com/p/1", "shop.example.com"},
		{"no scheme", "shop.example.com/p/1", "shop.example.com"},
		{"bare host", "shop.example.com", "shop.example.com"},
		{"port", "shop.example.com:8443", "shop.example.com"},
		{"ip", "10.0.0.7", "10.0.0.7"},
		{"invalid", "http://%", "unknown"},
		{"empty", "", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, SanitizeSite(tc.in))
		})
	}
}

// Collectors are process-global, so this test asserts deltas and stays serial.
func TestObserversUpdateCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(recordWritesTotal.WithLabelValues("blob", "error"))
	ObserveRecordWrite("blob", errors.New("boom"))
	assert.InDelta(t, before+1, testutil.ToFloat64(recordWritesTotal.WithLabelValues("blob", "error")), 1e-9)

	rot := testutil.ToFloat64(browserRotationsTotal.WithLabelValues("shop.example.com"))
	ObserveBrowserRotation("https://shop.example.com/x")
	assert.InDelta(t, rot+1, testutil.ToFloat64(browserRotationsTotal.WithLabelValues("shop.example.com")), 1e-9)

	workers := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	assert.InDelta(t, workers+1, testutil.ToFloat64(activeWorkers), 1e-9)
	DecActiveWorkers()

	ObserveRateLimitDelay("shop.example.com", 200*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"http://example.com", "https://shop.example.com/p", "ftp://x"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned empty", in)
		}
	})
}
