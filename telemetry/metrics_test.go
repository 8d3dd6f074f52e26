package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := EventsForwarded
	Init()
	if EventsForwarded != first {
		t.Error("Init re-registered metrics")
	}
	if EventsForwarded == nil || APICalls == nil || ActiveStreamsGauge == nil {
		t.Error("metrics not initialized")
	}
}

func TestGaugeSetters(t *testing.T) {
	Init()

	// Setters should not panic across representative values.
	for _, n := range []int{0, 1, 50, 10000} {
		SetActiveStreams(n)
		SetQueueDepth(n)
		SetQuotaUsed(n)
	}

	SetQuotaUsed(321)
	metric := &dto.Metric{}
	if err := QuotaUsedGauge.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := *metric.Gauge.Value; got != 321 {
		t.Errorf("quota gauge = %v, want 321", got)
	}
}

func TestSetLeaseExpiry(t *testing.T) {
	Init()

	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	SetLeaseExpiry(expiry)
	metric := &dto.Metric{}
	if err := LeaseExpiryGauge.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := *metric.Gauge.Value; got != float64(expiry.Unix()) {
		t.Errorf("lease gauge = %v, want %v", got, expiry.Unix())
	}

	SetLeaseExpiry(time.Time{})
	metric.Reset()
	if err := LeaseExpiryGauge.Write(metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := *metric.Gauge.Value; got != 0 {
		t.Errorf("lease gauge after unsubscribe = %v, want 0", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestTimeFuncNilObserver(t *testing.T) {
	d := TimeFunc(nil, func() {})
	if d < 0 {
		t.Errorf("duration = %v", d)
	}
}

func TestCorrelationContext(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("empty context correlation = %q", got)
	}

	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("correlation = %q, want abc-123", got)
	}

	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
	if LoggerWithCorr(context.Background()) == nil {
		t.Error("LoggerWithCorr without corr returned nil")
	}
}
