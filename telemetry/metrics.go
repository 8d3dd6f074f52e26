// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsForwarded     prometheus.Counter
	EventsFailed        prometheus.Counter
	DeliveryRetries     prometheus.Counter
	APICalls            prometheus.Counter
	QuotaDenied         prometheus.Counter
	PushNotifications   prometheus.Counter
	FeedParseFailures   prometheus.Counter
	ChatMessagesFetched prometheus.Counter
	PollCycles          prometheus.Counter

	// Histograms (seconds)
	PollDuration     prometheus.Observer
	DeliveryDuration prometheus.Observer

	// Gauges
	ActiveStreamsGauge prometheus.Gauge
	QueueDepthGauge    prometheus.Gauge
	QuotaUsedGauge     prometheus.Gauge
	LeaseExpiryGauge   prometheus.Gauge // unix seconds of the current lease expiry, 0 when unsubscribed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsForwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_events_forwarded_total", Help: "Webhook events delivered successfully"})
		EventsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_events_failed_total", Help: "Webhook events dropped after exhausting retries"})
		DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_delivery_retries_total", Help: "Webhook delivery attempts that failed and were requeued"})
		APICalls = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_api_calls_total", Help: "YouTube Data API requests issued"})
		QuotaDenied = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_quota_denied_total", Help: "API requests skipped because the daily quota budget was exhausted"})
		PushNotifications = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_push_notifications_total", Help: "WebSub feed notifications received"})
		FeedParseFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_feed_parse_failures_total", Help: "WebSub notification bodies that failed to parse"})
		ChatMessagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_chat_messages_total", Help: "Live chat messages fetched (before dedup)"})
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_poll_cycles_total", Help: "Monitor poll cycles executed"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamwatch_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamwatch_delivery_duration_seconds", Help: "Webhook delivery attempt duration seconds", Buckets: prometheus.DefBuckets})
		ActiveStreamsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_active_streams", Help: "Broadcasts currently tracked as upcoming or live"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_delivery_queue_depth", Help: "Webhook events waiting for delivery"})
		QuotaUsedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_quota_used_units", Help: "API quota units consumed in the current UTC day"})
		LeaseExpiryGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_lease_expiry_seconds", Help: "WebSub lease expiry as unix seconds, 0 when unsubscribed"})
	})
}

// SetActiveStreams records the number of tracked upcoming/live broadcasts.
func SetActiveStreams(n int) {
	if ActiveStreamsGauge != nil {
		ActiveStreamsGauge.Set(float64(n))
	}
}

// SetQueueDepth records the current delivery backlog.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetQuotaUsed records quota units consumed today.
func SetQuotaUsed(n int) {
	if QuotaUsedGauge != nil {
		QuotaUsedGauge.Set(float64(n))
	}
}

// SetLeaseExpiry records the lease expiry; pass the zero time when unsubscribed.
func SetLeaseExpiry(t time.Time) {
	if LeaseExpiryGauge == nil {
		return
	}
	if t.IsZero() {
		LeaseExpiryGauge.Set(0)
		return
	}
	LeaseExpiryGauge.Set(float64(t.Unix()))
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
