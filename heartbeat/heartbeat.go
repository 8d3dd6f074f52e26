// Package heartbeat periodically writes a liveness record to Redis so
// external watchdogs can tell a healthy monitor from a wedged one. The key
// expires at three intervals, so a stalled process disappears on its own.
package heartbeat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/streamwatch/monitor"
)

// Key is where the heartbeat record lives.
const Key = "streamwatch:heartbeat"

// expiryFactor times the interval gives the key TTL.
const expiryFactor = 3

// Beat is the serialized heartbeat record.
type Beat struct {
	Timestamp       string    `json:"timestamp"`
	Status          string    `json:"status"`
	ChannelID       string    `json:"channel_id"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	ActiveStreams   int       `json:"active_streams"`
	EventsForwarded int64     `json:"events_forwarded"`
	APICalls        int64     `json:"api_calls"`
	Quota           quotaBeat `json:"quota"`
}

type quotaBeat struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// redisCmdable is the slice of the Redis client the publisher needs.
type redisCmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Publisher writes heartbeats on an interval.
type Publisher struct {
	client    redisCmdable
	channelID string
	interval  time.Duration
	stats     func() monitor.Stats
}

// New connects a publisher to the Redis at addr. The stats callback is read
// on every beat.
func New(addr, channelID string, interval time.Duration, stats func() monitor.Stats) *Publisher {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Publisher{
		client:    client,
		channelID: channelID,
		interval:  interval,
		stats:     stats,
	}
}

// Run publishes until ctx is cancelled, then closes the connection. A failed
// write is logged and retried on the next beat; Redis being down must never
// take the monitor with it.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.client.Close(); err != nil {
			slog.Warn("redis close failed", slog.Any("err", err), slog.String("component", "heartbeat"))
		}
	}()

	if err := p.client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, heartbeats will retry", slog.Any("err", err), slog.String("component", "heartbeat"))
	} else {
		slog.Info("heartbeat started", slog.Duration("interval", p.interval), slog.String("component", "heartbeat"))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	body, err := json.Marshal(p.beat())
	if err != nil {
		slog.Error("heartbeat marshal failed", slog.Any("err", err), slog.String("component", "heartbeat"))
		return
	}
	if err := p.client.Set(ctx, Key, body, p.ttl()).Err(); err != nil {
		slog.Warn("heartbeat write failed", slog.Any("err", err), slog.String("component", "heartbeat"))
	}
}

func (p *Publisher) beat() Beat {
	s := p.stats()
	return Beat{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Status:          "alive",
		ChannelID:       p.channelID,
		UptimeSeconds:   s.UptimeSeconds,
		ActiveStreams:   s.ActiveStreams,
		EventsForwarded: s.EventsForwarded,
		APICalls:        s.APICalls,
		Quota:           quotaBeat{Used: s.Quota.Used, Remaining: s.Quota.Remaining},
	}
}

func (p *Publisher) ttl() time.Duration {
	return p.interval * expiryFactor
}
