package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/streamwatch/monitor"
	"github.com/onnwee/streamwatch/quota"
)

type fakeRedis struct {
	sets []struct {
		key string
		val []byte
		ttl time.Duration
	}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.sets = append(f.sets, struct {
		key string
		val []byte
		ttl time.Duration
	}{key, value.([]byte), expiration})
	return redis.NewStatusCmd(ctx)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusCmd(ctx)
}

func (f *fakeRedis) Close() error { return nil }

func testStats() monitor.Stats {
	return monitor.Stats{
		UptimeSeconds:   120,
		ActiveStreams:   2,
		EventsForwarded: 17,
		APICalls:        40,
		Quota:           quota.Info{Used: 321, Remaining: 9679},
	}
}

func TestPublishWritesBeatWithExpiry(t *testing.T) {
	fake := &fakeRedis{}
	p := &Publisher{
		client:    fake,
		channelID: "UCtest",
		interval:  30 * time.Second,
		stats:     testStats,
	}

	p.publish(context.Background())

	if len(fake.sets) != 1 {
		t.Fatalf("sets = %d, want 1", len(fake.sets))
	}
	set := fake.sets[0]
	if set.key != Key {
		t.Errorf("key = %q, want %q", set.key, Key)
	}
	if set.ttl != 90*time.Second {
		t.Errorf("ttl = %v, want 90s", set.ttl)
	}

	var beat Beat
	if err := json.Unmarshal(set.val, &beat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if beat.Status != "alive" {
		t.Errorf("status = %q", beat.Status)
	}
	if beat.ChannelID != "UCtest" {
		t.Errorf("channel = %q", beat.ChannelID)
	}
	if beat.ActiveStreams != 2 || beat.EventsForwarded != 17 || beat.APICalls != 40 {
		t.Errorf("beat = %+v", beat)
	}
	if beat.Quota.Used != 321 || beat.Quota.Remaining != 9679 {
		t.Errorf("quota = %+v", beat.Quota)
	}
	if _, err := time.Parse(time.RFC3339, beat.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", beat.Timestamp, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fake := &fakeRedis{}
	p := &Publisher{
		client:   fake,
		interval: 10 * time.Millisecond,
		stats:    testStats,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	// Initial beat plus at least one ticker beat.
	if len(fake.sets) < 2 {
		t.Errorf("sets = %d, want >= 2", len(fake.sets))
	}
}
