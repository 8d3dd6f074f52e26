package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/streamwatch/clock"
)

func newTestQueue(secret string) (*Queue, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	return New(secret, clk), clk
}

type recordedSend struct {
	eventType string
	body      []byte
	signature string
}

func TestEnqueueDrainDeliversEnvelope(t *testing.T) {
	q, _ := newTestQueue("")
	if err := q.Enqueue("youtube.live.started", map[string]any{"video_id": "v1"}); err != nil {
		t.Fatal(err)
	}

	var sent []recordedSend
	results := q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		sent = append(sent, recordedSend{et, body, sig})
		return nil
	})
	if len(results) != 1 || results[0].Permanent || results[0].Err != nil {
		t.Fatalf("results = %+v", results)
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	var env Envelope
	if err := json.Unmarshal(sent[0].body, &env); err != nil {
		t.Fatalf("envelope not JSON: %v", err)
	}
	if env.EventType != "youtube.live.started" || env.Source != "youtube" {
		t.Fatalf("envelope = %+v", env)
	}
	if sent[0].signature != "" {
		t.Fatal("unsigned queue produced a signature")
	}
	if q.Forwarded() != 1 || q.Len() != 0 {
		t.Fatalf("forwarded=%d len=%d", q.Forwarded(), q.Len())
	}
}

func TestSignatureMatchesBodyBytes(t *testing.T) {
	q, _ := newTestQueue("s3cret")
	if err := q.Enqueue("youtube.chat.message", map[string]any{"message": "hi"}); err != nil {
		t.Fatal(err)
	}
	q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write(body)
		if want := hex.EncodeToString(mac.Sum(nil)); sig != want {
			t.Errorf("signature = %s, want %s", sig, want)
		}
		return nil
	})
}

func TestRetryThenSuccessDeliversExactlyOnce(t *testing.T) {
	q, clk := newTestQueue("")
	if err := q.Enqueue("youtube.live.ended", map[string]any{}); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	send := func(ctx context.Context, et string, body []byte, sig string) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	// Attempt 1 fails, backoff 2s.
	q.Drain(context.Background(), send)
	if q.Len() != 1 {
		t.Fatalf("queue len after first failure = %d, want 1", q.Len())
	}
	// Not yet due.
	clk.Advance(time.Second)
	if rs := q.Drain(context.Background(), send); len(rs) != 0 {
		t.Fatalf("drained before backoff elapsed: %+v", rs)
	}
	// Attempt 2 fails, backoff 4s; attempt 3 succeeds.
	clk.Advance(2 * time.Second)
	q.Drain(context.Background(), send)
	clk.Advance(5 * time.Second)
	rs := q.Drain(context.Background(), send)
	if len(rs) != 1 || rs[0].Err != nil || rs[0].Attempts != 3 {
		t.Fatalf("final results = %+v", rs)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if q.Forwarded() != 1 || q.Len() != 0 {
		t.Fatalf("forwarded=%d len=%d", q.Forwarded(), q.Len())
	}
	// Nothing left to redeliver.
	clk.Advance(time.Minute)
	if rs := q.Drain(context.Background(), send); len(rs) != 0 {
		t.Fatalf("redelivered after success: %+v", rs)
	}
}

func TestThreeFailuresDropsPermanently(t *testing.T) {
	q, clk := newTestQueue("")
	if err := q.Enqueue("youtube.chat.poll", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	failing := func(ctx context.Context, et string, body []byte, sig string) error {
		return errors.New("502 bad gateway")
	}
	var last []Result
	for i := 0; i < 3; i++ {
		last = q.Drain(context.Background(), failing)
		clk.Advance(10 * time.Second)
	}
	if len(last) != 1 || !last[0].Permanent {
		t.Fatalf("expected permanent failure, got %+v", last)
	}
	if q.PermanentFailures() != 1 || q.Len() != 0 || q.Forwarded() != 0 {
		t.Fatalf("permanent=%d len=%d forwarded=%d", q.PermanentFailures(), q.Len(), q.Forwarded())
	}
	clk.Advance(time.Hour)
	if rs := q.Drain(context.Background(), failing); len(rs) != 0 {
		t.Fatalf("dropped item resurrected: %+v", rs)
	}
}

func TestStaleEventDroppedWithoutSend(t *testing.T) {
	q, clk := newTestQueue("")
	if err := q.Enqueue("youtube.live.update", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	// One failed attempt, then the receiver stays down past the age limit.
	q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		return errors.New("down")
	})
	clk.Advance(2 * time.Hour)

	sent := 0
	rs := q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		sent++
		return nil
	})
	if sent != 0 {
		t.Fatalf("stale event was sent %d times", sent)
	}
	if len(rs) != 1 || !rs[0].Permanent || !errors.Is(rs[0].Err, ErrEventExpired) {
		t.Fatalf("results = %+v", rs)
	}
	if q.PermanentFailures() != 1 || q.Len() != 0 {
		t.Fatalf("permanent=%d len=%d", q.PermanentFailures(), q.Len())
	}
}

func TestFIFOOrderForFreshItems(t *testing.T) {
	q, _ := newTestQueue("")
	for _, et := range []string{"a", "b", "c"} {
		if err := q.Enqueue(et, nil); err != nil {
			t.Fatal(err)
		}
	}
	var order []string
	q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		order = append(order, et)
		return nil
	})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
}

func TestRetriedItemReordersBehindNewer(t *testing.T) {
	q, clk := newTestQueue("")
	if err := q.Enqueue("first", nil); err != nil {
		t.Fatal(err)
	}
	// first fails and gets a 2s backoff.
	q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		return errors.New("down")
	})
	if err := q.Enqueue("second", nil); err != nil {
		t.Fatal(err)
	}
	clk.Advance(3 * time.Second)
	var order []string
	q.Drain(context.Background(), func(ctx context.Context, et string, body []byte, sig string) error {
		order = append(order, et)
		return nil
	})
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("order = %v, want [second first]", order)
	}
}
