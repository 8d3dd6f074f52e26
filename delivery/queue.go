// Package delivery is the reliable-delivery layer: derived events are wrapped
// in a signed envelope, queued in-process, and retried with exponential
// backoff until the downstream receiver accepts them or the retry budget is
// exhausted.
package delivery

import (
	"container/heap"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/clock"
)

// Retry policy: base backoff doubles per attempt (1s, 2s, 4s); after
// maxAttempts the item is dropped and surfaced as a permanent failure.
const (
	maxAttempts = 3
	baseBackoff = time.Second
)

// maxEventAge bounds how stale a queued event may get before it is dropped
// instead of retried; after a long receiver outage the payload no longer
// reflects reality.
const maxEventAge = time.Hour

// ErrEventExpired marks deliveries dropped for staleness rather than
// exhausted retries.
var ErrEventExpired = errors.New("event expired before delivery")

// Envelope is the outer JSON structure wrapping every event before delivery.
type Envelope struct {
	EventType string    `json:"event_type"`
	Event     any       `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Pending is one queued delivery. Body holds the exact serialized envelope
// bytes the signature was computed over.
type Pending struct {
	EventType     string    `json:"event_type"`
	Body          []byte    `json:"body"`
	Signature     string    `json:"signature,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	AttemptCount  int       `json:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`

	seq uint64 // enqueue order, FIFO tie-breaker
}

// Result is the terminal outcome of one drained item.
type Result struct {
	EventType string
	Attempts  int
	Permanent bool // dropped after exhausting the retry budget
	Err       error
}

// SendFunc delivers one envelope. signature is empty when no secret is
// configured. Any error (or non-2xx mapped to an error by the transport)
// counts as a failed attempt.
type SendFunc func(ctx context.Context, eventType string, body []byte, signature string) error

// Queue is the in-process retry queue, ordered by next_attempt_at with FIFO
// tie-breaking. The monitor loop drains it; the HTTP example-event surface
// enqueues into it, hence the mutex.
type Queue struct {
	mu     sync.Mutex
	clk    clock.Clock
	secret []byte
	items  pendingHeap
	seq    uint64

	forwarded int64
	permanent int64
}

// New returns a queue. secret may be empty, in which case envelopes are
// delivered unsigned.
func New(secret string, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.System{}
	}
	return &Queue{clk: clk, secret: []byte(secret)}
}

// Enqueue wraps payload in the signed envelope and schedules it for
// immediate delivery.
func (q *Queue) Enqueue(eventType string, payload any) error {
	env := Envelope{
		EventType: eventType,
		Event:     payload,
		Timestamp: q.clk.Now(),
		Source:    "youtube",
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	item := &Pending{
		EventType:     eventType,
		Body:          body,
		Signature:     q.sign(body),
		CreatedAt:     q.clk.Now(),
		NextAttemptAt: q.clk.Now(),
		seq:           q.seq,
	}
	heap.Push(&q.items, item)
	return nil
}

// sign computes the HMAC-SHA256 of the exact serialized bytes. Empty when no
// secret is configured.
func (q *Queue) sign(body []byte) string {
	if len(q.secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, q.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Drain attempts every item whose next_attempt_at has passed. Successful
// items are removed; failed ones are rescheduled with exponential backoff or,
// once the retry budget is spent, dropped and reported as permanent. The
// returned results cover every attempted item this pass.
func (q *Queue) Drain(ctx context.Context, send SendFunc) []Result {
	now := q.clk.Now()
	var results []Result
	for {
		q.mu.Lock()
		if q.items.Len() == 0 || q.items[0].NextAttemptAt.After(now) {
			q.mu.Unlock()
			return results
		}
		item := heap.Pop(&q.items).(*Pending)
		q.mu.Unlock()

		if now.Sub(item.CreatedAt) > maxEventAge {
			q.mu.Lock()
			q.permanent++
			q.mu.Unlock()
			slog.Warn("dropping stale event", slog.String("event_type", item.EventType), slog.Time("created_at", item.CreatedAt), slog.String("component", "delivery"))
			results = append(results, Result{EventType: item.EventType, Attempts: item.AttemptCount, Permanent: true, Err: ErrEventExpired})
			continue
		}

		err := send(ctx, item.EventType, item.Body, item.Signature)
		item.AttemptCount++
		if err == nil {
			q.mu.Lock()
			q.forwarded++
			q.mu.Unlock()
			results = append(results, Result{EventType: item.EventType, Attempts: item.AttemptCount})
			continue
		}
		if item.AttemptCount >= maxAttempts {
			q.mu.Lock()
			q.permanent++
			q.mu.Unlock()
			slog.Error("delivery permanently failed", slog.String("event_type", item.EventType), slog.Int("attempts", item.AttemptCount), slog.Any("err", err), slog.String("component", "delivery"))
			results = append(results, Result{EventType: item.EventType, Attempts: item.AttemptCount, Permanent: true, Err: err})
			continue
		}
		backoff := baseBackoff << item.AttemptCount
		item.NextAttemptAt = now.Add(backoff)
		slog.Warn("delivery failed, rescheduling", slog.String("event_type", item.EventType), slog.Int("attempt", item.AttemptCount), slog.Duration("backoff", backoff), slog.Any("err", err), slog.String("component", "delivery"))
		q.mu.Lock()
		heap.Push(&q.items, item)
		q.mu.Unlock()
		results = append(results, Result{EventType: item.EventType, Attempts: item.AttemptCount, Err: err})
	}
}

// Len reports the number of queued deliveries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Forwarded reports how many envelopes were accepted downstream.
func (q *Queue) Forwarded() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.forwarded
}

// PermanentFailures reports how many envelopes were dropped after exhausting
// retries.
func (q *Queue) PermanentFailures() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.permanent
}

// Snapshot captures queue counters for persistence. Pending bodies are not
// persisted: their events re-derive from upstream state on restart, and the
// envelope timestamp would lie after a long downtime.
type Snapshot struct {
	Forwarded int64 `json:"forwarded"`
	Permanent int64 `json:"permanent"`
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{Forwarded: q.forwarded, Permanent: q.permanent}
}

func (q *Queue) Restore(s Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.forwarded = s.Forwarded
	q.permanent = s.Permanent
}

// pendingHeap orders by NextAttemptAt, then enqueue sequence.
type pendingHeap []*Pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].NextAttemptAt.Equal(h[j].NextAttemptAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].NextAttemptAt.Before(h[j].NextAttemptAt)
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(*Pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
