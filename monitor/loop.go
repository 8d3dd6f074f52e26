// Package monitor runs the single-goroutine cycle that ties discovery,
// lifecycle tracking, chat polling, lease renewal, delivery, and persistence
// together. One tick does a bounded amount of work; all shared state is owned
// by the loop, so the packages underneath need no locking beyond their own.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/chat"
	"github.com/onnwee/streamwatch/clock"
	"github.com/onnwee/streamwatch/config"
	"github.com/onnwee/streamwatch/delivery"
	"github.com/onnwee/streamwatch/events"
	"github.com/onnwee/streamwatch/quota"
	"github.com/onnwee/streamwatch/registry"
	"github.com/onnwee/streamwatch/state"
	"github.com/onnwee/streamwatch/telemetry"
	"github.com/onnwee/streamwatch/websub"
	"github.com/onnwee/streamwatch/youtubeapi"
)

// API is the slice of the YouTube client the loop needs; tests substitute a
// fake.
type API interface {
	SearchLive(ctx context.Context, channelID string) ([]string, error)
	VideoDetails(ctx context.Context, ids []string) ([]registry.VideoMeta, error)
	ChatFetcher(liveChatID string) chat.FetchFunc
}

// minChatDelay floors the API's polling hint so a zero or missing hint
// cannot spin the chat fetch.
const minChatDelay = 2 * time.Second

// inboxCap bounds buffered push hints; the hub redelivers, so drops are safe.
const inboxCap = 64

// apiCallTimeout bounds every outbound API call so a hung request cannot
// stall the tick past the poll interval.
const apiCallTimeout = 15 * time.Second

// Loop owns one monitored channel.
type Loop struct {
	cfg    *config.Config
	clk    clock.Clock
	api    API
	reg    *registry.Registry
	ledger *quota.Ledger
	queue  *delivery.Queue
	lease  *websub.Lease // nil when push is disabled
	store  *state.Store  // nil disables persistence
	send   delivery.SendFunc

	inbox chan string

	cursors map[string]*chat.Cursor
	chatDue map[string]time.Time

	lastSearch time.Time
	dirty      bool

	mu         sync.Mutex
	apiCalls   int64
	parseFails int64
	startedAt  time.Time
	lastTick   time.Time
}

type Options struct {
	Config *config.Config
	Clock  clock.Clock
	API    API
	Ledger *quota.Ledger
	Queue  *delivery.Queue
	Lease  *websub.Lease
	Store  *state.Store
	Send   delivery.SendFunc
}

func New(opts Options) *Loop {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Loop{
		cfg:     opts.Config,
		clk:     clk,
		api:     opts.API,
		reg:     registry.New(clk),
		ledger:  opts.Ledger,
		queue:   opts.Queue,
		lease:   opts.Lease,
		store:   opts.Store,
		send:    opts.Send,
		inbox:   make(chan string, inboxCap),
		cursors: map[string]*chat.Cursor{},
		chatDue: map[string]time.Time{},
	}
}

// Registry exposes tracked broadcasts to the status and heartbeat surfaces.
func (l *Loop) Registry() *registry.Registry { return l.reg }

// Notify hands the loop a video id hinted by a push notification. Never
// blocks; a full inbox drops the hint and polling picks the video up anyway.
func (l *Loop) Notify(videoID string) {
	select {
	case l.inbox <- videoID:
		if telemetry.PushNotifications != nil {
			telemetry.PushNotifications.Inc()
		}
	default:
		slog.Warn("push inbox full, dropping hint", slog.String("video_id", videoID), slog.String("component", "monitor"))
	}
}

// EnqueueExample queues a canned payload of the given type for real webhook
// delivery; the next tick drains it. Used by the HTTP test-fire endpoint.
func (l *Loop) EnqueueExample(eventType string) error {
	return l.queue.Enqueue(eventType, events.Example(eventType))
}

// RestoreSnapshot reinstates persisted state before the first tick.
func (l *Loop) RestoreSnapshot(snap *state.Snapshot) {
	if snap == nil {
		return
	}
	l.reg.Restore(snap.Registry)
	l.ledger.Restore(snap.Quota)
	l.queue.Restore(snap.Delivery)
	for id, cs := range snap.ChatCursors {
		l.cursors[id] = chat.Restore(cs)
	}
	l.mu.Lock()
	l.apiCalls = snap.APICalls
	l.mu.Unlock()
	slog.Info("snapshot restored",
		slog.Int("broadcasts", len(snap.Registry.Broadcasts)),
		slog.Int("chat_cursors", len(snap.ChatCursors)),
		slog.Time("saved_at", snap.SavedAt),
		slog.String("component", "monitor"))
}

// Run ticks until ctx is cancelled, then persists a final snapshot.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.startedAt = l.clk.Now()
	l.mu.Unlock()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("monitor started",
		slog.String("channel_id", l.cfg.ChannelID),
		slog.Duration("poll_interval", l.cfg.PollInterval),
		slog.Bool("push", l.cfg.PushEnabled()),
		slog.String("component", "monitor"))

	for {
		select {
		case <-ctx.Done():
			l.persist()
			slog.Info("monitor stopped", slog.String("component", "monitor"))
			return ctx.Err()
		case id := <-l.inbox:
			// A push hint triggers a targeted cycle immediately instead of
			// waiting out the poll interval.
			l.TickWithHints(ctx, l.drainInbox(id))
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one full cycle.
func (l *Loop) Tick(ctx context.Context) {
	l.TickWithHints(ctx, l.drainInbox(""))
}

// TickWithHints runs one cycle with the given hinted video ids.
func (l *Loop) TickWithHints(ctx context.Context, hints []string) {
	if telemetry.PollCycles != nil {
		telemetry.PollCycles.Inc()
	}
	start := time.Now()
	now := l.clk.Now()

	l.refresh(ctx, now, hints)
	l.pollChats(ctx, now)
	l.renewLease(ctx, now)
	l.drainDeliveries(ctx)
	l.evict(now)
	if l.dirty {
		l.persist()
		l.dirty = false
	}

	l.mu.Lock()
	l.lastTick = now
	l.mu.Unlock()

	l.publishGauges()
	if telemetry.PollDuration != nil {
		telemetry.PollDuration.Observe(time.Since(start).Seconds())
	}
}

func (l *Loop) drainInbox(first string) []string {
	seen := map[string]struct{}{}
	var hints []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		hints = append(hints, id)
	}
	add(first)
	for {
		select {
		case id := <-l.inbox:
			add(id)
		default:
			return hints
		}
	}
}

// refresh assembles the poll set (tracked actives, push hints, and the
// periodic search) and applies fresh metadata to the registry.
func (l *Loop) refresh(ctx context.Context, now time.Time, hints []string) {
	ids := l.reg.ActiveVideoIDs()
	idSet := map[string]struct{}{}
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for _, id := range hints {
		if _, dup := idSet[id]; !dup {
			idSet[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if l.searchDue(now, len(ids) > 0) {
		if l.ledger.Reserve(quota.CostSearch) {
			l.lastSearch = now
			callCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
			found, err := l.api.SearchLive(callCtx, l.cfg.ChannelID)
			cancel()
			l.countAPICall()
			if err != nil {
				slog.Error("live search failed", slog.Any("err", err), slog.String("component", "monitor"))
			} else {
				for _, id := range found {
					if _, dup := idSet[id]; !dup {
						idSet[id] = struct{}{}
						ids = append(ids, id)
					}
				}
			}
		} else {
			l.countQuotaDenied()
		}
	}

	if len(ids) == 0 {
		return
	}
	if !l.ledger.Reserve(quota.CostVideos) {
		l.countQuotaDenied()
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	metas, err := l.api.VideoDetails(callCtx, ids)
	cancel()
	l.countAPICall()
	if err != nil {
		slog.Error("video details failed", slog.Any("err", err), slog.String("component", "monitor"))
		return
	}
	l.emit(l.reg.Refresh(metas))
}

// searchDue gates the expensive search call: it runs at most once per
// SearchInterval, and an idle channel with idle polling disabled relies on
// push alone.
func (l *Loop) searchDue(now time.Time, haveWork bool) bool {
	if !l.lastSearch.IsZero() && now.Sub(l.lastSearch) < l.cfg.SearchInterval {
		return false
	}
	if l.cfg.DisableIdlePolling && !haveWork {
		return false
	}
	return true
}

func (l *Loop) pollChats(ctx context.Context, now time.Time) {
	live := map[string]string{} // video id -> live chat id
	for _, b := range l.reg.LiveBroadcasts() {
		if b.LiveChatID != "" {
			live[b.VideoID] = b.LiveChatID
		}
	}

	// Drop cursors whose broadcast is no longer live.
	for id := range l.cursors {
		if _, ok := live[id]; !ok {
			delete(l.cursors, id)
			delete(l.chatDue, id)
			l.dirty = true
		}
	}

	for videoID, chatID := range live {
		cur, ok := l.cursors[videoID]
		if !ok {
			cur = chat.NewCursor(videoID)
			l.cursors[videoID] = cur
		}
		if due, ok := l.chatDue[videoID]; ok && now.Before(due) {
			continue
		}
		if !l.ledger.Reserve(quota.CostChatMessages) {
			l.countQuotaDenied()
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, apiCallTimeout)
		evs, delay, err := cur.Poll(callCtx, l.api.ChatFetcher(chatID))
		cancel()
		l.countAPICall()
		if err != nil {
			if youtubeapi.IsChatGone(err) {
				slog.Info("live chat gone", slog.String("video_id", videoID), slog.String("component", "monitor"))
				delete(l.cursors, videoID)
				delete(l.chatDue, videoID)
				l.dirty = true
				continue
			}
			slog.Error("chat poll failed", slog.String("video_id", videoID), slog.Any("err", err), slog.String("component", "monitor"))
			continue
		}
		if telemetry.ChatMessagesFetched != nil {
			telemetry.ChatMessagesFetched.Add(float64(len(evs)))
		}
		if delay < minChatDelay {
			delay = minChatDelay
		}
		l.chatDue[videoID] = now.Add(delay)
		l.emit(evs)
	}
}

func (l *Loop) renewLease(ctx context.Context, now time.Time) {
	if l.lease == nil {
		return
	}
	if l.lease.NeedsRenewal(now) {
		if err := l.lease.Subscribe(ctx); err != nil {
			slog.Error("lease renewal failed", slog.Any("err", err), slog.String("component", "monitor"))
		}
	}
	telemetry.SetLeaseExpiry(l.lease.ExpiresAt())
}

func (l *Loop) drainDeliveries(ctx context.Context) {
	results := l.queue.Drain(ctx, l.send)
	for _, res := range results {
		switch {
		case res.Err == nil:
			if telemetry.EventsForwarded != nil {
				telemetry.EventsForwarded.Inc()
			}
		case res.Permanent:
			if telemetry.EventsFailed != nil {
				telemetry.EventsFailed.Inc()
			}
			slog.Error("webhook delivery abandoned",
				slog.String("event_type", res.EventType),
				slog.Int("attempts", res.Attempts),
				slog.Any("err", res.Err),
				slog.String("component", "monitor"))
		default:
			if telemetry.DeliveryRetries != nil {
				telemetry.DeliveryRetries.Inc()
			}
		}
	}
	if len(results) > 0 {
		l.dirty = true
	}
}

func (l *Loop) emit(evs []events.Event) {
	for _, ev := range evs {
		if err := l.queue.Enqueue(ev.Type, ev.Payload); err != nil {
			slog.Error("enqueue failed", slog.String("event_type", ev.Type), slog.Any("err", err), slog.String("component", "monitor"))
			continue
		}
		l.dirty = true
	}
}

func (l *Loop) evict(now time.Time) {
	if evicted := l.reg.EvictEnded(now); len(evicted) > 0 {
		l.dirty = true
	}
}

func (l *Loop) persist() {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	apiCalls := l.apiCalls
	l.mu.Unlock()
	snap := &state.Snapshot{
		SavedAt:  l.clk.Now(),
		Registry: l.reg.Snapshot(),
		Quota:    l.ledger.Snapshot(),
		Delivery: l.queue.Snapshot(),
		APICalls: apiCalls,
	}
	if len(l.cursors) > 0 {
		snap.ChatCursors = make(map[string]chat.State, len(l.cursors))
		for id, cur := range l.cursors {
			snap.ChatCursors[id] = cur.Snapshot()
		}
	}
	if err := l.store.Save(snap); err != nil {
		slog.Error("snapshot save failed", slog.Any("err", err), slog.String("component", "monitor"))
	}
}

func (l *Loop) countAPICall() {
	l.mu.Lock()
	l.apiCalls++
	l.mu.Unlock()
	if telemetry.APICalls != nil {
		telemetry.APICalls.Inc()
	}
}

// CountFeedParseFailure records a push notification whose body could not be
// parsed. Called by the callback handler.
func (l *Loop) CountFeedParseFailure() {
	l.mu.Lock()
	l.parseFails++
	l.mu.Unlock()
	if telemetry.FeedParseFailures != nil {
		telemetry.FeedParseFailures.Inc()
	}
}

func (l *Loop) countQuotaDenied() {
	if telemetry.QuotaDenied != nil {
		telemetry.QuotaDenied.Inc()
	}
}

func (l *Loop) publishGauges() {
	telemetry.SetActiveStreams(l.reg.ActiveCount())
	telemetry.SetQueueDepth(l.queue.Len())
	telemetry.SetQuotaUsed(l.ledger.Info().Used)
}

// Stats is the monitor's status surface, shared by /status and the heartbeat.
type Stats struct {
	StartedAt         time.Time  `json:"started_at"`
	LastTick          time.Time  `json:"last_tick,omitzero"`
	UptimeSeconds     int64      `json:"uptime_seconds"`
	ActiveStreams     int        `json:"active_streams"`
	EventsForwarded   int64      `json:"events_forwarded"`
	EventsFailed      int64      `json:"events_failed"`
	QueueDepth        int        `json:"queue_depth"`
	APICalls          int64      `json:"api_calls"`
	FeedParseFailures int64      `json:"feed_parse_failures"`
	Quota             quota.Info `json:"quota"`
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	startedAt, lastTick := l.startedAt, l.lastTick
	apiCalls, parseFails := l.apiCalls, l.parseFails
	l.mu.Unlock()
	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(l.clk.Now().Sub(startedAt).Seconds())
	}
	return Stats{
		StartedAt:         startedAt,
		LastTick:          lastTick,
		UptimeSeconds:     uptime,
		ActiveStreams:     l.reg.ActiveCount(),
		EventsForwarded:   l.queue.Forwarded(),
		EventsFailed:      l.queue.PermanentFailures(),
		QueueDepth:        l.queue.Len(),
		APICalls:          apiCalls,
		FeedParseFailures: parseFails,
		Quota:             l.ledger.Info(),
	}
}
