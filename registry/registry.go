// Package registry owns per-video broadcast lifecycle state. It applies
// metadata refreshes from the API, detects starts, viewer-count jumps, and
// ends, and derives the outbound events for each change.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamwatch/clock"
	"github.com/onnwee/streamwatch/events"
)

// Lifecycle states. Transitions are monotonic: Discovered -> Live -> Ended.
// Ended is terminal.
type LifecycleState string

const (
	StateDiscovered LifecycleState = "discovered"
	StateLive       LifecycleState = "live"
	StateEnded      LifecycleState = "ended"
)

// Viewer-delta thresholds: a single-step change must exceed
// max(10% of the stored count, 100 viewers) to emit an event.
const (
	viewerThresholdPercent  = 0.10
	viewerThresholdAbsolute = 100
)

// endedRetention is how long an Ended broadcast stays in memory before
// eviction to the terminal log.
const endedRetention = 10 * time.Minute

// terminalLogCap bounds the remembered ended video ids.
const terminalLogCap = 100

// VideoMeta is freshly fetched metadata for one video, already mapped from
// the raw API response.
type VideoMeta struct {
	VideoID        string
	Title          string
	Description    string
	ChannelID      string
	ChannelTitle   string
	HasLiveDetails bool
	ScheduledStart time.Time
	ActualStart    time.Time
	ActualEnd      time.Time
	Viewers        int64
	LiveChatID     string
	Raw            any // original payload, carried on generic update events
}

// Broadcast is one tracked live video.
type Broadcast struct {
	VideoID        string         `json:"video_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ChannelID      string         `json:"channel_id"`
	ChannelTitle   string         `json:"channel_title"`
	ScheduledStart time.Time      `json:"scheduled_start,omitzero"`
	ActualStart    time.Time      `json:"actual_start,omitzero"`
	ActualEnd      time.Time      `json:"actual_end,omitzero"`
	Viewers        int64          `json:"last_known_viewer_count"`
	State          LifecycleState `json:"lifecycle_state"`
	LiveChatID     string         `json:"live_chat_id,omitempty"`
	EndedAt        time.Time      `json:"ended_at,omitzero"` // wall time we observed the end, drives eviction
}

// Registry holds all tracked broadcasts. The monitor loop is the only
// writer; the mutex lets the status and heartbeat surfaces read safely.
type Registry struct {
	mu          sync.Mutex
	clk         clock.Clock
	broadcasts  map[string]*Broadcast
	terminalLog []string // recently ended ids, oldest first
}

func New(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System{}
	}
	return &Registry{clk: clk, broadcasts: map[string]*Broadcast{}}
}

// Refresh applies freshly fetched metadata and returns the derived events in
// input order. Re-observing unchanged terminal state emits nothing.
func (r *Registry) Refresh(metas []VideoMeta) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, m := range metas {
		out = append(out, r.apply(m)...)
	}
	return out
}

func (r *Registry) apply(m VideoMeta) []events.Event {
	b, tracked := r.broadcasts[m.VideoID]
	if !tracked {
		if !m.HasLiveDetails || !m.ActualEnd.IsZero() || r.inTerminalLog(m.VideoID) {
			// Never tracked and already over (or not a live video): nothing
			// to monitor and nothing to re-emit.
			return nil
		}
		b = &Broadcast{
			VideoID:        m.VideoID,
			Title:          m.Title,
			Description:    m.Description,
			ChannelID:      m.ChannelID,
			ChannelTitle:   m.ChannelTitle,
			ScheduledStart: m.ScheduledStart,
			Viewers:        m.Viewers,
			LiveChatID:     m.LiveChatID,
			State:          StateDiscovered,
		}
		r.broadcasts[m.VideoID] = b
		if m.ActualStart.IsZero() {
			// Upcoming broadcast: track it and poll until it goes live.
			slog.Info("upcoming broadcast discovered", slog.String("video_id", m.VideoID), slog.String("component", "registry"))
			return nil
		}
		b.State = StateLive
		b.ActualStart = m.ActualStart
		slog.Info("new live stream detected", slog.String("video_id", m.VideoID), slog.String("component", "registry"))
		return []events.Event{{Type: events.TypeLiveStarted, Payload: startedPayload(b)}}
	}

	if b.State == StateEnded {
		return nil
	}

	var out []events.Event
	metaChanged := b.Title != m.Title || b.Description != m.Description

	// Field refresh happens regardless of which transition fires below.
	b.Title = m.Title
	b.Description = m.Description
	if m.ChannelID != "" {
		b.ChannelID = m.ChannelID
	}
	if m.ChannelTitle != "" {
		b.ChannelTitle = m.ChannelTitle
	}
	if m.LiveChatID != "" {
		b.LiveChatID = m.LiveChatID
	}
	if !m.ScheduledStart.IsZero() {
		b.ScheduledStart = m.ScheduledStart
	}

	if b.State == StateDiscovered && !m.ActualStart.IsZero() {
		b.State = StateLive
		b.ActualStart = m.ActualStart
		b.Viewers = m.Viewers
		slog.Info("broadcast went live", slog.String("video_id", b.VideoID), slog.String("component", "registry"))
		out = append(out, events.Event{Type: events.TypeLiveStarted, Payload: startedPayload(b)})
	} else if b.State == StateLive {
		if ev, ok := r.viewerDelta(b, m.Viewers); ok {
			out = append(out, ev)
		}
		b.Viewers = m.Viewers
	}

	if !m.ActualEnd.IsZero() {
		b.State = StateEnded
		b.ActualEnd = m.ActualEnd
		b.EndedAt = r.clk.Now()
		r.recordTerminal(b.VideoID)
		slog.Info("live stream ended", slog.String("video_id", b.VideoID), slog.String("component", "registry"))
		out = append(out, events.Event{Type: events.TypeLiveEnded, Payload: map[string]any{
			"video_id":   b.VideoID,
			"title":      b.Title,
			"channel_id": b.ChannelID,
			"ended_at":   m.ActualEnd.Format(time.RFC3339),
		}})
		return out
	}

	if metaChanged && len(out) == 0 {
		out = append(out, events.Event{Type: events.TypeLiveUpdate, Payload: map[string]any{
			"video_id":      b.VideoID,
			"title":         b.Title,
			"channel_id":    b.ChannelID,
			"channel_title": b.ChannelTitle,
			"published_at":  r.clk.Now().Format(time.RFC3339),
			"api_data":      m.Raw,
		}})
	}
	return out
}

// viewerDelta compares against the stored previous value, never the last
// emitted one, so sub-threshold drift across many polls cannot ratchet into
// an event. Both sides must be positive: the API stops reporting viewers on
// the final refresh of an ending stream, and a 1000->0 drop is not news.
func (r *Registry) viewerDelta(b *Broadcast, next int64) (events.Event, bool) {
	prev := b.Viewers
	if prev <= 0 || next <= 0 || next == prev {
		return events.Event{}, false
	}
	diff := next - prev
	if diff < 0 {
		diff = -diff
	}
	threshold := int64(float64(prev) * viewerThresholdPercent)
	if threshold < viewerThresholdAbsolute {
		threshold = viewerThresholdAbsolute
	}
	if diff <= threshold {
		return events.Event{}, false
	}
	return events.Event{Type: events.TypeLiveViewersUpdated, Payload: map[string]any{
		"video_id":           b.VideoID,
		"concurrent_viewers": next,
		"previous_viewers":   prev,
		"title":              b.Title,
		"channel_id":         b.ChannelID,
	}}, true
}

func startedPayload(b *Broadcast) map[string]any {
	p := map[string]any{
		"video_id":           b.VideoID,
		"title":              b.Title,
		"description":        b.Description,
		"channel_id":         b.ChannelID,
		"channel_title":      b.ChannelTitle,
		"concurrent_viewers": b.Viewers,
	}
	if !b.ActualStart.IsZero() {
		p["started_at"] = b.ActualStart.Format(time.RFC3339)
	}
	if !b.ScheduledStart.IsZero() {
		p["scheduled_start"] = b.ScheduledStart.Format(time.RFC3339)
	}
	return p
}

// ActiveVideoIDs returns ids in Discovered or Live state, i.e. the candidates
// for the next poll cycle. Ended streams are never re-polled.
func (r *Registry) ActiveVideoIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, b := range r.broadcasts {
		if b.State == StateDiscovered || b.State == StateLive {
			ids = append(ids, id)
		}
	}
	return ids
}

// LiveBroadcasts returns a copy of the broadcasts currently in Live state.
func (r *Registry) LiveBroadcasts() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Broadcast
	for _, b := range r.broadcasts {
		if b.State == StateLive {
			out = append(out, *b)
		}
	}
	return out
}

// ActiveCount reports how many broadcasts are Discovered or Live.
func (r *Registry) ActiveCount() int {
	return len(r.ActiveVideoIDs())
}

// Get returns a copy of the broadcast for id.
func (r *Registry) Get(id string) (Broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.broadcasts[id]
	if !ok {
		return Broadcast{}, false
	}
	return *b, true
}

// EvictEnded drops Ended broadcasts older than the retention window from
// memory. Their ids stay in the bounded terminal log so a late push hint or
// restart cannot resurrect them. Returns the evicted ids.
func (r *Registry) EvictEnded(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, b := range r.broadcasts {
		if b.State == StateEnded && now.Sub(b.EndedAt) > endedRetention {
			delete(r.broadcasts, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (r *Registry) recordTerminal(id string) {
	r.terminalLog = append(r.terminalLog, id)
	if len(r.terminalLog) > terminalLogCap {
		r.terminalLog = r.terminalLog[len(r.terminalLog)-terminalLogCap:]
	}
}

func (r *Registry) inTerminalLog(id string) bool {
	for _, t := range r.terminalLog {
		if t == id {
			return true
		}
	}
	return false
}

// Snapshot captures registry state for persistence.
type Snapshot struct {
	Broadcasts  []Broadcast `json:"broadcasts"`
	TerminalLog []string    `json:"terminal_log"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{TerminalLog: append([]string(nil), r.terminalLog...)}
	for _, b := range r.broadcasts {
		s.Broadcasts = append(s.Broadcasts, *b)
	}
	return s
}

func (r *Registry) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = make(map[string]*Broadcast, len(s.Broadcasts))
	for _, b := range s.Broadcasts {
		cp := b
		r.broadcasts[b.VideoID] = &cp
	}
	r.terminalLog = append([]string(nil), s.TerminalLog...)
}
