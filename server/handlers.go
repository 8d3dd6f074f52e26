package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/streamwatch/events"
	"github.com/onnwee/streamwatch/monitor"
	"github.com/onnwee/streamwatch/telemetry"
	"github.com/onnwee/streamwatch/websub"
)

// maxNotificationBody bounds WebSub notification reads; feeds are tiny.
const maxNotificationBody = 1 << 20

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	Monitor *monitor.Loop
	Lease   *websub.Lease // nil when push is disabled
}

func NewHandlers(m *monitor.Loop, lease *websub.Lease) *Handlers {
	return &Handlers{Monitor: m, Lease: lease}
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStatus reports the monitor's working state as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := h.Monitor.Stats()
	var broadcasts []any
	for _, b := range h.Monitor.Registry().LiveBroadcasts() {
		broadcasts = append(broadcasts, b)
	}
	resp := map[string]any{
		"status":       "ok",
		"stats":        stats,
		"live_streams": broadcasts,
	}
	if h.Lease != nil {
		resp["websub"] = map[string]any{
			"state":      h.Lease.State().String(),
			"expires_at": h.Lease.ExpiresAt(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCallback is the WebSub endpoint: GET carries the hub's subscription
// verification, POST carries Atom feed notifications.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleVerification(w http.ResponseWriter, r *http.Request) {
	if h.Lease == nil {
		http.Error(w, "not subscribed", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	leaseSeconds, _ := strconv.Atoi(q.Get("hub.lease_seconds"))
	challenge, err := h.Lease.HandleVerification(q.Get("hub.mode"), q.Get("hub.topic"), q.Get("hub.challenge"), leaseSeconds)
	if err != nil {
		slog.Warn("websub verification rejected", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "verification failed", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleNotification always answers 200: the hub only needs to know the
// notification arrived, and a parse failure is our problem, not its.
func (h *Handlers) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	entries, err := websub.ParseFeed(body)
	if err != nil {
		h.Monitor.CountFeedParseFailure()
		telemetry.LoggerWithCorr(r.Context()).Warn("feed parse failed", slog.Any("err", err), slog.String("component", "http"))
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, e := range entries {
		telemetry.LoggerWithCorr(r.Context()).Info("push notification",
			slog.String("video_id", e.VideoID),
			slog.String("title", e.Title),
			slog.String("component", "http"))
		h.Monitor.Notify(e.VideoID)
	}
	w.WriteHeader(http.StatusOK)
}

// HandleEventCatalog lists the supported event types with example payloads.
func (h *Handlers) HandleEventCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	catalog := make([]map[string]any, 0, len(events.Supported))
	for _, t := range events.Supported {
		catalog = append(catalog, map[string]any{
			"event_type": t,
			"example":    events.Example(t),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": catalog})
}

// HandleExample queues an example event of the named type for real webhook
// delivery, for end-to-end consumer testing.
func (h *Handlers) HandleExample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	eventType := strings.TrimPrefix(r.URL.Path, "/example/")
	if !events.IsSupported(eventType) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":     "unknown event type",
			"supported": events.Supported,
		})
		return
	}
	if err := h.Monitor.EnqueueExample(eventType); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("example event queued", slog.String("event_type", eventType), slog.String("component", "http"))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "event_type": eventType})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
