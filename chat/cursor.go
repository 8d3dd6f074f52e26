// Package chat turns paginated live-chat API responses into discrete typed
// events. One Cursor exists per live broadcast; it owns the pagination token
// and a bounded set of recently seen message ids so page-boundary overlap and
// restart replay never produce duplicate events.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/streamwatch/events"
)

// dedupCap bounds the recent-id set; oldest ids are evicted first.
const dedupCap = 2048

// Item is one raw chat item, already mapped from the API response by the
// youtubeapi package. Kind carries the API's declared message type verbatim.
type Item struct {
	ID          string
	Kind        string
	PublishedAt time.Time

	AuthorName      string
	AuthorChannelID string
	IsModerator     bool
	IsSponsor       bool

	Message string

	// Paid messages and stickers.
	AmountMicros  uint64
	Currency      string
	AmountDisplay string
	Tier          int64
	StickerID     string
	StickerAlt    string

	// Memberships.
	MemberLevelName string
	IsUpgrade       bool

	// Moderation.
	DeletedMessageID    string
	BannedUserName      string
	BannedUserChannelID string
	BanType             string
	BanDurationSeconds  int64

	// Polls.
	PollQuestion string
	PollOptions  []PollOption
}

// PollOption is one choice of a chat poll.
type PollOption struct {
	Text  string `json:"text"`
	Tally int64  `json:"tally"`
}

// Page is one page of chat items plus the hub-dictated polling hint.
type Page struct {
	Items         []Item
	NextPageToken string
	NextDelay     time.Duration
}

// FetchFunc retrieves the page at the given token ("" for the first page).
type FetchFunc func(ctx context.Context, pageToken string) (Page, error)

// Message kinds as declared by the upstream API.
const (
	KindText           = "textMessageEvent"
	KindSuperChat      = "superChatEvent"
	KindSuperSticker   = "superStickerEvent"
	KindNewSponsor     = "newSponsorEvent"
	KindUserBanned     = "userBannedEvent"
	KindMessageDeleted = "messageDeletedEvent"
	KindPoll           = "pollEvent"
)

// Cursor reads one broadcast's chat in order. Not safe for concurrent use;
// the monitor loop is the sole caller.
type Cursor struct {
	videoID      string
	pageToken    string
	seen         map[string]struct{}
	seenOrder    []string
	unclassified int64
}

func NewCursor(videoID string) *Cursor {
	return &Cursor{videoID: videoID, seen: map[string]struct{}{}}
}

// Poll fetches the next page and returns the deduplicated typed events plus
// the API's adaptive delay hint for this broadcast's next chat check. A fetch
// error leaves the stored token untouched so the same page is retried next
// cycle.
func (c *Cursor) Poll(ctx context.Context, fetch FetchFunc) ([]events.Event, time.Duration, error) {
	page, err := fetch(ctx, c.pageToken)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch chat page: %w", err)
	}
	// Token advances unconditionally, empty pages included, so polling makes
	// forward progress.
	c.pageToken = page.NextPageToken

	var out []events.Event
	for _, item := range page.Items {
		if item.ID == "" {
			continue
		}
		if _, dup := c.seen[item.ID]; dup {
			continue
		}
		c.remember(item.ID)
		ev, ok := c.classify(item)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, page.NextDelay, nil
}

func (c *Cursor) remember(id string) {
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > dedupCap {
		evict := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, evict)
	}
}

func (c *Cursor) classify(item Item) (events.Event, bool) {
	base := map[string]any{
		"video_id":  c.videoID,
		"timestamp": item.PublishedAt.Format(time.RFC3339),
	}
	author := func() {
		base["author_name"] = item.AuthorName
		base["author_channel_id"] = item.AuthorChannelID
	}
	switch item.Kind {
	case KindText:
		author()
		base["message"] = item.Message
		base["is_moderator"] = item.IsModerator
		base["is_sponsor"] = item.IsSponsor
		return events.Event{Type: events.TypeChatMessage, Payload: base}, true
	case KindSuperChat:
		author()
		base["message"] = item.Message
		base["amount"] = item.AmountMicros
		base["currency"] = item.Currency
		base["amount_display"] = item.AmountDisplay
		base["tier"] = item.Tier
		return events.Event{Type: events.TypeChatSuperchat, Payload: base}, true
	case KindSuperSticker:
		author()
		base["sticker_id"] = item.StickerID
		base["sticker_alt_text"] = item.StickerAlt
		base["amount"] = item.AmountMicros
		base["currency"] = item.Currency
		base["amount_display"] = item.AmountDisplay
		base["tier"] = item.Tier
		return events.Event{Type: events.TypeChatSupersticker, Payload: base}, true
	case KindNewSponsor:
		author()
		base["member_level_name"] = item.MemberLevelName
		base["is_upgrade"] = item.IsUpgrade
		return events.Event{Type: events.TypeChatNewSponsor, Payload: base}, true
	case KindUserBanned:
		base["banned_user_name"] = item.BannedUserName
		base["banned_user_channel_id"] = item.BannedUserChannelID
		base["ban_type"] = item.BanType
		if item.BanDurationSeconds > 0 {
			base["ban_duration_seconds"] = item.BanDurationSeconds
		}
		return events.Event{Type: events.TypeChatUserBanned, Payload: base}, true
	case KindMessageDeleted:
		base["deleted_message_id"] = item.DeletedMessageID
		return events.Event{Type: events.TypeChatMessageDeleted, Payload: base}, true
	case KindPoll:
		author()
		base["question"] = item.PollQuestion
		base["options"] = item.PollOptions
		return events.Event{Type: events.TypeChatPoll, Payload: base}, true
	default:
		// Unknown kinds are counted and dropped, never a crash.
		c.unclassified++
		slog.Debug("unclassified chat item", slog.String("kind", item.Kind), slog.String("video_id", c.videoID), slog.String("component", "chat"))
		return events.Event{}, false
	}
}

// Unclassified reports how many items fell into the catch-all bucket.
func (c *Cursor) Unclassified() int64 { return c.unclassified }

// State captures the cursor for persistence: only the pagination token and
// the rolling dedup set survive; individual messages are never persisted.
type State struct {
	VideoID   string   `json:"video_id"`
	PageToken string   `json:"page_token"`
	SeenIDs   []string `json:"seen_ids"`
}

func (c *Cursor) Snapshot() State {
	return State{
		VideoID:   c.videoID,
		PageToken: c.pageToken,
		SeenIDs:   append([]string(nil), c.seenOrder...),
	}
}

// Restore rebuilds a cursor from persisted state.
func Restore(s State) *Cursor {
	c := NewCursor(s.VideoID)
	for _, id := range s.SeenIDs {
		c.remember(id)
	}
	c.pageToken = s.PageToken
	return c
}
