// Package youtubeapi wraps the YouTube Data API for broadcast discovery,
// video metadata refresh, and live chat paging. Authentication is a plain API
// key; the caller supplies it as a client option so tests can point the
// client at a local server instead.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/streamwatch/chat"
	"github.com/onnwee/streamwatch/registry"
)

// searchMaxResults bounds one discovery search; a channel rarely runs more
// than a handful of simultaneous live broadcasts.
const searchMaxResults = 10

// chatMaxResults is the page size for live chat fetches.
const chatMaxResults = 200

type Client struct {
	svc *yt.Service
}

// New builds a client. Production callers pass option.WithAPIKey; tests pass
// option.WithEndpoint plus option.WithoutAuthentication.
func New(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// SearchLive returns the video ids of the channel's currently live broadcasts.
// This is the expensive discovery call; callers gate it behind the quota
// ledger at CostSearch.
func (c *Client) SearchLive(ctx context.Context, channelID string) ([]string, error) {
	resp, err := c.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(searchMaxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search live: %w", err)
	}
	var ids []string
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

// VideoDetails fetches snippet and live-streaming details for the given ids.
// Ids the API no longer knows are simply absent from the result.
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]registry.VideoMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resp, err := c.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).
		Id(ids...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("video details: %w", err)
	}
	metas := make([]registry.VideoMeta, 0, len(resp.Items))
	for _, v := range resp.Items {
		m := registry.VideoMeta{VideoID: v.Id, Raw: v}
		if v.Snippet != nil {
			m.Title = v.Snippet.Title
			m.Description = v.Snippet.Description
			m.ChannelID = v.Snippet.ChannelId
			m.ChannelTitle = v.Snippet.ChannelTitle
		}
		if d := v.LiveStreamingDetails; d != nil {
			m.HasLiveDetails = true
			m.ScheduledStart = parseTime(d.ScheduledStartTime)
			m.ActualStart = parseTime(d.ActualStartTime)
			m.ActualEnd = parseTime(d.ActualEndTime)
			m.Viewers = int64(d.ConcurrentViewers)
			m.LiveChatID = d.ActiveLiveChatId
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// ChatFetcher returns a chat.FetchFunc bound to one live chat id. Callers
// gate each invocation behind the quota ledger at CostChatMessages.
func (c *Client) ChatFetcher(liveChatID string) chat.FetchFunc {
	return func(ctx context.Context, pageToken string) (chat.Page, error) {
		call := c.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
			MaxResults(chatMaxResults).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return chat.Page{}, fmt.Errorf("live chat messages: %w", err)
		}
		page := chat.Page{
			NextPageToken: resp.NextPageToken,
			NextDelay:     time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
		}
		for _, msg := range resp.Items {
			page.Items = append(page.Items, mapChatItem(msg))
		}
		return page, nil
	}
}

func mapChatItem(msg *yt.LiveChatMessage) chat.Item {
	item := chat.Item{ID: msg.Id}
	if a := msg.AuthorDetails; a != nil {
		item.AuthorName = a.DisplayName
		item.AuthorChannelID = a.ChannelId
		item.IsModerator = a.IsChatModerator
		item.IsSponsor = a.IsChatSponsor
	}
	s := msg.Snippet
	if s == nil {
		return item
	}
	item.Kind = s.Type
	item.PublishedAt = parseTime(s.PublishedAt)
	if d := s.TextMessageDetails; d != nil {
		item.Message = d.MessageText
	}
	if d := s.SuperChatDetails; d != nil {
		item.Message = d.UserComment
		item.AmountMicros = d.AmountMicros
		item.Currency = d.Currency
		item.AmountDisplay = d.AmountDisplayString
		item.Tier = int64(d.Tier)
	}
	if d := s.SuperStickerDetails; d != nil {
		item.AmountMicros = d.AmountMicros
		item.Currency = d.Currency
		item.AmountDisplay = d.AmountDisplayString
		item.Tier = int64(d.Tier)
		if d.SuperStickerMetadata != nil {
			item.StickerID = d.SuperStickerMetadata.StickerId
			item.StickerAlt = d.SuperStickerMetadata.AltText
		}
	}
	if d := s.NewSponsorDetails; d != nil {
		item.MemberLevelName = d.MemberLevelName
		item.IsUpgrade = d.IsUpgrade
	}
	if d := s.UserBannedDetails; d != nil {
		item.BanType = d.BanType
		item.BanDurationSeconds = int64(d.BanDurationSeconds)
		if d.BannedUserDetails != nil {
			item.BannedUserName = d.BannedUserDetails.DisplayName
			item.BannedUserChannelID = d.BannedUserDetails.ChannelId
		}
	}
	if d := s.MessageDeletedDetails; d != nil {
		item.DeletedMessageID = d.DeletedMessageId
	}
	if d := s.PollDetails; d != nil && d.Metadata != nil {
		item.PollQuestion = d.Metadata.QuestionText
		for _, o := range d.Metadata.Options {
			item.PollOptions = append(item.PollOptions, chat.PollOption{Text: o.OptionText, Tally: int64(o.Tally)})
		}
	}
	return item
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// IsQuotaExceeded reports whether err is the API's own daily-quota rejection.
func IsQuotaExceeded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code != 403 {
		return false
	}
	for _, e := range gerr.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return false
}

// IsChatGone reports whether err means the live chat has ended or been
// disabled; the caller should drop the cursor rather than retry.
func IsChatGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == 404 {
		return true
	}
	for _, e := range gerr.Errors {
		if e.Reason == "liveChatEnded" || e.Reason == "liveChatDisabled" {
			return true
		}
	}
	return false
}
