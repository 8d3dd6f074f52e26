package events

import "time"

// Example returns a canned payload for the given event type, used by the
// manual trigger endpoint to exercise the delivery path end to end.
// Timestamps are generated at call time. Unknown types return nil.
func Example(eventType string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	switch eventType {
	case TypeLiveStarted:
		return map[string]any{
			"video_id":           "EXAMPLE_VIDEO_ID",
			"title":              "Example Live Stream",
			"description":        "Example stream description",
			"channel_id":         "EXAMPLE_CHANNEL_ID",
			"channel_title":      "Example Channel",
			"started_at":         now,
			"scheduled_start":    now,
			"concurrent_viewers": 42,
		}
	case TypeLiveUpdate:
		return map[string]any{
			"video_id":      "EXAMPLE_VIDEO_ID",
			"title":         "Example Live Stream",
			"published_at":  now,
			"channel_id":    "EXAMPLE_CHANNEL_ID",
			"channel_title": "Example Channel",
		}
	case TypeLiveViewersUpdated:
		return map[string]any{
			"video_id":           "EXAMPLE_VIDEO_ID",
			"concurrent_viewers": 1337,
			"previous_viewers":   1200,
			"title":              "Example Live Stream",
			"channel_id":         "EXAMPLE_CHANNEL_ID",
		}
	case TypeLiveEnded:
		return map[string]any{
			"video_id":   "EXAMPLE_VIDEO_ID",
			"title":      "Example Live Stream",
			"channel_id": "EXAMPLE_CHANNEL_ID",
			"ended_at":   now,
		}
	case TypeChatMessage:
		return map[string]any{
			"video_id":          "EXAMPLE_VIDEO_ID",
			"message":           "This is an example chat message.",
			"author_name":       "Example User",
			"author_channel_id": "EXAMPLE_AUTHOR_CHANNEL_ID",
			"is_moderator":      false,
			"is_sponsor":        false,
			"timestamp":         now,
		}
	case TypeChatSuperchat:
		return map[string]any{
			"video_id":          "EXAMPLE_VIDEO_ID",
			"message":           "Great stream!",
			"author_name":       "Generous Viewer",
			"author_channel_id": "EXAMPLE_AUTHOR_CHANNEL_ID",
			"amount":            5000000,
			"currency":          "USD",
			"amount_display":    "$5.00",
			"tier":              4,
			"timestamp":         now,
		}
	case TypeChatNewSponsor:
		return map[string]any{
			"video_id":          "EXAMPLE_VIDEO_ID",
			"author_name":       "New Member",
			"author_channel_id": "EXAMPLE_AUTHOR_CHANNEL_ID",
			"member_level_name": "Level 1 Member",
			"is_upgrade":        false,
			"timestamp":         now,
		}
	case TypeChatSupersticker:
		return map[string]any{
			"video_id":          "EXAMPLE_VIDEO_ID",
			"author_name":       "Sticker Sender",
			"author_channel_id": "EXAMPLE_AUTHOR_CHANNEL_ID",
			"sticker_id":        "STICKER_ID_12345",
			"sticker_alt_text":  "A thumbs up gesture",
			"amount":            5000000,
			"currency":          "USD",
			"amount_display":    "$5.00",
			"timestamp":         now,
		}
	case TypeChatUserBanned:
		return map[string]any{
			"video_id":               "EXAMPLE_VIDEO_ID",
			"banned_user_name":       "Banned User",
			"banned_user_channel_id": "EXAMPLE_BANNED_CHANNEL_ID",
			"ban_type":               "temporary",
			"ban_duration_seconds":   3600,
			"timestamp":              now,
		}
	case TypeChatMessageDeleted:
		return map[string]any{
			"video_id":           "EXAMPLE_VIDEO_ID",
			"deleted_message_id": "EXAMPLE_MESSAGE_ID",
			"timestamp":          now,
		}
	case TypeChatPoll:
		return map[string]any{
			"video_id":          "EXAMPLE_VIDEO_ID",
			"author_name":       "Poll Creator",
			"author_channel_id": "EXAMPLE_AUTHOR_CHANNEL_ID",
			"question":          "What should I play next?",
			"options": []map[string]any{
				{"text": "Game A", "tally": 42},
				{"text": "Game B", "tally": 38},
				{"text": "Game C", "tally": 25},
			},
			"timestamp": now,
		}
	}
	return nil
}
