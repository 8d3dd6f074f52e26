package websub

import (
	"encoding/xml"
	"fmt"
	"time"
)

// FeedEntry is one video referenced by a push notification. Entries are
// hints, not ground truth: the feed carries no live-broadcast status, so each
// entry only triggers a targeted metadata refresh.
type FeedEntry struct {
	VideoID      string
	Title        string
	Published    time.Time
	ChannelID    string
	ChannelTitle string
}

// atomFeed mirrors the subset of the YouTube Atom push payload we consume.
// yt:videoId and yt:channelId live in the
// http://www.youtube.com/xml/schemas/2015 namespace.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	VideoID   string     `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string     `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string     `xml:"title"`
	Published string     `xml:"published"`
	Author    atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// ParseFeed decodes an Atom push body into zero or more entries. Entries
// without a video id are skipped. A malformed body returns an error; callers
// record the parse failure and carry on (the hub is still answered 200, since
// a retry of an unparseable body buys nothing).
func ParseFeed(body []byte) ([]FeedEntry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}
	out := make([]FeedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if e.VideoID == "" {
			continue
		}
		entry := FeedEntry{
			VideoID:      e.VideoID,
			Title:        e.Title,
			ChannelID:    e.ChannelID,
			ChannelTitle: e.Author.Name,
		}
		if e.Published != "" {
			if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
				entry.Published = t.UTC()
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
