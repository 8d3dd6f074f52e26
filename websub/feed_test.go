package websub

import (
	"testing"
	"time"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <title>YouTube video feed</title>
  <entry>
    <id>yt:video:dQw4w9WgXcQ</id>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <yt:channelId>UC123</yt:channelId>
    <title>Stream announcement</title>
    <author><name>Example Channel</name></author>
    <published>2025-06-01T10:00:00+00:00</published>
  </entry>
</feed>`

func TestParseFeed(t *testing.T) {
	entries, err := ParseFeed([]byte(sampleFeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("video id = %q", e.VideoID)
	}
	if e.ChannelID != "UC123" {
		t.Errorf("channel id = %q", e.ChannelID)
	}
	if e.Title != "Stream announcement" {
		t.Errorf("title = %q", e.Title)
	}
	if e.ChannelTitle != "Example Channel" {
		t.Errorf("channel title = %q", e.ChannelTitle)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !e.Published.Equal(want) {
		t.Errorf("published = %v, want %v", e.Published, want)
	}
}

func TestParseFeedMalformed(t *testing.T) {
	if _, err := ParseFeed([]byte("not xml at all <<<")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestParseFeedNoEntries(t *testing.T) {
	body := `<feed xmlns="http://www.w3.org/2005/Atom"><title>empty</title></feed>`
	entries, err := ParseFeed([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestParseFeedSkipsEntriesWithoutVideoID(t *testing.T) {
	body := `<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
	  <entry><title>deleted entry</title></entry>
	</feed>`
	entries, err := ParseFeed([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}
