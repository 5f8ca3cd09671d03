package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example News</title>
<link>https://news.example.com</link>
<item>
  <title>First headline</title>
  <link>https://news.example.com/1</link>
  <description>Something happened.</description>
  <category>World</category>
  <pubDate>Fri, 07 Jun 2024 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Second headline</title>
  <link>https://news.example.com/2</link>
  <description>Something else happened.</description>
</item>
</channel>
</rss>`

func TestFetchNormalizesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	defer srv.Close()

	feed, err := NewClient().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if feed.Title != "Example News" {
		t.Errorf("Title = %q", feed.Title)
	}
	if len(feed.Articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(feed.Articles))
	}

	first := feed.Articles[0]
	if first.Title != "First headline" || first.Link != "https://news.example.com/1" {
		t.Errorf("unexpected first article: %+v", first)
	}
	if first.Category != "World" {
		t.Errorf("Category = %q, want World", first.Category)
	}
	if first.ImageURL != "" {
		t.Errorf("ImageURL = %q, want empty when source has none", first.ImageURL)
	}

	// Missing pubDate falls back to fetch time, not zero.
	if feed.Articles[1].Published.IsZero() {
		t.Error("missing pubDate should fall back to fetch time")
	}
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient().Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for failing feed")
	}
}

func TestNormalizeFeedCapsArticleCount(t *testing.T) {
	parsed := &gofeed.Feed{Title: "Big feed"}
	for i := 0; i < maxArticles+5; i++ {
		parsed.Items = append(parsed.Items, &gofeed.Item{
			Title: fmt.Sprintf("item %d", i),
			Link:  fmt.Sprintf("https://example.com/%d", i),
		})
	}

	feed := normalizeFeed("https://example.com/rss", parsed, time.Now())
	if len(feed.Articles) != maxArticles {
		t.Errorf("got %d articles, want cap of %d", len(feed.Articles), maxArticles)
	}
}

func TestNormalizeFeedTruncatesFields(t *testing.T) {
	longTitle := strings.Repeat("t", maxTitleRunes+50)
	longSummary := strings.Repeat("s", maxSummaryRunes+50)

	parsed := &gofeed.Feed{
		Title: "Feed",
		Items: []*gofeed.Item{{
			Title:       longTitle,
			Link:        "https://example.com/x",
			Description: longSummary,
		}},
	}

	feed := normalizeFeed("https://example.com/rss", parsed, time.Now())
	got := feed.Articles[0]

	if n := len([]rune(got.Title)); n != maxTitleRunes {
		t.Errorf("title length = %d runes, want %d", n, maxTitleRunes)
	}
	if !strings.HasSuffix(got.Title, "…") {
		t.Error("truncated title should end with an ellipsis")
	}
	if n := len([]rune(got.Summary)); n != maxSummaryRunes {
		t.Errorf("summary length = %d runes, want %d", n, maxSummaryRunes)
	}
}

func TestTruncateRunesKeepsShortStrings(t *testing.T) {
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}
