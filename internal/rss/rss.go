// Package rss fetches and normalizes RSS/Atom feeds for the news widget.
package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"lifeos/internal/model"
)

const (
	// maxArticles caps the article list per feed.
	maxArticles = 12

	// Field caps, in runes. Widget cells are small.
	maxTitleRunes   = 140
	maxSummaryRunes = 280
)

// Client fetches and normalizes feeds.
type Client struct {
	parser *gofeed.Parser
}

// NewClient creates a news client.
func NewClient() *Client {
	return &Client{
		parser: gofeed.NewParser(),
	}
}

// Fetch retrieves and normalizes one feed URL.
func (c *Client) Fetch(ctx context.Context, url string) (model.NewsFeed, error) {
	parsed, err := c.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return model.NewsFeed{}, fmt.Errorf("news feed %s: %w", url, err)
	}
	return normalizeFeed(url, parsed, time.Now()), nil
}

// normalizeFeed maps a parsed document onto the widget shape: feed title
// plus a capped, field-truncated article list. Optional fields (image,
// category) are simply omitted when the source lacks them.
func normalizeFeed(url string, parsed *gofeed.Feed, now time.Time) model.NewsFeed {
	out := model.NewsFeed{
		Title: truncateRunes(parsed.Title, maxTitleRunes),
		URL:   url,
	}

	for _, item := range parsed.Items {
		if len(out.Articles) >= maxArticles {
			break
		}
		if item == nil {
			continue
		}

		link := item.Link
		if link == "" {
			link = item.GUID
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		published := now
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		}

		article := model.Article{
			Title:     truncateRunes(item.Title, maxTitleRunes),
			Link:      link,
			Summary:   truncateRunes(summary, maxSummaryRunes),
			Published: published,
		}
		if item.Image != nil {
			article.ImageURL = item.Image.URL
		}
		if len(item.Categories) > 0 {
			article.Category = item.Categories[0]
		}

		out.Articles = append(out.Articles, article)
	}

	return out
}

// truncateRunes shortens s to at most n runes, appending an ellipsis when
// anything was cut.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
