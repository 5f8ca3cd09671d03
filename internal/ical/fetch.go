package ical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lifeos/internal/logging"
)

// Feed is one configured calendar subscription. ID is the stable identifier
// events join back to; Label and Color are display preferences and may be
// empty.
type Feed struct {
	ID    string
	URL   string
	Label string
	Color string
}

// FetchResult is the outcome of fetching one feed. When the upstream fetch
// failed but a cached body exists, Body is the stale fallback and Err carries
// the upstream failure; callers surface both.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
	Err       error
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches calendar feeds with conditional requests
// (ETag / Last-Modified) against a disk-backed cache. When a feed is
// unreachable and a cached body exists, the cached body is served so the
// dashboard keeps showing the last known events.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// Fetch fetches a single feed, honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}

	cachePath := f.cachePathForURL(feed.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			logging.Error("calendar fetch network error, using cached body", err, "feed", feed.ID, "url", redactURL(feed.URL))
			return FetchResult{Feed: feed, Body: cachedBody, FromCache: true, Err: fmt.Errorf("fetch: %w", err)}, nil
		}
		return FetchResult{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			logging.Error("calendar cache save failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
		}

		return FetchResult{Feed: feed, Body: body, FromCache: false}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		return FetchResult{Feed: feed, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			logging.Error("calendar fetch non-OK, using cached body", errors.New(resp.Status), "feed", feed.ID, "status", resp.StatusCode)
			return FetchResult{Feed: feed, Body: cachedBody, FromCache: true, Err: fmt.Errorf("unexpected status %s", resp.Status)}, nil
		}
		return FetchResult{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query of a feed URL for logging. Private ICS URLs
// frequently embed access tokens.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
