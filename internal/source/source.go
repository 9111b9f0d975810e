// Package source downloads portal search feeds and turns their entries into raw
// listing records.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"flatnotify/internal/normalize"
)

const maxFeedSize = 5 * 1024 * 1024

// listingFields are the custom feed elements copied into a record as is.
var listingFields = []string{"price", "size", "rooms", "address", "rent_warm"}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source downloads and parses RSS or Atom search feeds.
type Source struct {
	client HTTPClient
	parser *gofeed.Parser
}

// New creates a Source with the given HTTP client.
func New(client HTTPClient) *Source {
	return &Source{
		client: client,
		parser: gofeed.NewParser(),
	}
}

// Fetch downloads the feed at url and returns one raw record per entry.
func (s *Source) Fetch(ctx context.Context, url string) ([]normalize.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "flatnotify/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	records := make([]normalize.Raw, 0, len(feed.Items))
	for _, item := range feed.Items {
		records = append(records, Record(item))
	}
	return records, nil
}

// Record converts a feed entry into a raw listing record. The GUID becomes the
// id; without one the normalizer falls back to the link.
func Record(item *gofeed.Item) normalize.Raw {
	raw := normalize.Raw{
		"title": item.Title,
		"url":   item.Link,
	}
	if item.GUID != "" {
		raw["id"] = item.GUID
	}

	desc := item.Description
	if strings.TrimSpace(desc) == "" {
		desc = item.Content
	}
	raw["description"] = desc

	if images := imageURLs(item); len(images) > 0 {
		raw["images"] = images
	}
	for _, key := range listingFields {
		if v, ok := item.Custom[key]; ok {
			raw[key] = v
		}
	}
	return raw
}

// imageURLs collects the entry image and image enclosures without duplicates.
func imageURLs(item *gofeed.Item) []string {
	var urls []string
	seen := map[string]bool{}
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if enc.Type != "" && !strings.HasPrefix(enc.Type, "image/") {
			continue
		}
		add(enc.URL)
	}
	return urls
}
