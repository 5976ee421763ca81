package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/dysthesis/sift/internal/resilience/circuitbreaker"
	"github.com/dysthesis/sift/internal/resilience/retry"
	"github.com/dysthesis/sift/internal/usecase/fetch"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"

// RSSFetcher polls RSS, Atom and JSON feeds. Each fetch goes through the
// feed circuit breaker and is retried on transient errors.
type RSSFetcher struct {
	client  *http.Client
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

func NewRSSFetcher(cfg Config) *RSSFetcher {
	return &RSSFetcher{
		client:  newHTTPClient(cfg),
		cfg:     cfg,
		breaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retry:   retry.FeedFetchConfig(),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (f *RSSFetcher) Breaker() *circuitbreaker.CircuitBreaker { return f.breaker }

// Fetch implements fetch.FeedFetcher.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) ([]fetch.FeedItem, error) {
	if err := validateURL(feedURL, f.cfg.DenyPrivateIPs); err != nil {
		return nil, err
	}
	items, err := retry.Do(ctx, f.retry, func() ([]fetch.FeedItem, error) {
		return circuitbreaker.Do(f.breaker, func() ([]fetch.FeedItem, error) {
			return f.doFetch(ctx, feedURL)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fetch.ErrFeedFetchFailed, feedURL, err)
	}
	return items, nil
}

func (f *RSSFetcher) doFetch(ctx context.Context, feedURL string) ([]fetch.FeedItem, error) {
	body, _, err := get(ctx, f.client, f.cfg, feedURL, feedAccept)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetch.ErrInvalidFeedFormat, err)
	}
	return toItems(feed), nil
}

func toItems(feed *gofeed.Feed) []fetch.FeedItem {
	items := make([]fetch.FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it.Link == "" {
			continue
		}
		// Prefer full content, fall back to the summary.
		content := it.Content
		if content == "" {
			content = it.Description
		}
		item := fetch.FeedItem{
			Title:      it.Title,
			URL:        it.Link,
			Content:    content,
			Categories: it.Categories,
		}
		switch {
		case it.PublishedParsed != nil:
			item.PublishedAt = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			item.PublishedAt = *it.UpdatedParsed
		}
		items = append(items, item)
	}
	return items
}
