package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/dysthesis/sift/internal/resilience/circuitbreaker"
	"github.com/dysthesis/sift/internal/resilience/retry"
	"github.com/dysthesis/sift/internal/usecase/fetch"
)

// PageFetcher reads entry pages: the readable text is extracted with
// go-readability and advertised feeds are collected for discovery.
//
// Safe for concurrent use.
type PageFetcher struct {
	client  *http.Client
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

func NewPageFetcher(cfg Config) *PageFetcher {
	return &PageFetcher{
		client:  newHTTPClient(cfg),
		cfg:     cfg,
		breaker: circuitbreaker.New(circuitbreaker.PageFetchConfig()),
		retry:   retry.PageFetchConfig(),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (f *PageFetcher) Breaker() *circuitbreaker.CircuitBreaker { return f.breaker }

// FetchPage implements fetch.PageFetcher.
func (f *PageFetcher) FetchPage(ctx context.Context, pageURL string) (*fetch.Page, error) {
	if err := validateURL(pageURL, f.cfg.DenyPrivateIPs); err != nil {
		return nil, err
	}
	return retry.Do(ctx, f.retry, func() (*fetch.Page, error) {
		return circuitbreaker.Do(f.breaker, func() (*fetch.Page, error) {
			return f.doFetch(ctx, pageURL)
		})
	})
}

func (f *PageFetcher) doFetch(ctx context.Context, pageURL string) (*fetch.Page, error) {
	body, final, err := get(ctx, f.client, f.cfg, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	links, err := DiscoverFeeds(final, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), final)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetch.ErrExtractionFailed, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("%w: no readable content found", fetch.ErrExtractionFailed)
	}
	return &fetch.Page{Text: text, FeedLinks: links}, nil
}
