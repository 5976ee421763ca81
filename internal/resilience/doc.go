// Package resilience groups the fault tolerance helpers used by the crawl
// worker when talking to remote feeds and entry pages.
//
// The subpackages provide:
//   - Circuit breakers per remote resource class (feed fetch, entry page fetch)
//   - Retry with exponential backoff and jitter for transient network errors
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.FeedFetchConfig())
//	feed, err := circuitbreaker.Do(cb, func() (*gofeed.Feed, error) {
//	    return parser.ParseURLWithContext(url, ctx)
//	})
//
//	err := retry.WithBackoff(ctx, retry.FeedFetchConfig(), func() error {
//	    return fetchOnce(ctx)
//	})
package resilience
