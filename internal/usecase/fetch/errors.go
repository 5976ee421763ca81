// Package fetch executes the scheduler's fetch plan: it polls feeds,
// stores and embeds new entries, fetches entry pages whose feed content
// is too thin, discovers feeds linked from those pages and reports every
// outcome back to the scheduler.
package fetch

import "errors"

// Sentinel errors shared by fetcher implementations.
var (
	// ErrFeedFetchFailed indicates that fetching a feed from its URL failed.
	ErrFeedFetchFailed = errors.New("failed to fetch feed")

	// ErrInvalidFeedFormat indicates the body was not valid RSS, Atom or JSON Feed.
	ErrInvalidFeedFormat = errors.New("invalid feed format")

	ErrInvalidURL       = errors.New("invalid URL")
	ErrPrivateIP        = errors.New("URL resolves to a private address")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrBodyTooLarge     = errors.New("response body too large")
	ErrTimeout          = errors.New("request timed out")

	// ErrExtractionFailed indicates no readable text could be extracted from a page.
	ErrExtractionFailed = errors.New("content extraction failed")
)
