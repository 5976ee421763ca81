package fetch

import (
	"context"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/usecase/scoring"
)

// FeedItem is one item parsed from a feed.
type FeedItem struct {
	Title       string
	URL         string
	Content     string
	Categories  []string
	PublishedAt time.Time
}

// Page is an entry page reduced to what the engine uses.
type Page struct {
	// Text is the readable body with markup stripped.
	Text string
	// FeedLinks are absolute URLs of feeds the page advertises.
	FeedLinks []string
}

// FeedFetcher fetches and parses a feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]FeedItem, error)
}

// PageFetcher fetches an entry page.
//
// Implementations must reject private addresses, bound the body size and
// validate redirect targets.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// Embedder turns text into a vector of the engine's dimension.
type Embedder interface {
	Embed(text string) []float32
}

// Engine accepts embedded entries. *scoring.Service implements it.
type Engine interface {
	Ingest(ctx context.Context, entries []entity.Entry) scoring.IngestReport
}
