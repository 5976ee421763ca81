package fetcher

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var feedTypes = map[string]bool{
	"application/rss+xml":   true,
	"application/atom+xml":  true,
	"application/feed+json": true,
}

// DiscoverFeeds returns the feeds a page advertises through
// <link rel="alternate" type="..."> elements, resolved against base,
// deduplicated, in document order.
func DiscoverFeeds(base *url.URL, r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find(`link[rel~="alternate"][href]`).Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		mediaType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(typ)), ";")
		if !feedTypes[strings.TrimSpace(mediaType)] {
			return
		}
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment, abs.RawFragment = "", ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links, nil
}
