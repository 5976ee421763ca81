package config

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// FeedsFile is the user's feed list and tag-weight table.
//
//	feeds:
//	  - url: https://go.dev/blog/feed.atom
//	    name: The Go Blog
//	    tags: [go, programming]
//	    interval: 24h
//	tag_weights:
//	  go: 2
type FeedsFile struct {
	Feeds      []FeedSpec         `yaml:"feeds"`
	TagWeights map[string]float64 `yaml:"tag_weights"`
}

// FeedSpec is one configured feed. Interval seeds the refresh estimate.
type FeedSpec struct {
	URL      string        `yaml:"url"`
	Name     string        `yaml:"name"`
	Tags     []string      `yaml:"tags"`
	Interval time.Duration `yaml:"interval"`
}

// LoadFeeds reads and validates a feeds file. Unknown keys are rejected.
func LoadFeeds(path string) (*FeedsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}
	return ParseFeeds(data)
}

// ParseFeeds decodes and validates feeds YAML.
func ParseFeeds(data []byte) (*FeedsFile, error) {
	var f FeedsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, &entity.ConfigurationError{Field: "feeds_file", Message: err.Error()}
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *FeedsFile) validate() error {
	seen := make(map[string]int, len(f.Feeds))
	for i, item := range f.Feeds {
		field := fmt.Sprintf("feeds[%d].url", i)
		u, err := url.Parse(strings.TrimSpace(item.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &entity.ConfigurationError{Field: field, Message: fmt.Sprintf("%q is not an http(s) URL", item.URL)}
		}
		key := strings.TrimRight(u.String(), "/")
		if j, dup := seen[key]; dup {
			return &entity.ConfigurationError{Field: field, Message: fmt.Sprintf("duplicate of feeds[%d]", j)}
		}
		seen[key] = i
		if item.Interval < 0 {
			return &entity.ConfigurationError{Field: fmt.Sprintf("feeds[%d].interval", i), Message: "must not be negative"}
		}
	}
	for tag, w := range f.TagWeights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return &entity.ConfigurationError{Field: "tag_weights." + tag, Message: fmt.Sprintf("must be a positive number, got %v", w)}
		}
	}
	return nil
}

// Entities returns the configured feeds as Active entities.
func (f *FeedsFile) Entities() []entity.Feed {
	out := make([]entity.Feed, 0, len(f.Feeds))
	for _, item := range f.Feeds {
		out = append(out, entity.Feed{
			URL:               strings.TrimSpace(item.URL),
			Name:              item.Name,
			Tags:              entity.NormalizeTags(item.Tags),
			State:             entity.FeedActive,
			EstimatedInterval: item.Interval,
		})
	}
	return out
}
