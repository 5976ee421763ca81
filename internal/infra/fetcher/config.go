// Package fetcher implements the HTTP side of a crawl: polling feeds with
// gofeed and reading entry pages with go-readability and goquery.
package fetcher

import (
	"fmt"
	"time"

	pkgconfig "github.com/dysthesis/sift/internal/pkg/config"
)

const defaultUserAgent = "sift/1.0 (+https://github.com/dysthesis/sift)"

// Config holds HTTP limits shared by the feed and page fetchers.
type Config struct {
	// Timeout bounds a single request including the body read.
	Timeout time.Duration

	// MaxBodySize rejects responses larger than this many bytes.
	MaxBodySize int64

	// MaxRedirects bounds the redirect chain. Every hop is validated.
	MaxRedirects int

	// DenyPrivateIPs rejects URLs resolving to loopback, private or
	// link-local addresses. Only tests turn it off.
	DenyPrivateIPs bool

	UserAgent string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        15 * time.Second,
		MaxBodySize:    5 * 1024 * 1024,
		MaxRedirects:   5,
		DenyPrivateIPs: true,
		UserAgent:      defaultUserAgent,
	}
}

// Validate checks the limits are usable.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	const minBody, maxBody = int64(1024), int64(100 * 1024 * 1024)
	if c.MaxBodySize < minBody || c.MaxBodySize > maxBody {
		return fmt.Errorf("max body size must be between %d and %d bytes, got %d", minBody, maxBody, c.MaxBodySize)
	}
	if c.MaxRedirects < 0 || c.MaxRedirects > 10 {
		return fmt.Errorf("max redirects must be between 0 and 10, got %d", c.MaxRedirects)
	}
	return nil
}

// LoadConfigFromEnv reads FETCH_* variables over the defaults. Invalid
// values fall back to the default and are returned as warnings.
//
//   - FETCH_TIMEOUT: duration (default 15s)
//   - FETCH_MAX_BODY_SIZE: bytes (default 5MiB)
//   - FETCH_MAX_REDIRECTS: integer (default 5)
//   - FETCH_DENY_PRIVATE_IPS: bool (default true)
//   - FETCH_USER_AGENT: string
func LoadConfigFromEnv() (Config, []string) {
	def := DefaultConfig()

	timeout := pkgconfig.LoadEnvDuration("FETCH_TIMEOUT", def.Timeout, func(d time.Duration) error {
		return pkgconfig.ValidateDuration(d, time.Second, 5*time.Minute)
	})
	body := pkgconfig.LoadEnvInt("FETCH_MAX_BODY_SIZE", int(def.MaxBodySize), func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1024, 100*1024*1024)
	})
	redirects := pkgconfig.LoadEnvInt("FETCH_MAX_REDIRECTS", def.MaxRedirects, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 10)
	})
	deny := pkgconfig.LoadEnvBool("FETCH_DENY_PRIVATE_IPS", def.DenyPrivateIPs)

	var warnings []string
	warnings = append(warnings, timeout.Warnings...)
	warnings = append(warnings, body.Warnings...)
	warnings = append(warnings, redirects.Warnings...)
	warnings = append(warnings, deny.Warnings...)

	return Config{
		Timeout:        timeout.Value,
		MaxBodySize:    int64(body.Value),
		MaxRedirects:   redirects.Value,
		DenyPrivateIPs: deny.Value,
		UserAgent:      pkgconfig.LoadEnvString("FETCH_USER_AGENT", def.UserAgent),
	}, warnings
}
