// Package circuitbreaker wraps github.com/sony/gobreaker for calls to
// remote feeds and pages.
package circuitbreaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dysthesis/sift/internal/observability/metrics"
	"github.com/dysthesis/sift/internal/resilience/retry"
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is used in logs and metric labels.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the closed-state period after which counts are cleared.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64

	// MinRequests is the number of requests required before the ratio counts.
	MinRequests uint32

	// Countable reports whether an error counts as a failure. Errors it
	// rejects are returned to the caller but recorded as successes. Nil
	// counts every error.
	Countable func(error) bool
}

// DefaultConfig returns a default configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// FeedFetchConfig is used for feed polling. All feeds share the breaker, so
// only transient errors count: a single feed answering 404 or serving
// broken XML must not stop the others from being polled.
func FeedFetchConfig() Config {
	return Config{
		Name:             "feed-fetch",
		MaxRequests:      5,
		Interval:         60 * time.Second,
		Timeout:          120 * time.Second,
		FailureThreshold: 0.7,
		MinRequests:      10,
		Countable:        retry.IsRetryable,
	}
}

// PageFetchConfig is used for entry pages fetched for content and feed
// discovery. Site layouts break more often than feeds do, so it stays
// open longer.
func PageFetchConfig() Config {
	return Config{
		Name:             "page-fetch",
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Minute,
		FailureThreshold: 0.8,
		MinRequests:      5,
		Countable:        retry.IsRetryable,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a circuit breaker. State changes are logged and counted.
func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordBreakerTransition(name, to.String())
		},
	}
	if cfg.Countable != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !cfg.Countable(err)
		}
	}

	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the breaker. While open it returns
// gobreaker.ErrOpenState without calling fn.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return cb.breaker.Execute(fn)
}

// Do is a typed form of Execute.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func (cb *CircuitBreaker) State() gobreaker.State { return cb.breaker.State() }

func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen reports whether calls are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}
