package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysthesis/sift/internal/observability/metrics"
	"github.com/dysthesis/sift/internal/resilience/retry"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

func TestNew(t *testing.T) {
	cb := New(testConfig("test-new"))
	assert.Equal(t, "test-new", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, cb.IsOpen())
}

func TestDo_Success(t *testing.T) {
	cb := New(testConfig("test-do"))
	v, err := Do(cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_TripsAndRecovers(t *testing.T) {
	cb := New(testConfig("test-trip"))
	before := testutil.ToFloat64(metrics.CircuitBreakerTransitionsTotal.WithLabelValues("test-trip", "open"))

	boom := errors.New("boom")
	for range 3 {
		_, err := Do(cb, func() (string, error) { return "", boom })
		assert.ErrorIs(t, err, boom)
	}
	require.True(t, cb.IsOpen())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CircuitBreakerTransitionsTotal.WithLabelValues("test-trip", "open")))

	called := false
	_, err := Do(cb, func() (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	v, err := Do(cb, func() (string, error) { return "back", nil })
	require.NoError(t, err)
	assert.Equal(t, "back", v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBelowMinRequestsStaysClosed(t *testing.T) {
	cb := New(testConfig("test-min"))
	for range 2 {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("fail") })
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestPresetConfigs(t *testing.T) {
	assert.Equal(t, "feed-fetch", FeedFetchConfig().Name)
	assert.Equal(t, "page-fetch", PageFetchConfig().Name)
	assert.Greater(t, PageFetchConfig().Timeout, FeedFetchConfig().Timeout)
	assert.Equal(t, "x", DefaultConfig("x").Name)
}

func TestCountable_IgnoresPermanentErrors(t *testing.T) {
	cfg := testConfig("test-countable")
	cfg.Countable = retry.IsRetryable
	cb := New(cfg)

	gone := &retry.HTTPError{StatusCode: 404, Message: "404 Not Found"}
	for range 5 {
		_, err := Do(cb, func() (string, error) { return "", gone })
		assert.ErrorIs(t, err, gone)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	for range 3 {
		_, _ = Do(cb, func() (string, error) { return "", &retry.HTTPError{StatusCode: 503} })
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State(), "3 transient out of 8 is below the ratio")

	for range 6 {
		_, _ = Do(cb, func() (string, error) { return "", &retry.HTTPError{StatusCode: 502} })
	}
	assert.True(t, cb.IsOpen())
}
