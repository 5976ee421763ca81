package config

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		want         time.Duration
		wantFallback bool
	}{
		{name: "unset", value: "", want: time.Minute},
		{name: "valid", value: "90s", want: 90 * time.Second},
		{name: "unparsable", value: "soon", want: time.Minute, wantFallback: true},
		{name: "fails validator", value: "-5s", want: time.Minute, wantFallback: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SIFT_TEST_DURATION", tt.value)
			r := LoadEnvDuration("SIFT_TEST_DURATION", time.Minute, ValidatePositiveDuration)
			assert.Equal(t, tt.want, r.Value)
			assert.Equal(t, tt.wantFallback, r.FallbackApplied)
			if tt.wantFallback {
				require.Len(t, r.Warnings, 1)
				assert.Contains(t, r.Warnings[0], "SIFT_TEST_DURATION")
				assert.Contains(t, r.Warnings[0], "falling back to default '1m0s'")
			} else {
				assert.Empty(t, r.Warnings)
			}
		})
	}
}

func TestLoadEnvInt(t *testing.T) {
	rangeCheck := func(v int) error { return ValidateIntRange(v, 1, 64) }

	t.Setenv("SIFT_TEST_INT", "8")
	assert.Equal(t, 8, LoadEnvInt("SIFT_TEST_INT", 4, rangeCheck).Value)

	t.Setenv("SIFT_TEST_INT", "8.5")
	r := LoadEnvInt("SIFT_TEST_INT", 4, rangeCheck)
	assert.Equal(t, 4, r.Value)
	assert.Contains(t, r.Warnings[0], "invalid integer format")

	t.Setenv("SIFT_TEST_INT", "100")
	assert.True(t, LoadEnvInt("SIFT_TEST_INT", 4, rangeCheck).FallbackApplied)
}

func TestLoadEnvFloat(t *testing.T) {
	tests := []struct {
		value        string
		want         float64
		wantFallback bool
	}{
		{value: "0.5", want: 0.5},
		{value: " 1e-3 ", want: 0.001},
		{value: "NaN", want: 0.85, wantFallback: true},
		{value: "+Inf", want: 0.85, wantFallback: true},
		{value: "2", want: 0.85, wantFallback: true},
		{value: "high", want: 0.85, wantFallback: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SIFT_TEST_FLOAT", tt.value)
			r := LoadEnvFloat("SIFT_TEST_FLOAT", 0.85, func(v float64) error { return ValidateFloatRange(v, 0, 1) })
			assert.Equal(t, tt.want, r.Value)
			assert.Equal(t, tt.wantFallback, r.FallbackApplied)
		})
	}
}

func TestLoadEnvBoolAndString(t *testing.T) {
	t.Setenv("SIFT_TEST_BOOL", "TRUE")
	assert.True(t, LoadEnvBool("SIFT_TEST_BOOL", false).Value)
	t.Setenv("SIFT_TEST_BOOL", "yes")
	assert.True(t, LoadEnvBool("SIFT_TEST_BOOL", false).FallbackApplied)

	t.Setenv("SIFT_TEST_STRING", "")
	assert.Equal(t, "fallback", LoadEnvString("SIFT_TEST_STRING", "fallback"))
	t.Setenv("SIFT_TEST_STRING", "value")
	assert.Equal(t, "value", LoadEnvString("SIFT_TEST_STRING", "fallback"))
}

func TestLoadEnvWithFallback_Cron(t *testing.T) {
	t.Setenv("SIFT_TEST_CRON", "@every 10m")
	assert.Equal(t, "@every 10m", LoadEnvWithFallback("SIFT_TEST_CRON", "*/15 * * * *", ValidateCronSchedule).Value)

	t.Setenv("SIFT_TEST_CRON", "every so often")
	r := LoadEnvWithFallback("SIFT_TEST_CRON", "*/15 * * * *", ValidateCronSchedule)
	assert.Equal(t, "*/15 * * * *", r.Value)
	assert.True(t, r.FallbackApplied)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateCronSchedule("30 5 * * *"))
	assert.Error(t, ValidateCronSchedule(""))
	assert.Error(t, ValidateCronSchedule("61 * * * *"))

	assert.NoError(t, ValidateTimezone("UTC"))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))

	assert.NoError(t, ValidateDuration(time.Minute, time.Second, time.Hour))
	assert.Error(t, ValidateDuration(time.Millisecond, time.Second, time.Hour))
	assert.Error(t, ValidateDuration(time.Minute, time.Hour, time.Second))

	assert.Error(t, ValidateIntRange(0, 1, 10))
	assert.Error(t, ValidateFloatRange(-0.1, 0, 1))
	assert.NoError(t, ValidateFloatRange(1, 0, 1))
}

func TestObserve(t *testing.T) {
	m := newConfigMetrics("test", promauto.With(prometheus.NewRegistry()))

	ok := LoadResult[int]{Value: 3}
	assert.Empty(t, Observe(m, "workers", ok))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))

	fell := LoadResult[int]{Value: 4, FallbackApplied: true, Warnings: []string{"bad"}}
	assert.Equal(t, []string{"bad"}, Observe(m, "workers", fell))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("workers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackActive))

	assert.Equal(t, []string{"bad"}, Observe(nil, "workers", fell), "nil metrics are allowed")
}
