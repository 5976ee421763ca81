package config

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics tracks configuration loading for one component.
type ConfigMetrics struct {
	LoadTimestamp  prometheus.Gauge
	FallbacksTotal *prometheus.CounterVec
	FallbackActive prometheus.Gauge
}

// NewConfigMetricsWith registers the collectors with reg. Call it once per
// component and registry.
func NewConfigMetricsWith(component string, reg prometheus.Registerer) *ConfigMetrics {
	return newConfigMetrics(component, promauto.With(reg))
}

func newConfigMetrics(component string, f promauto.Factory) *ConfigMetrics {
	return &ConfigMetrics{
		LoadTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("sift_%s_config_load_timestamp_seconds", component),
			Help: fmt.Sprintf("Unix timestamp of the last %s configuration load", component),
		}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("sift_%s_config_fallbacks_total", component),
			Help: fmt.Sprintf("Settings of %s that fell back to their default", component),
		}, []string{"field"}),
		FallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("sift_%s_config_fallback_active", component),
			Help: fmt.Sprintf("1 if any %s setting is running on its fallback", component),
		}),
	}
}

// Observe records one loaded setting and returns its warnings.
func Observe[T any](m *ConfigMetrics, field string, r LoadResult[T]) []string {
	if m != nil && r.FallbackApplied {
		m.FallbacksTotal.WithLabelValues(field).Inc()
		m.FallbackActive.Set(1)
	}
	return r.Warnings
}

// RecordLoad stamps the load time.
func (m *ConfigMetrics) RecordLoad(at time.Time) {
	m.LoadTimestamp.Set(float64(at.Unix()))
}
