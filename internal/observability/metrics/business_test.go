package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGraphUpdate(t *testing.T) {
	before := testutil.ToFloat64(GraphUpdatesTotal.WithLabelValues("upsert", "changed"))
	RecordGraphUpdate("upsert", "changed", 3)
	after := testutil.ToFloat64(GraphUpdatesTotal.WithLabelValues("upsert", "changed"))
	assert.Equal(t, before+1, after)
}

func TestUpdateGraphSize(t *testing.T) {
	UpdateGraphSize(5, 4)
	assert.Equal(t, 5.0, testutil.ToFloat64(GraphNodes))
	assert.Equal(t, 4.0, testutil.ToFloat64(GraphEdges))
}

func TestRecordDataErrors(t *testing.T) {
	before := testutil.ToFloat64(DataErrorsTotal.WithLabelValues("ingest"))
	RecordDataErrors("ingest", 2)
	RecordDataErrors("ingest", 0)
	assert.Equal(t, before+2, testutil.ToFloat64(DataErrorsTotal.WithLabelValues("ingest")))
}

func TestRecordFetchOutcome(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		success bool
		label   string
	}{
		{name: "feed success", kind: "feed", success: true, label: "success"},
		{name: "entry failure", kind: "entry", success: false, label: "failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FetchOutcomesTotal.WithLabelValues(tt.kind, tt.label)
			before := testutil.ToFloat64(c)
			RecordFetchOutcome(tt.kind, tt.success)
			assert.Equal(t, before+1, testutil.ToFloat64(c))
		})
	}
}

func TestUpdateQueueDepth(t *testing.T) {
	UpdateQueueDepth(3, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(SchedulerQueueDepth.WithLabelValues("feed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(SchedulerQueueDepth.WithLabelValues("entry")))
}

func TestRecordersDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRankPass("converged", 12, 3*time.Millisecond)
		RecordRecompute("published", time.Second)
		RecordConsistencyViolation("symmetry")
		RecordFeedTransition("active", "pruned")
		UpdateFeedsByState(map[string]int{"active": 2, "pruned": 1})
	})
}

func histogramOf(t *testing.T, h interface {
	Write(*io_prometheus_client.Metric) error
}) *io_prometheus_client.Histogram {
	t.Helper()
	metric := &io_prometheus_client.Metric{}
	require.NoError(t, h.Write(metric))
	return metric.GetHistogram()
}

func TestRecordRankPass_Histograms(t *testing.T) {
	before := histogramOf(t, RankIterations)
	RecordRankPass("approximate", 40, 12*time.Millisecond)
	after := histogramOf(t, RankIterations)

	assert.Equal(t, before.GetSampleCount()+1, after.GetSampleCount())
	assert.InDelta(t, before.GetSampleSum()+40, after.GetSampleSum(), 1e-9)

	// 40 iterations lands in the "le 50" bucket and every bucket above it.
	for i, b := range after.GetBucket() {
		want := before.GetBucket()[i].GetCumulativeCount()
		if b.GetUpperBound() >= 50 {
			want++
		}
		assert.Equal(t, want, b.GetCumulativeCount(), "le %v", b.GetUpperBound())
	}
}
