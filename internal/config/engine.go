package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	pkgconfig "github.com/dysthesis/sift/internal/pkg/config"
	"github.com/dysthesis/sift/internal/usecase/bias"
	"github.com/dysthesis/sift/internal/usecase/scoring"
	"github.com/dysthesis/sift/internal/usecase/schedule"
)

// EngineConfig holds every tunable of the scoring and scheduling core.
//
// Unlike process settings, engine tunables fail closed: a value that does
// not parse or is out of range is a *entity.ConfigurationError and the
// worker refuses to start.
type EngineConfig struct {
	Scoring      scoring.Config
	Schedule     schedule.Config
	FeedTopK     int
	TrimFraction float64
}

// LoadEngineConfig reads SIFT_* variables over the defaults and validates
// the result.
func LoadEngineConfig() (*EngineConfig, error) {
	r := &envReader{}
	dim := r.int("SIFT_EMBEDDING_DIM", 256)

	sc := scoring.DefaultConfig(dim)
	sc.Graph.K = r.int("SIFT_KNN_K", sc.Graph.K)
	sc.Graph.Shards = r.int("SIFT_GRAPH_SHARDS", sc.Graph.Shards)
	sc.Rank.Damping = r.float("SIFT_DAMPING", sc.Rank.Damping)
	sc.Rank.Tolerance = r.float("SIFT_TOLERANCE", sc.Rank.Tolerance)
	sc.Rank.MaxIterations = r.int("SIFT_MAX_ITERATIONS", sc.Rank.MaxIterations)
	sc.Rank.WarmStart = r.bool("SIFT_WARM_START", sc.Rank.WarmStart)
	sc.HalfLife = r.duration("SIFT_HALF_LIFE", sc.HalfLife)
	sc.InteractionWindow = r.duration("SIFT_INTERACTION_WINDOW", sc.InteractionWindow)
	sc.CancelThreshold = r.int("SIFT_CANCEL_THRESHOLD", sc.CancelThreshold)

	sd := schedule.DefaultConfig()
	sd.Alpha = r.float("SIFT_ALPHA", sd.Alpha)
	sd.DefaultInterval = r.duration("SIFT_DEFAULT_INTERVAL", sd.DefaultInterval)
	sd.MinInterval = r.duration("SIFT_MIN_INTERVAL", sd.MinInterval)
	sd.MaxInterval = r.duration("SIFT_MAX_INTERVAL", sd.MaxInterval)
	sd.QualityWeight = r.float("SIFT_QUALITY_WEIGHT", sd.QualityWeight)
	sd.ProbeInterval = r.duration("SIFT_PROBE_INTERVAL", sd.ProbeInterval)
	sd.ProbePriorityCap = r.float("SIFT_PROBE_PRIORITY_CAP", sd.ProbePriorityCap)
	sd.BaseThreshold = r.float("SIFT_BASE_THRESHOLD", sd.BaseThreshold)
	sd.MaxConsistencyBonus = r.float("SIFT_MAX_CONSISTENCY_BONUS", sd.MaxConsistencyBonus)
	sd.VarianceScale = r.float("SIFT_VARIANCE_SCALE", sd.VarianceScale)
	sd.HistorySize = r.int("SIFT_HISTORY_SIZE", sd.HistorySize)
	sd.MinHistory = r.int("SIFT_MIN_HISTORY", sd.MinHistory)
	sd.PruneAfterEpochs = r.int("SIFT_PRUNE_AFTER_EPOCHS", sd.PruneAfterEpochs)
	sd.PromotionMargin = r.float("SIFT_PROMOTION_MARGIN", sd.PromotionMargin)
	sd.MinEntriesForEstimate = r.int("SIFT_MIN_ENTRIES_FOR_ESTIMATE", sd.MinEntriesForEstimate)
	sd.EphemeralMaxProbes = r.int("SIFT_EPHEMERAL_MAX_PROBES", sd.EphemeralMaxProbes)
	sd.EntryRetryBackoff = r.duration("SIFT_ENTRY_RETRY_BACKOFF", sd.EntryRetryBackoff)
	sd.EntryMaxAttempts = r.int("SIFT_ENTRY_MAX_ATTEMPTS", sd.EntryMaxAttempts)

	cfg := &EngineConfig{
		Scoring:      sc,
		Schedule:     sd,
		FeedTopK:     r.int("SIFT_FEED_TOP_K", bias.DefaultFeedTopK),
		TrimFraction: r.float("SIFT_TRIM_FRACTION", bias.DefaultTrimFraction),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs every component's own validation.
func (c *EngineConfig) Validate() error {
	checks := []func() error{
		c.Scoring.Graph.Validate,
		c.Scoring.Rank.Validate,
		c.Scoring.Validate,
		c.Schedule.Validate,
		func() error {
			_, err := bias.New(nil, c.BiasOptions()...)
			return err
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("invalid engine configuration: %w", err)
		}
	}
	return nil
}

// BiasOptions returns the feed-scoring options for bias.New.
func (c *EngineConfig) BiasOptions() []bias.Option {
	return []bias.Option{bias.WithFeedTopK(c.FeedTopK), bias.WithTrimFraction(c.TrimFraction)}
}

// envReader parses variables strictly and keeps the first failure.
type envReader struct {
	err error
}

func (r *envReader) raw(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (r *envReader) fail(key, v, want string) {
	r.err = &entity.ConfigurationError{Field: key, Message: fmt.Sprintf("%q is not %s", v, want)}
}

func (r *envReader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "an integer")
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := pkgconfig.ParseFloat(v)
	if err != nil {
		r.fail(key, v, "a finite number")
		return def
	}
	return f
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, "a duration")
		return def
	}
	return d
}

func (r *envReader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "a boolean")
		return def
	}
	return b
}
