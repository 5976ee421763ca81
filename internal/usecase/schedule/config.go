package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// Config holds the refresh-estimation, priority and pruning parameters.
type Config struct {
	// Alpha is the EWMA weight of the newest inter-publication observation.
	Alpha float64
	// DefaultInterval is assumed for active feeds before the first estimate.
	DefaultInterval time.Duration
	// MinInterval and MaxInterval clamp the effective refresh interval.
	// MaxInterval also guarantees low-quality feeds are still polled.
	MinInterval time.Duration
	MaxInterval time.Duration
	// QualityWeight scales the priority and interval boost from feed quality.
	QualityWeight float64

	// ProbeInterval and ProbePriorityCap govern ephemeral feeds.
	ProbeInterval    time.Duration
	ProbePriorityCap float64

	// BaseThreshold is the prune threshold of a feed with no consistency bonus.
	BaseThreshold float64
	// MaxConsistencyBonus is the bonus of a perfectly consistent feed.
	MaxConsistencyBonus float64
	// VarianceScale is the variance at which the bonus halves.
	VarianceScale float64
	// HistorySize is the number of recent epoch scores kept per feed.
	HistorySize int
	// MinHistory is the number of epochs needed before a bonus applies.
	MinHistory int
	// PruneAfterEpochs is the number of consecutive failing epochs that prunes.
	PruneAfterEpochs int

	// PromotionMargin is added to BaseThreshold for ephemeral promotion.
	PromotionMargin float64
	// MinEntriesForEstimate is the entry count an ephemeral feed needs
	// before its score is trusted.
	MinEntriesForEstimate int
	// EphemeralMaxProbes prunes an ephemeral feed that is still short of
	// MinEntriesForEstimate after this many fetches. Zero disables it.
	EphemeralMaxProbes int

	// EntryRetryBackoff is the first retry delay for a failed entry fetch;
	// it doubles per attempt.
	EntryRetryBackoff time.Duration
	// EntryMaxAttempts drops an entry fetch after this many failures.
	EntryMaxAttempts int
}

// DefaultConfig returns the scheduler defaults. Ranking scores are shares
// of a unit mass, so thresholds are small: by default a feed is pruned once
// its score stays negative (net disliked), and an ephemeral feed needs a
// small positive score to be promoted.
func DefaultConfig() Config {
	return Config{
		Alpha:                 0.3,
		DefaultInterval:       time.Hour,
		MinInterval:           5 * time.Minute,
		MaxInterval:           7 * 24 * time.Hour,
		QualityWeight:         1.0,
		ProbeInterval:         6 * time.Hour,
		ProbePriorityCap:      0.5,
		BaseThreshold:         0,
		MaxConsistencyBonus:   0.01,
		VarianceScale:         1e-4,
		HistorySize:           10,
		MinHistory:            3,
		PruneAfterEpochs:      3,
		PromotionMargin:       0.001,
		MinEntriesForEstimate: 5,
		EphemeralMaxProbes:    8,
		EntryRetryBackoff:     time.Minute,
		EntryMaxAttempts:      5,
	}
}

// Validate returns a *entity.ConfigurationError for out-of-range parameters.
func (c Config) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &entity.ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
	}
	switch {
	case math.IsNaN(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1:
		return bad("alpha", "must be in (0,1], got %v", c.Alpha)
	case c.MinInterval <= 0:
		return bad("min_interval", "must be positive, got %s", c.MinInterval)
	case c.MaxInterval < c.MinInterval:
		return bad("max_interval", "must be at least min_interval, got %s", c.MaxInterval)
	case c.DefaultInterval <= 0:
		return bad("default_interval", "must be positive, got %s", c.DefaultInterval)
	case c.ProbeInterval <= 0:
		return bad("probe_interval", "must be positive, got %s", c.ProbeInterval)
	case !(c.ProbePriorityCap > 0):
		return bad("probe_priority_cap", "must be positive, got %v", c.ProbePriorityCap)
	case !(c.QualityWeight >= 0):
		return bad("quality_weight", "must not be negative, got %v", c.QualityWeight)
	case !(c.MaxConsistencyBonus >= 0):
		return bad("max_consistency_bonus", "must not be negative, got %v", c.MaxConsistencyBonus)
	case !(c.VarianceScale > 0):
		return bad("variance_scale", "must be positive, got %v", c.VarianceScale)
	case !(c.PromotionMargin >= 0):
		return bad("promotion_margin", "must not be negative, got %v", c.PromotionMargin)
	case math.IsNaN(c.BaseThreshold):
		return bad("base_threshold", "must be a number")
	case c.HistorySize <= 0:
		return bad("history_size", "must be positive, got %d", c.HistorySize)
	case c.MinHistory < 0 || c.MinHistory > c.HistorySize:
		return bad("min_history", "must be in [0,history_size], got %d", c.MinHistory)
	case c.PruneAfterEpochs <= 0:
		return bad("prune_after_epochs", "must be positive, got %d", c.PruneAfterEpochs)
	case c.MinEntriesForEstimate < 0:
		return bad("min_entries_for_estimate", "must not be negative, got %d", c.MinEntriesForEstimate)
	case c.EphemeralMaxProbes < 0:
		return bad("ephemeral_max_probes", "must not be negative, got %d", c.EphemeralMaxProbes)
	case c.EntryRetryBackoff <= 0:
		return bad("entry_retry_backoff", "must be positive, got %s", c.EntryRetryBackoff)
	case c.EntryMaxAttempts <= 0:
		return bad("entry_max_attempts", "must be positive, got %d", c.EntryMaxAttempts)
	}
	return nil
}
