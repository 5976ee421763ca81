package schedule

import (
	"time"
)

// boost is the multiplicative quality boost: 1 + QualityWeight·max(q,0).
func (c Config) boost(quality float64) float64 {
	return 1 + c.QualityWeight*max(quality, 0)
}

// EffectiveInterval is the refresh interval actually used for a feed: the
// estimate shortened by the quality boost and clamped to [Min,MaxInterval].
func (c Config) EffectiveInterval(estimate time.Duration, quality float64) time.Duration {
	if estimate <= 0 {
		estimate = c.DefaultInterval
	}
	eff := time.Duration(float64(estimate) / c.boost(quality))
	return min(max(eff, c.MinInterval), c.MaxInterval)
}

// UpdateEstimate folds one fetch observation into the EWMA estimate.
//
// newEntries > 0 observes an inter-publication interval of
// sinceLast/newEntries. A fetch with nothing new observes twice the larger of
// sinceLast and the current estimate, so quiet feeds back off. A feed with
// no estimate yet adopts the observation directly.
func (c Config) UpdateEstimate(estimate, sinceLast time.Duration, newEntries int) time.Duration {
	if sinceLast <= 0 {
		return estimate
	}
	var observed float64
	if newEntries > 0 {
		observed = float64(sinceLast) / float64(newEntries)
	} else {
		observed = 2 * float64(max(sinceLast, estimate))
	}

	next := observed
	if estimate > 0 {
		next = c.Alpha*observed + (1-c.Alpha)*float64(estimate)
	}
	return min(max(time.Duration(next), c.MinInterval), c.MaxInterval)
}

// ConsistencyBonus lowers the prune threshold of feeds whose recent scores
// are stable. History with fewer than MinHistory epochs, or whose mean is
// below BaseThreshold (consistently bad), earns nothing.
func (c Config) ConsistencyBonus(history []float64) float64 {
	if len(history) == 0 || len(history) < c.MinHistory {
		return 0
	}
	mean, variance := meanVariance(history)
	if mean < c.BaseThreshold {
		return 0
	}
	return c.MaxConsistencyBonus / (1 + variance/c.VarianceScale)
}

// PruneThreshold is BaseThreshold minus the consistency bonus.
func (c Config) PruneThreshold(history []float64) float64 {
	return c.BaseThreshold - c.ConsistencyBonus(history)
}

// PromotionThreshold is the score an ephemeral feed must reach to become active.
func (c Config) PromotionThreshold() float64 {
	return c.BaseThreshold + c.PromotionMargin
}

func meanVariance(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, sq / float64(len(xs))
}
