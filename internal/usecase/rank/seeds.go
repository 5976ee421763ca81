package rank

import (
	"math"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// Decay is the recency weight of an interaction Δt old with the given
// half-life: exp(-ln2·Δt/halfLife). It never reaches zero, and interactions
// stamped in the future count as fresh.
func Decay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

// Seeds turns interaction history into signed restart weights. The sign of
// an entry's seed follows its most recent interaction; the magnitude sums
// the decayed weight of every interaction on that entry, so repeated
// signals reinforce. Invalid interactions are skipped.
func Seeds(interactions []entity.Interaction, now time.Time, halfLife time.Duration) map[int64]float64 {
	type acc struct {
		latest time.Time
		kind   entity.InteractionKind
		mag    float64
	}
	byEntry := make(map[int64]*acc)
	for _, in := range interactions {
		if in.Validate() != nil {
			continue
		}
		a := byEntry[in.EntryID]
		if a == nil {
			a = &acc{}
			byEntry[in.EntryID] = a
		}
		a.mag += Decay(now.Sub(in.At), halfLife)
		if a.latest.IsZero() || !in.At.Before(a.latest) {
			a.latest = in.At
			a.kind = in.Kind
		}
	}

	seeds := make(map[int64]float64, len(byEntry))
	for id, a := range byEntry {
		if a.mag > 0 {
			seeds[id] = a.kind.Sign() * a.mag
		}
	}
	return seeds
}
