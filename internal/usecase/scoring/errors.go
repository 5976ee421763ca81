// Package scoring runs recompute epochs: it ranks the similarity graph
// against the interaction history, applies tag bias, scores feeds and
// publishes the result as an immutable, versioned State.
package scoring

import "errors"

// ErrSuperseded is the cancellation cause of a recompute abandoned because
// a large interaction batch arrived while it was running.
var ErrSuperseded = errors.New("recompute superseded by new interactions")
