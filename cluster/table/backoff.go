package table

import (
	"math/rand"
	"time"
)

// Backoff grows exponentially from Initial up to Max. Each wait is drawn
// from the upper half of the current step.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) Duration(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}

	step := b.Initial
	for i := 1; i < attempt && step < b.Max; i++ {
		step *= 2
	}
	if b.Max > 0 && step > b.Max {
		step = b.Max
	}

	half := step / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
