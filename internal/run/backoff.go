// ABOUTME: Capped exponential backoff between run status reads
// ABOUTME: sleep waits on a timer and returns early when the context ends

package run

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// pollBackoff is an exponential backoff without jitter, so intervals are
// exactly initial, initial*m, ... capped at max.
type pollBackoff struct {
	exp *backoff.ExponentialBackOff
}

func newBackoff(initial, ceiling time.Duration, multiplier float64) *pollBackoff {
	if multiplier < 1 {
		multiplier = 1
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         ceiling,
	}
	exp.Reset()
	return &pollBackoff{exp: exp}
}

// Next returns the current interval and advances towards the cap.
func (b *pollBackoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

// Reset starts the sequence over at the initial interval.
func (b *pollBackoff) Reset() {
	b.exp.Reset()
}

// sleep blocks for d or until ctx is done. It reports whether the full
// interval elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
