package ai

import (
	"context"
	"math"
	"time"
)

// jitterFraction caps the random addition at 30% of the exponential term.
const jitterFraction = 0.3

// Backoff returns the delay before attempt+1, where attempt is 0-based.
// The exponential term min(base*2^attempt, max) is never exceeded by more than 30%.
// r must be in [0, 1); values outside are clamped.
func Backoff(attempt int, base, max time.Duration, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch {
	case r < 0:
		r = 0
	case r >= 1:
		r = math.Nextafter(1, 0)
	}

	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(max) {
		exp = float64(max)
	}
	return time.Duration(exp + r*jitterFraction*exp)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
