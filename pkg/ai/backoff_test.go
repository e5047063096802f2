package ai

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Bounds(t *testing.T) {
	base, max := time.Second, 30*time.Second

	for a := 0; a <= 8; a++ {
		exp := time.Duration(math.Min(float64(base)*math.Pow(2, float64(a)), float64(max)))
		upper := time.Duration(float64(exp) * 1.3)

		for _, r := range []float64{0, 0.25, 0.5, 0.999999} {
			d := Backoff(a, base, max, r)
			assert.GreaterOrEqual(t, d, exp, "attempt %d r %v", a, r)
			assert.LessOrEqual(t, d, upper, "attempt %d r %v", a, r)
		}
	}
}

func TestBackoff_Schedule(t *testing.T) {
	base, max := time.Second, 30*time.Second

	assert.Equal(t, time.Second, Backoff(0, base, max, 0))
	assert.Equal(t, 2*time.Second, Backoff(1, base, max, 0))
	assert.Equal(t, 4*time.Second, Backoff(2, base, max, 0))
	assert.Equal(t, 30*time.Second, Backoff(5, base, max, 0), "32s is clipped to max")
	assert.Equal(t, 30*time.Second, Backoff(40, base, max, 0))
	assert.Equal(t, 2300*time.Millisecond, Backoff(1, base, max, 0.5))
}

func TestBackoff_NonDecreasingBase(t *testing.T) {
	prev := time.Duration(0)
	for a := 0; a < 10; a++ {
		d := Backoff(a, time.Second, 30*time.Second, 0)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoff_ClampsJitterSource(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, 30*time.Second, -1))
	assert.LessOrEqual(t, Backoff(0, time.Second, 30*time.Second, 7), 1300*time.Millisecond)
	assert.Equal(t, time.Second, Backoff(-3, time.Second, 30*time.Second, 0))
}
