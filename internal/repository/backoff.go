package repository

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// casBackoff spaces out compare-and-swap retries so writers colliding on one
// row do not burn every attempt in the same instant.
type casBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

var defaultCASBackoff = casBackoff{
	Initial:    2 * time.Millisecond,
	Multiplier: 2,
	Jitter:     0.5,
	Max:        50 * time.Millisecond,
}

func (b casBackoff) nextDelay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay = delay * (1 + (rng*2-1)*b.Jitter)
	}
	return time.Duration(delay)
}

// wait sleeps before retry attempt+1, returning early with ctx's error.
func (b casBackoff) wait(ctx context.Context, attempt int) error {
	if b.Initial <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(b.nextDelay(attempt, rand.Float64()))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
