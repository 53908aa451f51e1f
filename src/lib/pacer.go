package lib

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces remote mutating calls by a fixed delay. Callers invoke Wait
// before every call; the first call is not delayed.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer that allows one call per delay. A zero delay
// disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
