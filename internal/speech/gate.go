package speech

import (
	"context"
	"time"
)

// RateGate enforces a minimum gap between one conversion settling and the next one starting.
// The basis is settlement (success or failure), so it bounds the rate of completed
// conversions rather than request concurrency. It is owned by the single conversion
// worker and is not safe for concurrent use.
type RateGate struct {
	interval    time.Duration
	now         func() time.Time
	lastSettled time.Time
}

// NewRateGate creates a gate. A zero interval disables throttling.
func NewRateGate(interval time.Duration) *RateGate {
	if interval < 0 {
		interval = 0
	}
	return &RateGate{interval: interval, now: time.Now}
}

// Interval returns the configured minimum gap
func (g *RateGate) Interval() time.Duration {
	return g.interval
}

// Reserve returns how long the caller must wait before starting the next conversion
func (g *RateGate) Reserve() time.Duration {
	if g.interval == 0 || g.lastSettled.IsZero() {
		return 0
	}
	elapsed := g.now().Sub(g.lastSettled)
	if elapsed >= g.interval {
		return 0
	}
	return g.interval - elapsed
}

// Wait blocks for the reserved duration and returns how long it waited
func (g *RateGate) Wait(ctx context.Context) (time.Duration, error) {
	wait := g.Reserve()
	if wait <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wait, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Settle records that a conversion attempt just finished
func (g *RateGate) Settle() time.Time {
	g.lastSettled = g.now()
	return g.lastSettled
}
