// Package backoff provides the single retry policy shared by the media
// loader's transport and the orchestrator's per-item retries.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy computes exponential backoff delays with jitter.
// The zero value is unusable; construct with New.
type Policy struct {
	MaxRetries int           // attempts after the first try
	BaseDelay  time.Duration // delay before the first retry
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     float64 // fraction of the delay randomized, in [0,1]

	rand *rand.Rand
}

// New returns the default gallery policy: 3 retries, 1s base, doubling,
// capped at 10s, 20% jitter.
func New() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
		Jitter:     0.2,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand substitutes the jitter source. Tests use a seeded source.
func (p *Policy) WithRand(r *rand.Rand) *Policy {
	p.rand = r
	return p
}

// Delay returns the backoff before retry attempt n (0-based).
// Delays are non-decreasing before jitter and never exceed MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 && p.rand != nil {
		// Jitter shifts the delay within ±Jitter/2 so the expected value
		// stays on the curve.
		span := d * p.Jitter
		d = d - span/2 + p.rand.Float64()*span
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n (0-based) is past the retry budget.
func (p *Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// Sleep waits out the delay for attempt n or returns early when the
// context is done.
func (p *Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
