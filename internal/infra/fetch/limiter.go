package fetch

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between calls. It is the explicit
// version of the fixed inter-page sleeps polite scrapers rely on: page
// delays hold whether requests come from one pass or overlapping ones.
type Limiter struct {
	min  time.Duration
	mu   sync.Mutex
	next time.Time
}

// NewLimiter creates a limiter; min <= 0 disables it.
func NewLimiter(min time.Duration) *Limiter {
	return &Limiter{min: min}
}

// Wait blocks until the caller may proceed or ctx is done. Slots are handed
// out in arrival order; each caller books the next interval before sleeping
// so concurrent waiters cannot collapse onto the same slot.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.min <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	wait := l.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	l.next = now.Add(wait + l.min)
	l.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
