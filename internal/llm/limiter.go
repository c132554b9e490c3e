package llm

import (
	"context"
	"sync"
	"time"
)

// limiter enforces a sliding-window request budget with a fixed ring of
// timestamps: slot i holds when request i (mod limit) was admitted, so the
// slot about to be overwritten is always the oldest admission in the
// window.
type limiter struct {
	mu     sync.Mutex
	window time.Duration
	stamps []time.Time
	next   int

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newLimiter(limit int, window time.Duration) *limiter {
	l := &limiter{
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	if limit > 0 && window > 0 {
		l.stamps = make([]time.Time, limit)
	}
	return l
}

// wait blocks until a request may be admitted under the budget.
func (l *limiter) wait(ctx context.Context) error {
	if l == nil || len(l.stamps) == 0 {
		return ctx.Err()
	}
	for {
		l.mu.Lock()
		now := l.now()
		oldest := l.stamps[l.next]
		if oldest.IsZero() || now.Sub(oldest) >= l.window {
			l.stamps[l.next] = now
			l.next = (l.next + 1) % len(l.stamps)
			l.mu.Unlock()
			return nil
		}
		d := l.window - now.Sub(oldest)
		l.mu.Unlock()

		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}
