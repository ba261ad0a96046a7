package fetch

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HostLimiter enforces a minimum delay between requests to the same host.
// One limiter is shared by every fetch worker so concurrency never
// multiplies pressure on a single site.
type HostLimiter struct {
	defaultDelay time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

// NewHostLimiter creates a limiter with the given default per-host delay.
func NewHostLimiter(defaultDelay time.Duration) *HostLimiter {
	return &HostLimiter{
		defaultDelay: defaultDelay,
		next:         make(map[string]time.Time),
	}
}

// Wait blocks until the host's slot opens, then reserves the next slot
// with ±20% jitter applied to delay. A zero delay uses the default.
// Returns early with the context error on cancellation.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string, delay time.Duration) error {
	if delay <= 0 {
		delay = l.defaultDelay
	}
	host := hostOf(rawURL)

	l.mu.Lock()
	now := time.Now()
	at, ok := l.next[host]
	if !ok || at.Before(now) {
		at = now
	}
	l.next[host] = at.Add(jittered(delay))
	l.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
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

// jittered returns d ±20%.
func jittered(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
