package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter enforces a per-host token-bucket rate limit shared by all
// tasks in a run. Acquiring a token is a cooperative wait, never a spin.
type HostLimiter struct {
	// mu protects the limiters map.
	mu sync.Mutex
	// limiters maps host to its token bucket.
	limiters map[string]*rate.Limiter
	// rps is the sustained request rate allowed per host (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per host.
	burst int
}

// NewHostLimiter constructs a HostLimiter allowing rps requests/second per
// host. Burst defaults to max(1, ceil(rps)) so a fresh host can start
// immediately without overshooting the sustained rate.
func NewHostLimiter(rps float64) *HostLimiter {
	burst := int(rps)
	if float64(burst) < rps {
		burst++
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until a token is available for host or ctx is done.
func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	return hl.limiter(host).Wait(ctx)
}

// limiter returns the token bucket for host, creating one if needed.
func (hl *HostLimiter) limiter(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	l, ok := hl.limiters[host]
	if !ok {
		l = rate.NewLimiter(hl.rps, hl.burst)
		hl.limiters[host] = l
	}
	return l
}
