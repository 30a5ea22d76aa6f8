package room

import (
	"time"

	"golang.org/x/time/rate"
)

// newInboundLimiter builds a token bucket that admits burst messages per
// interval. It returns nil (unlimited) when burst is not positive.
func newInboundLimiter(burst int, interval time.Duration) *rate.Limiter {
	if burst <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}

	limit := rate.Limit(float64(burst) / interval.Seconds())
	if limit <= 0 {
		limit = rate.Limit(burst)
	}
	return rate.NewLimiter(limit, burst)
}
