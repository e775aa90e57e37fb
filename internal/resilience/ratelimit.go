package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// reservation wraps a token-bucket reservation so it can be released when the
// call resolves without reaching the backend (cache hit, open circuit,
// cancellation).
type reservation struct {
	res *rate.Reservation
}

// Cancel returns the token to the bucket.
func (r *reservation) Cancel() {
	if r != nil && r.res != nil {
		r.res.Cancel()
	}
}

// errRateLimited is a sentinel for reserve; the envelope converts it to the
// standard taxonomy with the backend attached.
type rateLimitedError struct{}

func (rateLimitedError) Error() string { return "rate limit exceeded" }

var errRateLimited = rateLimitedError{}

// reserve obtains one token from the limiter, queueing up to maxWait for the
// bucket to refill. A reservation further out than maxWait is canceled
// immediately and the call is rejected without retrying.
func reserve(ctx context.Context, limiter *rate.Limiter, maxWait time.Duration) (*reservation, error) {
	res := limiter.Reserve()
	if !res.OK() {
		return nil, errRateLimited
	}

	delay := res.Delay()
	if delay > maxWait {
		res.Cancel()
		return nil, errRateLimited
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			res.Cancel()
			return nil, ctx.Err()
		}
	}
	return &reservation{res: res}, nil
}

func newLimiter(refillPerSecond float64, capacity int) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerSecond <= 0 {
		refillPerSecond = 1
	}
	return rate.NewLimiter(rate.Limit(refillPerSecond), capacity)
}
