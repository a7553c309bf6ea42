// Package ratelimiter throttles calls made against a backing store.
//
// The file layer derives one share link per file when it lists a folder. Some
// backing stores (MEGA in particular) answer bursts of link requests with
// temporary bans, so those derivations go through a token bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket. A nil *RateLimiter never blocks, which lets
// callers hold an optional limiter without nil checks at every call site.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting perSecond calls per second with bursts of up
// to burst calls. perSecond == 0 disables limiting. A burst of 0 is raised to 1
// so that Wait can ever succeed.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter admits every call.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}
