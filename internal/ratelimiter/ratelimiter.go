// Package ratelimiter throttles connection admission.
//
// The reactor consults an AcceptLimiter for every accepted socket; a denied
// socket receives the busy message and is closed before it reaches the
// connection table.
package ratelimiter

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// AcceptLimiter is a token bucket over accepted connections.
//
// A limiter built with a zero rate admits everything. A nil *AcceptLimiter
// behaves the same way, so callers can skip the nil check.
//
// Thread safety:
// All methods are safe for concurrent use.
type AcceptLimiter struct {
	limiter *rate.Limiter
	denied  atomic.Uint64
}

// New creates an AcceptLimiter admitting perSecond connections on average
// with bursts of up to burst connections.
//
// Special cases:
//   - perSecond = 0: unlimited
//   - burst = 0 with a non-zero rate: burst defaults to perSecond
func New(perSecond, burst uint) *AcceptLimiter {
	if perSecond == 0 {
		return &AcceptLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = perSecond
	}
	return &AcceptLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Admit consumes one token and reports whether the connection may proceed.
// Never blocks; the reactor thread cannot wait for tokens.
func (a *AcceptLimiter) Admit() bool {
	if a == nil {
		return true
	}
	if a.limiter.Allow() {
		return true
	}
	a.denied.Add(1)
	return false
}

// Denied returns how many connections Admit has refused so far.
func (a *AcceptLimiter) Denied() uint64 {
	if a == nil {
		return 0
	}
	return a.denied.Load()
}

// Unlimited reports whether the limiter admits every connection.
func (a *AcceptLimiter) Unlimited() bool {
	return a == nil || a.limiter.Limit() == rate.Inf
}
