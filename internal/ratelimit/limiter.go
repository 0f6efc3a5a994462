// Package ratelimit implements the advisory per-source request budget: a
// trailing one-minute window plus exponential backoff after upstream
// rate-limit rejections.
package ratelimit

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Window is the trailing interval the per-minute budget applies to.
const Window = time.Minute

// Policy configures one source's budget.
type Policy struct {
	PerMinute int           // attempts allowed per trailing minute; <= 0 disables the window check
	BaseDelay time.Duration // backoff after the first rejection
	MaxDelay  time.Duration // backoff cap
}

// Limiter tracks recent attempts and backoff for one data source. It is not
// safe for concurrent use; it is owned by a single scheduler on the event loop.
type Limiter struct {
	policy Policy
	clock  clockwork.Clock

	recent              []time.Time // ascending
	backoffUntil        time.Time
	consecutiveFailures int
}

// New creates a Limiter for the given policy.
func New(policy Policy, clock clockwork.Clock) *Limiter {
	return &Limiter{policy: policy, clock: clock}
}

// CanProceed reports whether a request may be issued now: not in backoff and
// under the per-minute budget.
func (l *Limiter) CanProceed() bool {
	now := l.clock.Now()
	l.prune(now)
	if now.Before(l.backoffUntil) {
		return false
	}
	if l.policy.PerMinute > 0 && len(l.recent) >= l.policy.PerMinute {
		return false
	}
	return true
}

// RecordAttempt notes a request about to be issued.
func (l *Limiter) RecordAttempt() {
	now := l.clock.Now()
	l.prune(now)
	l.recent = append(l.recent, now)
}

// RecordRateLimited registers an upstream rejection and extends the backoff.
// It returns the backoff applied.
func (l *Limiter) RecordRateLimited() time.Duration {
	l.consecutiveFailures++
	d := Backoff(l.policy.BaseDelay, l.policy.MaxDelay, l.consecutiveFailures)
	l.backoffUntil = l.clock.Now().Add(d)
	return d
}

// RecordSuccess resets the consecutive failure count. An active backoff
// window is left to expire on its own.
func (l *Limiter) RecordSuccess() {
	l.consecutiveFailures = 0
}

// BackoffUntil returns the end of the current backoff, zero if none was applied.
func (l *Limiter) BackoffUntil() time.Time { return l.backoffUntil }

// ConsecutiveFailures returns the number of rejections since the last success.
func (l *Limiter) ConsecutiveFailures() int { return l.consecutiveFailures }

// RecentAttempts returns the number of attempts in the trailing window.
func (l *Limiter) RecentAttempts() int {
	l.prune(l.clock.Now())
	return len(l.recent)
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(l.recent) && !l.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.recent = append(l.recent[:0], l.recent[i:]...)
	}
}

// Backoff returns min(base * 2^(n-1), maxDelay) for the nth consecutive
// rejection. n < 1 yields zero. Without a cap the delay saturates at the
// largest Duration.
func Backoff(base, maxDelay time.Duration, n int) time.Duration {
	if n < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
