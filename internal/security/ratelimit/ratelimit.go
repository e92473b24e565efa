// Package ratelimit implements fixed-window request counting. A window opens
// on the first request for a key and lasts until ResetAt; the first request
// strictly after ResetAt opens a new one.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// Bucket is the counter state of one key.
type Bucket struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// Store persists buckets. Increment must be atomic per key.
type Store interface {
	// Increment counts one request for key at now and returns the bucket
	// after the increment, opening a new window when none is live.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error)
	// Sweep drops buckets whose window ended before now and returns how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Decision is the outcome of one Check. A rejected request is a Decision
// with Allowed false, not an error.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Policy is a window length and the requests allowed within it.
type Policy struct {
	Window time.Duration
	Max    int
}

// Validate rejects non-positive windows and limits.
func (p Policy) Validate() error {
	if p.Window <= 0 || p.Max < 1 {
		return errors.New(errors.ErrCodeInternal, "invalid rate limit policy").
			WithDetail(p.Window.String())
	}
	return nil
}

// PolicySource yields the policy to apply now.
type PolicySource interface {
	Policy() Policy
}

// StaticPolicy is a fixed PolicySource.
type StaticPolicy Policy

// Policy returns p.
func (p StaticPolicy) Policy() Policy { return Policy(p) }

// DynamicPolicy is a PolicySource that can be replaced while serving, for
// configuration hot reload.
type DynamicPolicy struct {
	current atomic.Pointer[Policy]
}

// NewDynamicPolicy starts with p.
func NewDynamicPolicy(p Policy) *DynamicPolicy {
	d := &DynamicPolicy{}
	d.Set(p)
	return d
}

// Set replaces the policy.
func (d *DynamicPolicy) Set(p Policy) { d.current.Store(&p) }

// Policy returns the current policy.
func (d *DynamicPolicy) Policy() Policy { return *d.current.Load() }

// Limiter checks keys against a Store.
type Limiter struct {
	store Store
	clock Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// NewLimiter returns a Limiter over store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, clock: SystemClock}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the limiter's time source.
func (l *Limiter) Clock() Clock { return l.clock }

// Check counts one request for key and decides whether it is within max
// requests per window.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	p := Policy{Window: window, Max: max}
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	b, err := l.store.Increment(ctx, key, window, l.clock.Now())
	if err != nil {
		return Decision{}, errors.Wrap(err, errors.ErrCodeCacheError, "rate limit store unavailable")
	}
	remaining := max - b.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   b.Count <= max,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   b.ResetAt,
	}, nil
}
