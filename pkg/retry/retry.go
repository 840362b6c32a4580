package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 200 * time.Millisecond
	defaultMultiplier   = 2.0
	defaultJitterMin    = 0.8
	defaultJitterMax    = 1.2
	defaultMaxDelay     = 5 * time.Second
)

// Policy describes bounded exponential backoff with jitter.
type Policy struct {
	// MaxAttempts counts the first call; 1 disables retries.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// JitterMin and JitterMax bound the random factor applied to every delay.
	JitterMin float64
	JitterMax float64
	MaxDelay  time.Duration
	// AttemptTimeout bounds each individual call when positive.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used when callers do not configure one.
func DefaultPolicy() Policy {
	return Policy{}.WithDefaults()
}

// WithDefaults fills zero fields with defaults.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.JitterMin <= 0 && p.JitterMax <= 0 {
		p.JitterMin, p.JitterMax = defaultJitterMin, defaultJitterMax
	}
	if p.JitterMin <= 0 {
		p.JitterMin = p.JitterMax
	}
	if p.JitterMax < p.JitterMin {
		p.JitterMax = p.JitterMin
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Delay returns the wait before retry n (n >= 1): InitialDelay × Multiplier^(n-1) × jitter,
// capped at MaxDelay.
func (p Policy) Delay(n int, jitter float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1)) * jitter
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retrier executes operations under a Policy.
type Retrier struct {
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max float64) float64
}

// Option customises a Retrier.
type Option func(*Retrier)

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithJitter replaces the jitter source.
func WithJitter(jitter func(min, max float64) float64) Option {
	return func(r *Retrier) {
		if jitter != nil {
			r.jitter = jitter
		}
	}
}

// New constructs a Retrier with defaults applied to the policy.
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy.WithDefaults(),
		sleep:  sleepContext,
		jitter: uniformJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, fails with a non-transient error, or exhausts MaxAttempts.
// The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		attemptTimedOut, err := r.call(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if !attemptTimedOut && !IsTransient(err) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(attempt, r.jitter(r.policy.JitterMin, r.policy.JitterMax))
		logx.WithContext(ctx).Infof("retry: %s attempt=%d/%d delay=%s err=%v",
			label, attempt+1, r.policy.MaxAttempts, delay, err)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (r *Retrier) call(ctx context.Context, op func(ctx context.Context) error) (bool, error) {
	if r.policy.AttemptTimeout <= 0 {
		return false, op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	err := op(attemptCtx)
	timedOut := err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	return timedOut, err
}

// Do is a convenience wrapper building a one-off Retrier.
func Do(ctx context.Context, policy Policy, label string, op func(ctx context.Context) error) error {
	return New(policy).Do(ctx, label, op)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uniformJitter(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rand.Float64()*(max-min)
}
