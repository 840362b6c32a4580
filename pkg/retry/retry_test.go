package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Transient() bool { return e.code == 429 || e.code >= 500 }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func recordingSleeper(delays *[]time.Duration) Option {
	return WithSleeper(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	})
}

func fixedJitter(v float64) Option {
	return WithJitter(func(_, _ float64) float64 { return v })
}

func TestRetrierDo(t *testing.T) {
	policy := Policy{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Minute}

	t.Run("retries transient errors until success", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		r := New(policy, recordingSleeper(&delays), fixedJitter(1))
		err := r.Do(context.Background(), "quote", func(context.Context) error {
			calls++
			if calls < 3 {
				return Transient("fetch", errors.New("connection reset"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
	})

	t.Run("returns original error after exhausting attempts", func(t *testing.T) {
		var delays []time.Duration
		want := statusErr{code: 503}
		calls := 0
		r := New(policy, recordingSleeper(&delays), fixedJitter(1))
		err := r.Do(context.Background(), "quote", func(context.Context) error {
			calls++
			return want
		})
		assert.Equal(t, want, err)
		assert.Equal(t, 4, calls)
		assert.Len(t, delays, 3)
	})

	t.Run("non-transient error propagates immediately", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		want := errors.New("missing column close")
		r := New(policy, recordingSleeper(&delays))
		err := r.Do(context.Background(), "quote", func(context.Context) error {
			calls++
			return want
		})
		assert.Same(t, want, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, delays)
	})

	t.Run("attempt timeout is retried", func(t *testing.T) {
		calls := 0
		r := New(Policy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond}, WithSleeper(func(context.Context, time.Duration) error { return nil }))
		err := r.Do(context.Background(), "slow", func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 2, calls)
	})

	t.Run("caller cancellation during backoff returns last error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		want := Transient("fetch", errors.New("rate limited"))
		r := New(policy, WithSleeper(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}))
		err := r.Do(ctx, "quote", func(context.Context) error { return want })
		assert.Same(t, want, err)
	})
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 3, MaxDelay: 20 * time.Second}.WithDefaults()
	assert.Equal(t, time.Second, p.Delay(1, 1))
	assert.Equal(t, 3*time.Second, p.Delay(2, 1))
	assert.Equal(t, 9*time.Second, p.Delay(3, 1))
	assert.Equal(t, 20*time.Second, p.Delay(4, 1))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(1, 1.5))
}

func TestJitterDrawnPerAttempt(t *testing.T) {
	var jitters []float64
	var delays []time.Duration
	next := []float64{0.5, 1.5}
	r := New(Policy{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, Multiplier: 2, JitterMin: 0.5, JitterMax: 1.5},
		recordingSleeper(&delays),
		WithJitter(func(min, max float64) float64 {
			v := next[len(jitters)]
			jitters = append(jitters, v)
			assert.Equal(t, 0.5, min)
			assert.Equal(t, 1.5, max)
			return v
		}))
	_ = r.Do(context.Background(), "jitter", func(context.Context) error { return Transient("x", errors.New("boom")) })
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 300 * time.Millisecond}, delays)

	for i := 0; i < 100; i++ {
		v := uniformJitter(0.8, 1.2)
		require.GreaterOrEqual(t, v, 0.8)
		require.Less(t, v, 1.2)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad payload"), false},
		{"wrapped transient", fmt.Errorf("sina: %w", Transient("get", errors.New("eof"))), true},
		{"rate limited status", statusErr{code: 429}, true},
		{"not found status", statusErr{code: 404}, false},
		{"net timeout", timeoutErr{}, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"permanent wins", Permanent(Transient("get", errors.New("eof"))), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("no data"), false},
		{"marked", fmt.Errorf("tencent: %w", Permanent(errors.New("truncated"))), true},
		{"not found status", statusErr{code: 404}, true},
		{"rate limited status", statusErr{code: 429}, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPermanent(tc.err))
		})
	}
}
