package race

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
	"equityfeed/pkg/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newCoordinator(cfg Config, opts ...Option) *Coordinator {
	opts = append([]Option{WithRetryOptions(retry.WithSleeper(noSleep))}, opts...)
	return New(cfg, normalize.Normalize, opts...)
}

func snapshotRow(price float64) map[string]any {
	return map[string]any{"price": price, "volume": 1200.0, "market_cap": 2.1e12}
}

func valid(name string, price float64, delay time.Duration) market.Attempt {
	return market.Attempt{Name: name, Fetch: func(ctx context.Context, _ market.Request) (*market.Raw, error) {
		select {
		case <-time.After(delay):
			return market.RecordRaw(name, snapshotRow(price)), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func hanging(name string, release <-chan struct{}) market.Attempt {
	return market.Attempt{Name: name, Fetch: func(ctx context.Context, _ market.Request) (*market.Raw, error) {
		select {
		case <-release:
			return nil, errors.New("released")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func failing(name string, err error, calls *atomic.Int32) market.Attempt {
	return market.Attempt{Name: name, Fetch: func(context.Context, market.Request) (*market.Raw, error) {
		if calls != nil {
			calls.Add(1)
		}
		return nil, err
	}}
}

func TestRaceFirstValidWins(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newCoordinator(Config{MaxWorkers: 3, RaceTimeout: 2 * time.Second})

	start := time.Now()
	out, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		hanging("a", release),
		valid("b", 1700, 50*time.Millisecond),
		hanging("c", release),
	})
	require.NoError(t, err)
	assert.Equal(t, "b", out.Source)
	assert.Equal(t, PassRace, out.Pass)
	assert.Equal(t, 1700.0, out.Payload.Record.Value(market.FieldPrice))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "losers are not awaited")
}

func TestRaceSchemaErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	bad := market.Attempt{Name: "nocap", Fetch: func(context.Context, market.Request) (*market.Raw, error) {
		calls.Add(1)
		return market.RecordRaw("nocap", map[string]any{"price": 10.0, "volume": 5.0}), nil
	}}
	c := newCoordinator(Config{MaxWorkers: 2, RaceTimeout: time.Second, DisableSequential: true})

	out, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		bad,
		valid("good", 12, 20*time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, "good", out.Source)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Failures[0].Err, normalize.ErrSchema)
}

func TestRaceSequentialPassSkipsSchemaFailures(t *testing.T) {
	var badCalls, downCalls atomic.Int32
	bad := market.Attempt{Name: "nocap", Fetch: func(context.Context, market.Request) (*market.Raw, error) {
		badCalls.Add(1)
		return market.RecordRaw("nocap", map[string]any{"price": 10.0, "volume": 5.0}), nil
	}}
	c := newCoordinator(Config{MaxWorkers: 2, RaceTimeout: time.Second})

	_, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		bad,
		failing("down", errors.New("bad gateway"), &downCalls),
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), badCalls.Load(), "schema mismatch is not retried sequentially")
	assert.Equal(t, int32(2), downCalls.Load())

	var re *RaceError
	require.True(t, errors.As(err, &re))
	require.Len(t, re.Failures, 3)
	for _, f := range re.Failures {
		if f.Pass == PassSequential {
			assert.Equal(t, "down", f.Provider)
		}
	}
}

func TestRaceTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	flaky := market.Attempt{Name: "flaky", Fetch: func(context.Context, market.Request) (*market.Raw, error) {
		if calls.Add(1) == 1 {
			return nil, retry.Transient("fetch", errors.New("connection reset"))
		}
		return market.RecordRaw("flaky", snapshotRow(9)), nil
	}}
	c := newCoordinator(Config{FastRetry: retry.Policy{MaxAttempts: 2}})

	out, err := c.Race(context.Background(), market.SnapshotRequest("000001"), []market.Attempt{flaky})
	require.NoError(t, err)
	assert.Equal(t, PassRace, out.Pass)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRaceFallsBackToSequentialPass(t *testing.T) {
	var calls atomic.Int32
	slowFirst := market.Attempt{Name: "slow", Fetch: func(ctx context.Context, _ market.Request) (*market.Raw, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return market.RecordRaw("slow", snapshotRow(20)), nil
	}}
	c := newCoordinator(Config{
		RaceTimeout: 50 * time.Millisecond,
		FastRetry:   retry.Policy{MaxAttempts: 1, AttemptTimeout: 200 * time.Millisecond},
	})

	out, err := c.Race(context.Background(), market.SnapshotRequest("300750"), []market.Attempt{
		failing("down", errors.New("boom"), nil),
		slowFirst,
	})
	require.NoError(t, err)
	assert.Equal(t, "slow", out.Source)
	assert.Equal(t, PassSequential, out.Pass)

	var timedOut bool
	for _, f := range out.Failures {
		if f.Provider == "slow" && errors.Is(f.Err, ErrRaceTimeout) {
			timedOut = true
		}
	}
	assert.True(t, timedOut, "in-flight attempt reported as timed out: %v", Reasons(out.Failures))
}

func TestRaceTotalFailure(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	c := newCoordinator(Config{})

	_, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		failing("a", errors.New("no data"), &aCalls),
		failing("b", errors.New("bad gateway"), &bCalls),
	})
	require.Error(t, err)
	var re *RaceError
	require.True(t, errors.As(err, &re))
	assert.True(t, IsRaceError(err))
	require.Len(t, re.Failures, 4)
	assert.Equal(t, PassSequential, re.Failures[3].Pass)
	assert.Equal(t, int32(2), aCalls.Load(), "one call per pass for non-transient errors")
	assert.Equal(t, int32(2), bCalls.Load())
	assert.Contains(t, err.Error(), "a (race): no data")
}

func TestRaceNoProviders(t *testing.T) {
	c := newCoordinator(Config{})
	_, err := c.Race(context.Background(), market.DirectoryRequest(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers")
}

func TestRacePanicIsAFailure(t *testing.T) {
	boom := market.Attempt{Name: "boom", Fetch: func(context.Context, market.Request) (*market.Raw, error) {
		panic("nil map")
	}}
	c := newCoordinator(Config{DisableSequential: true})
	out, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		boom,
		valid("ok", 3, 30*time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Source)
}

func TestRaceBoundsWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	slow := func(name string) market.Attempt {
		return market.Attempt{Name: name, Fetch: func(context.Context, market.Request) (*market.Raw, error) {
			n := inFlight.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil, errors.New("nope")
		}}
	}
	c := newCoordinator(Config{MaxWorkers: 2, DisableSequential: true})
	_, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		slow("a"), slow("b"), slow("c"), slow("d"), slow("e"),
	})
	require.Error(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRaceObserver(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	c := newCoordinator(Config{DisableSequential: true}, WithObserver(func(provider string, _ Pass, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen[provider] = err == nil
	}))
	_, err := c.Race(context.Background(), market.SnapshotRequest("600519"), []market.Attempt{
		valid("only", 5, 0),
	})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["only"])
}

func TestRaceHonoursCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := newCoordinator(Config{RaceTimeout: 5 * time.Second})

	start := time.Now()
	_, err := c.Race(ctx, market.SnapshotRequest("600519"), []market.Attempt{hanging("a", release)})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
