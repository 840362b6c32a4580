package race

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
)

// Pass names the phase in which an attempt ran.
type Pass string

const (
	// PassRace is the concurrent fast pass.
	PassRace Pass = "race"
	// PassSequential is the slow fallback pass in priority order.
	PassSequential Pass = "sequential"
)

const (
	defaultMaxWorkers         = 3
	defaultRaceTimeout        = 5 * time.Second
	defaultFastAttemptTimeout = 4 * time.Second
	defaultSlowAttemptTimeout = 15 * time.Second
)

// NormalizeFunc turns a raw provider answer into a validated payload.
type NormalizeFunc func(req market.Request, raw *market.Raw) (*market.Payload, error)

// ObserveFunc receives every finished provider attempt.
type ObserveFunc func(provider string, pass Pass, elapsed time.Duration, err error)

// Config tunes the coordinator.
type Config struct {
	// MaxWorkers bounds concurrent attempts in the fast pass.
	MaxWorkers int
	// RaceTimeout is the fast-pass deadline.
	RaceTimeout time.Duration
	// FastRetry applies to each fast-pass attempt; keep it short.
	FastRetry retry.Policy
	// SlowRetry applies to each sequential attempt.
	SlowRetry retry.Policy
	// DisableSequential skips the fallback pass.
	DisableSequential bool
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.RaceTimeout <= 0 {
		c.RaceTimeout = defaultRaceTimeout
	}
	if c.FastRetry.MaxAttempts <= 0 {
		c.FastRetry.MaxAttempts = 2
	}
	if c.FastRetry.AttemptTimeout <= 0 {
		c.FastRetry.AttemptTimeout = defaultFastAttemptTimeout
	}
	if c.SlowRetry.AttemptTimeout <= 0 {
		c.SlowRetry.AttemptTimeout = defaultSlowAttemptTimeout
	}
	c.FastRetry = c.FastRetry.WithDefaults()
	c.SlowRetry = c.SlowRetry.WithDefaults()
	return c
}

// Outcome is the winning attempt of a race.
type Outcome struct {
	Payload  *market.Payload
	Source   string
	Pass     Pass
	Elapsed  time.Duration
	Failures []Failure
}

// Coordinator races providers for one request at a time. It is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	normalize NormalizeFunc
	fast      *retry.Retrier
	slow      *retry.Retrier
	observe   ObserveFunc
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithObserver installs a hook called after every attempt, from any goroutine.
func WithObserver(fn ObserveFunc) Option {
	return func(c *Coordinator) { c.observe = fn }
}

// WithRetryOptions passes options such as a fake sleeper to both retriers.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Coordinator) {
		c.fast = retry.New(c.cfg.FastRetry, opts...)
		c.slow = retry.New(c.cfg.SlowRetry, opts...)
	}
}

// New builds a Coordinator.
func New(cfg Config, normalize NormalizeFunc, opts ...Option) *Coordinator {
	cfg = cfg.WithDefaults()
	c := &Coordinator{
		cfg:       cfg,
		normalize: normalize,
		fast:      retry.New(cfg.FastRetry),
		slow:      retry.New(cfg.SlowRetry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

type attemptResult struct {
	provider string
	payload  *market.Payload
	elapsed  time.Duration
	err      error
}

// Race returns the first normalized and valid answer among attempts. The fast pass runs
// up to MaxWorkers attempts at once on a context detached from ctx, so losers are left
// to finish on their own. When the fast pass yields nothing, attempts are retried one by
// one in priority order under ctx, skipping those whose fast-pass failure was permanent.
func (c *Coordinator) Race(ctx context.Context, req market.Request, attempts []market.Attempt) (*Outcome, error) {
	if len(attempts) == 0 {
		return nil, &RaceError{Request: req}
	}
	start := time.Now()
	out, failures := c.fastPass(ctx, req, attempts)
	if out != nil {
		out.Elapsed = time.Since(start)
		out.Failures = failures
		logx.WithContext(ctx).Infof("race: %s winner=%s pass=%s elapsed=%s failures=%d",
			req.Fingerprint(), out.Source, out.Pass, out.Elapsed.Truncate(time.Millisecond), len(failures))
		return out, nil
	}
	if c.cfg.DisableSequential || ctx.Err() != nil {
		return nil, &RaceError{Request: req, Failures: failures}
	}

	logx.WithContext(ctx).Infof("race: %s fast pass failed (%d failures), trying providers sequentially",
		req.Fingerprint(), len(failures))
	settled := make(map[string]bool, len(failures))
	for _, f := range failures {
		if retry.IsPermanent(f.Err) {
			settled[f.Provider] = true
		}
	}
	for _, a := range attempts {
		if settled[a.Name] {
			continue
		}
		res := c.run(ctx, req, a, c.slow, PassSequential)
		if res.err == nil {
			out := &Outcome{
				Payload:  res.payload,
				Source:   res.provider,
				Pass:     PassSequential,
				Elapsed:  time.Since(start),
				Failures: failures,
			}
			logx.WithContext(ctx).Infof("race: %s winner=%s pass=%s elapsed=%s",
				req.Fingerprint(), out.Source, out.Pass, out.Elapsed.Truncate(time.Millisecond))
			return out, nil
		}
		failures = append(failures, Failure{Provider: a.Name, Pass: PassSequential, Err: res.err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &RaceError{Request: req, Failures: failures}
}

func (c *Coordinator) fastPass(ctx context.Context, req market.Request, attempts []market.Attempt) (*Outcome, []Failure) {
	workers := min(c.cfg.MaxWorkers, len(attempts))
	jobs := make(chan market.Attempt, len(attempts))
	for _, a := range attempts {
		jobs <- a
	}
	close(jobs)

	// Buffered so that abandoned attempts never block on send.
	results := make(chan attemptResult, len(attempts))
	done := make(chan struct{})
	defer close(done)
	detached := context.WithoutCancel(ctx)

	for i := 0; i < workers; i++ {
		threading.GoSafe(func() {
			for a := range jobs {
				select {
				case <-done:
					return
				default:
				}
				results <- c.run(detached, req, a, c.fast, PassRace)
			}
		})
	}

	timer := time.NewTimer(c.cfg.RaceTimeout)
	defer timer.Stop()

	var failures []Failure
	reported := make(map[string]bool, len(attempts))
	for received := 0; received < len(attempts); {
		select {
		case res := <-results:
			received++
			reported[res.provider] = true
			if res.err == nil {
				return &Outcome{Payload: res.payload, Source: res.provider, Pass: PassRace}, failures
			}
			failures = append(failures, Failure{Provider: res.provider, Pass: PassRace, Err: res.err})
		case <-timer.C:
			return nil, append(failures, pending(attempts, reported, ErrRaceTimeout)...)
		case <-ctx.Done():
			return nil, append(failures, pending(attempts, reported, ctx.Err())...)
		}
	}
	return nil, failures
}

func pending(attempts []market.Attempt, reported map[string]bool, err error) []Failure {
	var out []Failure
	for _, a := range attempts {
		if !reported[a.Name] {
			out = append(out, Failure{Provider: a.Name, Pass: PassRace, Err: err})
		}
	}
	return out
}

func (c *Coordinator) run(ctx context.Context, req market.Request, a market.Attempt, r *retry.Retrier, pass Pass) (res attemptResult) {
	res.provider = a.Name
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logx.WithContext(ctx).Errorf("race: provider %s panicked: %v\n%s", a.Name, p, debug.Stack())
			res.payload, res.err = nil, fmt.Errorf("provider panic: %v", p)
		}
		res.elapsed = time.Since(start)
		if res.err != nil {
			logx.WithContext(ctx).Infof("race: %s provider=%s pass=%s elapsed=%s err=%v",
				req.Fingerprint(), a.Name, pass, res.elapsed.Truncate(time.Millisecond), res.err)
		}
		if c.observe != nil {
			c.observe(a.Name, pass, res.elapsed, res.err)
		}
	}()

	label := fmt.Sprintf("%s %s", a.Name, req.Fingerprint())
	res.err = r.Do(ctx, label, func(ctx context.Context) error {
		raw, err := a.Fetch(ctx, req)
		if err != nil {
			return err
		}
		if raw == nil || len(raw.Rows) == 0 {
			return ErrEmptyResponse
		}
		if raw.Source == "" {
			raw.Source = a.Name
		}
		payload, err := c.normalize(req, raw)
		if err != nil {
			return err
		}
		res.payload = payload
		return nil
	})
	if res.err != nil {
		res.payload = nil
	}
	return res
}

// IsRaceError reports whether err is a total race failure.
func IsRaceError(err error) bool {
	var re *RaceError
	return errors.As(err, &re)
}
