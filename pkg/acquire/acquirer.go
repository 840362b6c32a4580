package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"equityfeed/pkg/cache"
	"equityfeed/pkg/market"
	"equityfeed/pkg/race"
)

const (
	defaultRequestTimeout = 20 * time.Second
	defaultBatchWidth     = 5
)

// Result is what callers receive: data, possibly stale, plus where it came from.
type Result struct {
	Request   market.Request  `json:"request"`
	Payload   *market.Payload `json:"payload"`
	Stale     bool            `json:"stale"`
	Cached    bool            `json:"cached"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
	// Reasons lists provider failures met while producing this result.
	Reasons []string `json:"reasons,omitempty"`
}

// Acquirer is the request-level API: cache check, provider race, cache populate and
// stale fallback.
type Acquirer struct {
	store    *cache.Store
	guardian *cache.Guardian
	registry *market.Registry
	racer    *race.Coordinator
	persist  market.Persistence

	ttl        cache.TTLSet
	timeout    time.Duration
	batchWidth int
	now        func() time.Time

	flight singleflight.Group
}

// Option customises an Acquirer.
type Option func(*Acquirer)

// WithGuardian enables the maintenance operations.
func WithGuardian(g *cache.Guardian) Option {
	return func(a *Acquirer) { a.guardian = g }
}

// WithPersistence installs a hook that receives every freshly fetched payload.
func WithPersistence(p market.Persistence) Option {
	return func(a *Acquirer) { a.persist = p }
}

// WithTTL overrides per-kind cache lifetimes.
func WithTTL(ttl cache.TTLSet) Option {
	return func(a *Acquirer) { a.ttl = ttl }
}

// WithRequestTimeout sets the ceiling for one acquisition.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithBatchWidth bounds AcquireBatch concurrency.
func WithBatchWidth(n int) Option {
	return func(a *Acquirer) {
		if n > 0 {
			a.batchWidth = n
		}
	}
}

// WithClock overrides the time source used to resolve default history windows.
func WithClock(now func() time.Time) Option {
	return func(a *Acquirer) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Acquirer.
func New(store *cache.Store, registry *market.Registry, racer *race.Coordinator, opts ...Option) *Acquirer {
	a := &Acquirer{
		store:      store,
		registry:   registry,
		racer:      racer,
		ttl:        cache.DefaultTTLSet(),
		timeout:    defaultRequestTimeout,
		batchWidth: defaultBatchWidth,
		now:        store.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Store exposes the underlying cache.
func (a *Acquirer) Store() *cache.Store { return a.store }

// Acquire returns data for req. A fresh cache entry is returned without contacting
// providers; otherwise providers are raced and the cache populated. When every provider
// fails, the newest cached entry of any age is returned with Stale set and Reasons
// attached. Only when nothing was ever cached does it fail with *AcquisitionError.
func (a *Acquirer) Acquire(ctx context.Context, req market.Request) (*Result, error) {
	start := time.Now()
	req, err := req.Normalize(a.now())
	if err != nil {
		observeOutcome(string(req.Kind), outcomeRejected, time.Since(start))
		return nil, err
	}
	fp := req.Fingerprint()
	if entry, ok := a.store.Fresh(ctx, fp); ok {
		observeOutcome(string(req.Kind), outcomeFresh, time.Since(start))
		return fromEntry(req, entry, true, nil), nil
	}

	res, err := a.coalesce(ctx, fp, func(ctx context.Context) (*Result, error) {
		return a.acquire(ctx, req, fp)
	})
	a.observe(req, res, err, start)
	return res, err
}

// Refresh behaves like Acquire but skips the fresh-hit check.
func (a *Acquirer) Refresh(ctx context.Context, req market.Request) (*Result, error) {
	start := time.Now()
	req, err := req.Normalize(a.now())
	if err != nil {
		return nil, err
	}
	fp := req.Fingerprint()
	res, err := a.coalesce(ctx, fp, func(ctx context.Context) (*Result, error) {
		return a.acquire(ctx, req, fp)
	})
	a.observe(req, res, err, start)
	return res, err
}

// Refetch re-acquires one fingerprint from providers without stale fallback. It is the
// refetch hook for cache repair.
func (a *Acquirer) Refetch(ctx context.Context, fingerprint string) error {
	req, err := market.ParseFingerprint(fingerprint)
	if err != nil {
		return err
	}
	_, err = a.coalesce(ctx, "refetch:"+fingerprint, func(ctx context.Context) (*Result, error) {
		return a.fetch(ctx, req, fingerprint)
	})
	return err
}

func (a *Acquirer) coalesce(ctx context.Context, key string, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	ch := a.flight.DoChan(key, func() (any, error) {
		// Shared by every waiter, so the first caller's cancellation must not end it.
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	case <-ctx.Done():
		return a.fallback(ctx, key, ctx.Err())
	}
}

func (a *Acquirer) fallback(ctx context.Context, key string, cause error) (*Result, error) {
	req, err := market.ParseFingerprint(key)
	if err != nil {
		return nil, cause
	}
	if entry, ok := a.store.GetStale(context.WithoutCancel(ctx), key); ok {
		return fromEntry(req, entry, true, []string{cause.Error()}), nil
	}
	return nil, &AcquisitionError{Request: req, Reasons: []string{cause.Error()}, Err: cause}
}

func (a *Acquirer) acquire(ctx context.Context, req market.Request, fp string) (*Result, error) {
	res, err := a.fetch(ctx, req, fp)
	if err == nil {
		return res, nil
	}
	reasons := reasonsOf(err)
	if entry, ok := a.store.GetStale(ctx, fp); ok {
		logx.WithContext(ctx).Errorf("acquire: %s providers failed, serving cached entry %s",
			fp, cache.Describe(entry, a.store.Now()))
		return fromEntry(req, entry, true, reasons), nil
	}
	return nil, &AcquisitionError{Request: req, Reasons: reasons, Err: err}
}

// fetch races providers under the request ceiling and populates the cache. The
// persistence hook shares the ceiling, so a slow sink cannot stretch the request.
func (a *Acquirer) fetch(ctx context.Context, req market.Request, fp string) (*Result, error) {
	ctx = logx.ContextWithFields(ctx,
		logx.Field("request_id", uuid.NewString()),
		logx.Field("fingerprint", fp),
	)
	ceilingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.racer.Race(ceilingCtx, req, a.registry.Attempts(req.Kind))
	if err != nil {
		return nil, err
	}
	entry, err := a.store.Put(ctx, fp, out.Payload, out.Source, a.ttl.Duration(req.Kind))
	if err != nil {
		// Memory tier already holds the entry.
		logx.WithContext(ctx).Errorf("acquire: cache write %s err=%v", fp, err)
	}
	a.record(ceilingCtx, req, out)
	return fromEntry(req, entry, false, race.Reasons(out.Failures)), nil
}

func (a *Acquirer) record(ctx context.Context, req market.Request, out *race.Outcome) {
	if a.persist == nil {
		return
	}
	var err error
	switch req.Kind {
	case market.KindSnapshot:
		err = a.persist.RecordSnapshot(ctx, out.Source, out.Payload)
	case market.KindPriceHistory:
		err = a.persist.RecordHistory(ctx, out.Source, req, out.Payload)
	default:
		return
	}
	if err != nil {
		logx.WithContext(ctx).Errorf("acquire: persist %s from %s err=%v", req.Fingerprint(), out.Source, err)
	}
}

func (a *Acquirer) observe(req market.Request, res *Result, err error, start time.Time) {
	outcome := outcomeFetched
	switch {
	case err != nil:
		outcome = outcomeFailed
	case res.Stale:
		outcome = outcomeStale
	}
	observeOutcome(string(req.Kind), outcome, time.Since(start))
}

func fromEntry(req market.Request, e *cache.Entry, cached bool, reasons []string) *Result {
	return &Result{
		Request:   req,
		Payload:   e.Payload,
		Stale:     e.Stale,
		Cached:    cached,
		Source:    e.Source,
		FetchedAt: e.CreatedAt,
		Reasons:   reasons,
	}
}

func reasonsOf(err error) []string {
	var re *race.RaceError
	if errors.As(err, &re) {
		if len(re.Failures) == 0 {
			return []string{re.Error()}
		}
		return re.Reasons()
	}
	return []string{err.Error()}
}

// Snapshot returns the typed market snapshot for symbol.
func (a *Acquirer) Snapshot(ctx context.Context, symbol string) (market.Snapshot, *Result, error) {
	res, err := a.Acquire(ctx, market.SnapshotRequest(symbol))
	if err != nil {
		return market.Snapshot{}, nil, err
	}
	snap, ok := res.Payload.Snapshot()
	if !ok {
		return market.Snapshot{}, res, fmt.Errorf("acquire: %s payload is not a snapshot", res.Request.Fingerprint())
	}
	return snap, res, nil
}

// PriceHistory returns daily bars, oldest first. Empty start/end select the default window.
func (a *Acquirer) PriceHistory(ctx context.Context, symbol, start, end string, adjust market.Adjust) ([]market.Bar, *Result, error) {
	res, err := a.Acquire(ctx, market.HistoryRequest(symbol, start, end, adjust))
	if err != nil {
		return nil, nil, err
	}
	return res.Payload.Bars(), res, nil
}

// Indicators returns the financial indicator record for symbol.
func (a *Acquirer) Indicators(ctx context.Context, symbol string) (*Result, error) {
	return a.Acquire(ctx, market.IndicatorsRequest(symbol))
}

// LineItems returns the statement line items for symbol, one row per period.
func (a *Acquirer) LineItems(ctx context.Context, symbol string) (*Result, error) {
	return a.Acquire(ctx, market.LineItemsRequest(symbol))
}

// Directory returns the code to name directory.
func (a *Acquirer) Directory(ctx context.Context) (*Result, error) {
	return a.Acquire(ctx, market.DirectoryRequest())
}

// LookupName resolves a stock code to its name through the directory.
func (a *Acquirer) LookupName(ctx context.Context, symbol string) (string, error) {
	res, err := a.Directory(ctx)
	if err != nil {
		return "", err
	}
	code := market.CanonicalSymbol(symbol)
	for _, prefix := range []string{"SH", "SZ", "BJ"} {
		if len(code) == 8 && strings.HasPrefix(code, prefix) {
			code = code[2:]
		}
	}
	if name, ok := res.Payload.Names()[code]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, code)
}
