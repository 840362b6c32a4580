// Package warmer keeps the cache populated for a fixed watch list.
package warmer

import (
	"context"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/pkg/acquire"
	"equityfeed/pkg/market"
)

// Acquirer is the subset of acquire.Acquirer the warmer drives.
type Acquirer interface {
	Acquire(ctx context.Context, req market.Request) (*acquire.Result, error)
	AcquireBatch(ctx context.Context, kind market.Kind, symbols []string, params acquire.BatchParams) map[string]acquire.BatchItem
}

// Stats summarises one warm cycle.
type Stats struct {
	Fetched int
	Cached  int
	Stale   int
	Failed  int
}

func (s *Stats) add(res *acquire.Result, err error) {
	switch {
	case err != nil:
		s.Failed++
	case res.Stale:
		s.Stale++
	case res.Cached:
		s.Cached++
	default:
		s.Fetched++
	}
}

// Warmer periodically acquires every configured kind for every symbol.
type Warmer struct {
	acq       Acquirer
	symbols   []string
	kinds     []market.Kind
	interval  time.Duration
	directory bool
	params    acquire.BatchParams
}

// Option customises a Warmer.
type Option func(*Warmer)

// WithDirectory also refreshes the symbol directory every cycle.
func WithDirectory(enabled bool) Option {
	return func(w *Warmer) { w.directory = enabled }
}

// WithHistoryParams sets the window used for price history prefetches.
func WithHistoryParams(p acquire.BatchParams) Option {
	return func(w *Warmer) { w.params = p }
}

// New builds a warmer; symbols are de-duplicated and kinds without a subject dropped.
func New(acq Acquirer, symbols []string, kinds []market.Kind, interval time.Duration, opts ...Option) *Warmer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	unique := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		unique = append(unique, sym)
	}
	subjectKinds := make([]market.Kind, 0, len(kinds))
	for _, k := range kinds {
		if k.HasSubject() {
			subjectKinds = append(subjectKinds, k)
		}
	}
	w := &Warmer{
		acq:      acq,
		symbols:  unique,
		kinds:    subjectKinds,
		interval: interval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run warms once immediately and then on every tick until ctx is cancelled.
func (w *Warmer) Run(ctx context.Context) {
	if w == nil || (len(w.symbols) == 0 && !w.directory) {
		return
	}
	w.Cycle(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Cycle(ctx)
		}
	}
}

// Cycle performs one warm pass and returns per-kind stats.
func (w *Warmer) Cycle(ctx context.Context) map[market.Kind]Stats {
	out := make(map[market.Kind]Stats, len(w.kinds)+1)
	if w.directory {
		var st Stats
		res, err := w.acq.Acquire(ctx, market.DirectoryRequest())
		st.add(res, err)
		if err != nil && ctx.Err() == nil {
			logx.WithContext(ctx).Errorf("warmer: directory err=%v", err)
		}
		out[market.KindSymbolDirectory] = st
	}
	if len(w.symbols) == 0 {
		return out
	}
	for _, kind := range w.kinds {
		if ctx.Err() != nil {
			return out
		}
		var st Stats
		for symbol, item := range w.acq.AcquireBatch(ctx, kind, w.symbols, w.params) {
			st.add(item.Result, item.Err)
			if item.Err != nil && ctx.Err() == nil {
				logx.WithContext(ctx).Errorf("warmer: %s symbol=%s err=%v", kind, symbol, item.Err)
			}
		}
		out[kind] = st
		logx.WithContext(ctx).Infof("warmer: %s fetched=%d cached=%d stale=%d failed=%d",
			kind, st.Fetched, st.Cached, st.Stale, st.Failed)
	}
	return out
}
