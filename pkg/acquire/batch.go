package acquire

import (
	"context"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"equityfeed/pkg/market"
)

// BatchParams carries the non-subject parameters shared by every symbol of a batch.
type BatchParams struct {
	Start  string        `json:"start,omitempty"`
	End    string        `json:"end,omitempty"`
	Adjust market.Adjust `json:"adjust,omitempty"`
}

// BatchItem is the outcome for one symbol: exactly one of Result and Err is set.
type BatchItem struct {
	Symbol string  `json:"symbol"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// BuildRequest assembles the request for one subject of kind.
func BuildRequest(kind market.Kind, symbol string, params BatchParams) market.Request {
	req := market.Request{Kind: kind, Symbol: symbol}
	if kind == market.KindPriceHistory {
		req.Start, req.End, req.Adjust = params.Start, params.End, params.Adjust
	}
	if !kind.HasSubject() {
		req.Symbol = ""
	}
	return req
}

// AcquireBatch runs Acquire for every symbol with bounded concurrency. A failure for one
// symbol is recorded in its item and never stops the others. Duplicate symbols collapse
// onto one item keyed by the canonical symbol.
func (a *Acquirer) AcquireBatch(ctx context.Context, kind market.Kind, symbols []string, params BatchParams) map[string]BatchItem {
	out := make(map[string]BatchItem, len(symbols))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.batchWidth)
	seen := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		key := market.CanonicalSymbol(symbol)
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			res, err := a.Acquire(ctx, BuildRequest(kind, key, params))
			if err != nil {
				logx.WithContext(ctx).Errorf("acquire batch: %s %s err=%v", kind, key, err)
			}
			mu.Lock()
			out[key] = BatchItem{Symbol: key, Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
