package logic

import (
	"equityfeed/internal/types"
	"equityfeed/pkg/acquire"
	"equityfeed/pkg/market"
)

func toResponse(res *acquire.Result) *types.DataResponse {
	if res == nil {
		return nil
	}
	return &types.DataResponse{
		Request:   res.Request.Fingerprint(),
		Source:    res.Source,
		Stale:     res.Stale,
		Cached:    res.Cached,
		FetchedAt: res.FetchedAt.UnixMilli(),
		Reasons:   res.Reasons,
		Data:      dataOf(res.Payload),
	}
}

// dataOf renders a payload in its typed view.
func dataOf(p *market.Payload) any {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case market.KindSnapshot:
		snap, _ := p.Snapshot()
		return snap
	case market.KindPriceHistory:
		return p.Bars()
	case market.KindSymbolDirectory:
		return p.Names()
	case market.KindIndicators:
		return p.Record
	default:
		return p.Table
	}
}
