package logic

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/svc"
	"equityfeed/internal/types"
	"equityfeed/pkg/acquire"
	"equityfeed/pkg/market"
)

const maxBatchSymbols = 500

type BatchLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewBatchLogic(ctx context.Context, svcCtx *svc.ServiceContext) *BatchLogic {
	return &BatchLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *BatchLogic) Batch(req *types.BatchRequest) (*types.BatchResponse, error) {
	kind, err := market.ParseKind(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrInvalidRequest, err)
	}
	if !kind.HasSubject() {
		return nil, fmt.Errorf("%w: %s is not a per-symbol kind", market.ErrInvalidRequest, kind)
	}
	if len(req.Symbols) == 0 || len(req.Symbols) > maxBatchSymbols {
		return nil, fmt.Errorf("%w: batch needs 1 to %d symbols, got %d", market.ErrInvalidRequest, maxBatchSymbols, len(req.Symbols))
	}

	params := acquire.BatchParams{Start: req.Start, End: req.End, Adjust: market.Adjust(req.Adjust)}
	items := l.svcCtx.Acquirer.AcquireBatch(l.ctx, kind, req.Symbols, params)

	resp := &types.BatchResponse{Kind: string(kind), Items: make(map[string]types.BatchItem, len(items))}
	failed := 0
	for symbol, item := range items {
		if item.Err != nil {
			failed++
			out := types.BatchItem{Error: item.Err.Error()}
			var ae *acquire.AcquisitionError
			if errors.As(item.Err, &ae) {
				out.Reasons = ae.Reasons
			}
			resp.Items[symbol] = out
			continue
		}
		resp.Items[symbol] = types.BatchItem{Data: toResponse(item.Result)}
	}
	if failed > 0 {
		l.Infof("batch %s: %d of %d symbols failed", kind, failed, len(items))
	}
	return resp, nil
}
