package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/svc"
	"equityfeed/internal/types"
	"equityfeed/pkg/market"
)

type AcquireLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewAcquireLogic(ctx context.Context, svcCtx *svc.ServiceContext) *AcquireLogic {
	return &AcquireLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *AcquireLogic) Snapshot(req *types.SymbolRequest) (*types.DataResponse, error) {
	return l.acquire(market.SnapshotRequest(req.Symbol))
}

func (l *AcquireLogic) History(req *types.HistoryRequest) (*types.DataResponse, error) {
	return l.acquire(market.HistoryRequest(req.Symbol, req.Start, req.End, market.Adjust(req.Adjust)))
}

func (l *AcquireLogic) Indicators(req *types.SymbolRequest) (*types.DataResponse, error) {
	return l.acquire(market.IndicatorsRequest(req.Symbol))
}

func (l *AcquireLogic) Statements(req *types.SymbolRequest) (*types.DataResponse, error) {
	return l.acquire(market.LineItemsRequest(req.Symbol))
}

func (l *AcquireLogic) Directory() (*types.DataResponse, error) {
	return l.acquire(market.DirectoryRequest())
}

func (l *AcquireLogic) Name(req *types.SymbolRequest) (*types.NameResponse, error) {
	name, err := l.svcCtx.Acquirer.LookupName(l.ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	return &types.NameResponse{Symbol: market.CanonicalSymbol(req.Symbol), Name: name}, nil
}

func (l *AcquireLogic) acquire(req market.Request) (*types.DataResponse, error) {
	res, err := l.svcCtx.Acquirer.Acquire(l.ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Stale {
		l.Infof("serving stale %s from %s", res.Request.Fingerprint(), res.Source)
	}
	return toResponse(res), nil
}
