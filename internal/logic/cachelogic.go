package logic

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/svc"
	"equityfeed/internal/types"
	"equityfeed/pkg/cache"
	"equityfeed/pkg/market"
)

type CacheLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewCacheLogic(ctx context.Context, svcCtx *svc.ServiceContext) *CacheLogic {
	return &CacheLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *CacheLogic) Check() (*cache.Report, error) {
	report, err := l.svcCtx.Acquirer.CheckAllCaches(l.ctx)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (l *CacheLogic) Repair(req *types.KindRequest) (*cache.RepairResult, error) {
	kind, err := market.ParseKind(req.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrInvalidRequest, err)
	}
	result, err := l.svcCtx.Acquirer.RepairCache(l.ctx, kind)
	if err != nil {
		return nil, err
	}
	l.Infof("cache repair %s: checked=%d quarantined=%d refetched=%d failed=%d synthetic=%t",
		kind, result.Checked, len(result.Quarantined), len(result.Refetched), len(result.Failed), result.Synthetic)
	return &result, nil
}

func (l *CacheLogic) Reset() (*types.ResetResponse, error) {
	backup, err := l.svcCtx.Acquirer.ResetAllCaches(l.ctx)
	if err != nil {
		return nil, err
	}
	l.Infof("cache reset, previous artifacts kept in %s", backup)
	return &types.ResetResponse{Backup: backup}, nil
}
