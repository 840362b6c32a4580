package marketpersist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"equityfeed/pkg/market"
)

const (
	latestStmt = `
INSERT INTO public.price_latest (provider, symbol, price, market_cap, volume, raw, ts_ms, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
ON CONFLICT (provider, symbol) DO UPDATE SET
    price = EXCLUDED.price,
    market_cap = EXCLUDED.market_cap,
    volume = EXCLUDED.volume,
    raw = EXCLUDED.raw,
    ts_ms = EXCLUDED.ts_ms,
    updated_at = NOW();`

	barStmt = `
INSERT INTO public.price_bars (provider, symbol, adjust, date, open, high, low, close, volume, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
ON CONFLICT (provider, symbol, adjust, date) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume;`
)

// Service mirrors acquired snapshots and bars into Postgres.
type Service struct {
	sqlConn sqlx.SqlConn
	now     func() time.Time
}

// Config enumerates dependencies required to persist market data.
type Config struct {
	SQLConn sqlx.SqlConn
	Clock   func() time.Time
}

// NewService wires a market persistence service. Returns nil when dependencies missing.
func NewService(cfg Config) market.Persistence {
	if cfg.SQLConn == nil {
		return nil
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{sqlConn: cfg.SQLConn, now: now}
}

// RecordSnapshot upserts the latest price row for the payload's symbol.
func (s *Service) RecordSnapshot(ctx context.Context, provider string, payload *market.Payload) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	snap, ok := payload.Snapshot()
	if !ok || strings.TrimSpace(snap.Symbol) == "" {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marketpersist: encode snapshot %s: %w", snap.Symbol, err)
	}
	ts := s.now().UTC().UnixMilli()
	if _, err := s.sqlConn.ExecCtx(ctx, latestStmt,
		provider, snap.Symbol, snap.Price, snap.MarketCap, snap.Volume, string(raw), ts); err != nil {
		return fmt.Errorf("marketpersist: upsert price_latest %s: %w", snap.Symbol, err)
	}
	return nil
}

// RecordHistory upserts every bar of the payload in one transaction.
func (s *Service) RecordHistory(ctx context.Context, provider string, req market.Request, payload *market.Payload) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	bars := payload.Bars()
	if len(bars) == 0 {
		return nil
	}
	symbol := market.CanonicalSymbol(req.Symbol)
	err := s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, b := range bars {
			if _, err := session.ExecCtx(ctx, barStmt,
				provider, symbol, string(req.Adjust), b.Date.Format(market.DateLayout),
				b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("marketpersist: upsert %d bars for %s: %w", len(bars), symbol, err)
	}
	logx.WithContext(ctx).Debugf("marketpersist: stored %d %s bars for %s from %s", len(bars), req.Adjust, symbol, provider)
	return nil
}
