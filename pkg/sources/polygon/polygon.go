// Package polygon serves daily price history for US listings from Polygon.io.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
)

const maxBars = 50000

// ErrMissingAPIKey is returned when the source is configured without a key.
var ErrMissingAPIKey = errors.New("polygon: api_key is required")

func init() {
	market.RegisterSourceType("polygon", func(name string, cfg *market.SourceConfig) (market.Source, error) {
		if cfg == nil || cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		hc := &http.Client{Timeout: cfg.HTTPTimeout}
		return New(name, polygon.NewWithClient(cfg.APIKey, hc)), nil
	})
}

// Source adapts the Polygon aggregates API.
type Source struct {
	name   string
	client *polygon.Client
	loc    *time.Location
}

// New wraps an existing Polygon client.
func New(name string, client *polygon.Client) *Source {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &Source{name: name, client: client, loc: loc}
}

// Name implements market.Source.
func (s *Source) Name() string { return s.name }

// Supports implements market.Source.
func (s *Source) Supports(kind market.Kind) bool {
	return kind == market.KindPriceHistory
}

// Fetch implements market.Source.
func (s *Source) Fetch(ctx context.Context, req market.Request) (*market.Raw, error) {
	if req.Kind != market.KindPriceHistory {
		return nil, retry.Permanent(fmt.Errorf("polygon: unsupported kind %s", req.Kind))
	}
	from, err := market.ParseDate(req.Start)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("polygon: start: %w", err))
	}
	to, err := market.ParseDate(req.End)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("polygon: end: %w", err))
	}

	params := models.ListAggsParams{
		Ticker:     req.Symbol,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithOrder(models.Asc).WithAdjusted(req.Adjust != market.AdjustNone).WithLimit(maxBars)

	iter := s.client.ListAggs(ctx, params)
	var rows []map[string]any
	for iter.Next() {
		agg := iter.Item()
		rows = append(rows, map[string]any{
			market.FieldDate:   time.Time(agg.Timestamp).In(s.loc).Format(market.DateLayout),
			market.FieldOpen:   agg.Open,
			market.FieldHigh:   agg.High,
			market.FieldLow:    agg.Low,
			market.FieldClose:  agg.Close,
			market.FieldVolume: agg.Volume,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return &market.Raw{Source: s.name, Rows: rows}, nil
}

func classify(err error) error {
	var resp *models.ErrorResponse
	if errors.As(err, &resp) {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return retry.Transient("polygon aggs", err)
		case resp.StatusCode >= http.StatusBadRequest:
			return retry.Permanent(err)
		}
	}
	return fmt.Errorf("polygon aggs: %w", err)
}
