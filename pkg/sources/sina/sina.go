package sina

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
	"equityfeed/pkg/sources"
	"equityfeed/pkg/sources/httpx"
)

const (
	defaultQuoteURL  = "https://hq.sinajs.cn"
	defaultMarketURL = "https://money.finance.sina.com.cn"
	klinePath        = "/quotes_service/api/json_v2.php/CN_MarketData.getKLineData"
	nodePath         = "/quotes_service/api/json_v2.php/Market_Center.getHQNodeData"
	klineDays        = 1023
	pageSize         = 100
	maxPages         = 80

	// Holiday closures never leave a gap this long between the window start and the
	// first bar.
	truncationGrace = 14 * 24 * time.Hour
)

// Positions in the comma-separated hq_str record.
const (
	fName      = 0
	fOpen      = 1
	fPrevClose = 2
	fPrice     = 3
	fHigh      = 4
	fLow       = 5
	fVolume    = 8
	fAmount    = 9
	minFields  = 10
)

// ErrAdjustUnsupported is returned for adjusted history requests.
var ErrAdjustUnsupported = errors.New("sina: only unadjusted history is available")

// ErrHistoryTruncated is returned when the window starts before the kline depth reaches.
var ErrHistoryTruncated = errors.New("sina: history window exceeds kline depth")

func init() {
	market.RegisterSourceType("sina", func(name string, cfg *market.SourceConfig) (market.Source, error) {
		return New(name, cfg), nil
	})
}

// Source reads Sina Finance quote, kline and market-centre endpoints. Quotes carry no
// market capitalisation, so its snapshots only pass validation when another field
// supplies one.
type Source struct {
	name      string
	quoteURL  string
	marketURL string
	client    *httpx.Client
	depth     int
}

// New builds a Sina source; cfg.BaseURL overrides both hosts.
func New(name string, cfg *market.SourceConfig) *Source {
	if cfg == nil {
		cfg = &market.SourceConfig{}
	}
	s := &Source{
		name:      name,
		quoteURL:  defaultQuoteURL,
		marketURL: defaultMarketURL,
		client:    httpx.FromConfig(cfg),
		depth:     klineDays,
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		s.quoteURL, s.marketURL = base, base
	}
	if s.client.Headers == nil {
		s.client.Headers = make(map[string]string, 1)
	}
	if _, ok := s.client.Headers["Referer"]; !ok {
		s.client.Headers["Referer"] = "https://finance.sina.com.cn/"
	}
	return s
}

// Name implements market.Source.
func (s *Source) Name() string { return s.name }

// Supports implements market.Source.
func (s *Source) Supports(kind market.Kind) bool {
	switch kind {
	case market.KindSnapshot, market.KindPriceHistory, market.KindSymbolDirectory:
		return true
	}
	return false
}

// Fetch implements market.Source.
func (s *Source) Fetch(ctx context.Context, req market.Request) (*market.Raw, error) {
	switch req.Kind {
	case market.KindSnapshot:
		return s.snapshot(ctx, req.Symbol)
	case market.KindPriceHistory:
		return s.history(ctx, req)
	case market.KindSymbolDirectory:
		return s.directory(ctx)
	}
	return nil, retry.Permanent(fmt.Errorf("sina: unsupported kind %s", req.Kind))
}

func (s *Source) snapshot(ctx context.Context, symbol string) (*market.Raw, error) {
	prefixed, err := sources.Prefixed(symbol)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	body, err := s.client.Get(ctx, s.quoteURL+"/list="+prefixed, nil, nil)
	if err != nil {
		return nil, err
	}
	text := string(body)
	open, closeIdx := strings.IndexByte(text, '"'), strings.LastIndexByte(text, '"')
	if open < 0 || closeIdx <= open {
		return nil, fmt.Errorf("sina: malformed quote for %s", prefixed)
	}
	fields := strings.Split(text[open+1:closeIdx], ",")
	if len(fields) < minFields {
		return nil, fmt.Errorf("sina: quote for %s has %d fields", prefixed, len(fields))
	}
	return market.RecordRaw(s.name, map[string]any{
		market.FieldName:      fields[fName],
		market.FieldOpen:      fields[fOpen],
		market.FieldPrevClose: fields[fPrevClose],
		market.FieldPrice:     fields[fPrice],
		market.FieldHigh:      fields[fHigh],
		market.FieldLow:       fields[fLow],
		market.FieldVolume:    fields[fVolume],
		market.FieldAmount:    fields[fAmount],
	}), nil
}

type klineBar struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func (s *Source) history(ctx context.Context, req market.Request) (*market.Raw, error) {
	if req.Adjust != market.AdjustNone {
		return nil, retry.Permanent(ErrAdjustUnsupported)
	}
	prefixed, err := sources.Prefixed(req.Symbol)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	query := url.Values{
		"symbol":  {prefixed},
		"scale":   {"240"},
		"ma":      {"no"},
		"datalen": {strconv.Itoa(s.depth)},
	}
	body, err := s.client.Get(ctx, s.marketURL+klinePath, query, nil)
	if err != nil {
		return nil, err
	}
	var bars []klineBar
	if err := json.Unmarshal(body, &bars); err != nil {
		return nil, fmt.Errorf("sina: decode kline: %w", err)
	}
	if err := s.checkDepth(prefixed, req.Start, bars); err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(bars))
	for _, b := range bars {
		day := strings.TrimSpace(b.Day)
		if len(day) > 10 {
			day = day[:10]
		}
		if day < req.Start || day > req.End {
			continue
		}
		rows = append(rows, map[string]any{
			market.FieldDate:   day,
			market.FieldOpen:   b.Open,
			market.FieldHigh:   b.High,
			market.FieldLow:    b.Low,
			market.FieldClose:  b.Close,
			market.FieldVolume: b.Volume,
		})
	}
	return &market.Raw{Source: s.name, Rows: rows}, nil
}

// checkDepth rejects a capped response whose earliest bar lies well after start. The
// endpoint counts bars back from today and has no offset, so the gap cannot be paged.
func (s *Source) checkDepth(prefixed, start string, bars []klineBar) error {
	if len(bars) < s.depth {
		return nil
	}
	from, err := time.Parse(market.DateLayout, start)
	if err != nil {
		return retry.Permanent(fmt.Errorf("sina: window start %q: %w", start, err))
	}
	earliest := strings.TrimSpace(bars[0].Day)
	if len(earliest) > 10 {
		earliest = earliest[:10]
	}
	first, err := time.Parse(market.DateLayout, earliest)
	if err != nil {
		return fmt.Errorf("sina: kline date %q: %w", earliest, err)
	}
	if first.Sub(from) > truncationGrace {
		return retry.Permanent(fmt.Errorf("%w: %s reaches back to %s, want %s",
			ErrHistoryTruncated, prefixed, earliest, start))
	}
	return nil
}

type nodeRow struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

func (s *Source) directory(ctx context.Context) (*market.Raw, error) {
	var rows []map[string]any
	for page := 1; page <= maxPages; page++ {
		query := url.Values{
			"page": {strconv.Itoa(page)},
			"num":  {strconv.Itoa(pageSize)},
			"sort": {"symbol"},
			"asc":  {"1"},
			"node": {"hs_a"},
		}
		body, err := s.client.Get(ctx, s.marketURL+nodePath, query, nil)
		if err != nil {
			return nil, fmt.Errorf("sina: directory page %d: %w", page, err)
		}
		var batch []nodeRow
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("sina: decode directory page %d: %w", page, err)
		}
		for _, r := range batch {
			rows = append(rows, map[string]any{market.FieldCode: r.Code, market.FieldName: r.Name})
		}
		if len(batch) < pageSize {
			break
		}
	}
	return &market.Raw{Source: s.name, Rows: rows}, nil
}
