package tencent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
	"equityfeed/pkg/sources"
	"equityfeed/pkg/sources/httpx"
)

const (
	defaultQuoteURL = "https://qt.gtimg.cn"
	defaultKlineURL = "https://web.ifzq.gtimg.cn"
	klinePath       = "/appstock/app/fqkline/get"
	maxKlineBars    = 800
	maxKlinePages   = 10
	tradingYear     = 250
)

// ErrHistoryTruncated is returned when paging stops before the requested start.
var ErrHistoryTruncated = errors.New("tencent: kline history truncated")

var errNoSeries = errors.New("tencent: no kline series")

// Positions inside the "~"-separated quote record.
const (
	qName          = 1
	qCode          = 2
	qPrice         = 3
	qPrevClose     = 4
	qOpen          = 5
	qVolume        = 6
	qChangePercent = 32
	qHigh          = 33
	qLow           = 34
	qAmount        = 37
	qTurnover      = 38
	qPE            = 39
	qFloatCap      = 44
	qTotalCap      = 45
	qPB            = 46
	quoteFields    = 47
)

// Units: volume in lots of 100 shares, amount in 10k CNY, market caps in 100m CNY.
const (
	lot         = 100
	tenThousand = 1e4
	hundredMil  = 1e8
)

func init() {
	market.RegisterSourceType("tencent", func(name string, cfg *market.SourceConfig) (market.Source, error) {
		return New(name, cfg), nil
	})
}

// Source reads quotes and adjusted daily klines from Tencent's public endpoints.
type Source struct {
	name     string
	quoteURL string
	klineURL string
	client   *httpx.Client
	now      func() time.Time
	pageBars int
	maxPages int
}

// New builds a Tencent source; cfg.BaseURL overrides both hosts.
func New(name string, cfg *market.SourceConfig) *Source {
	if cfg == nil {
		cfg = &market.SourceConfig{}
	}
	s := &Source{
		name:     name,
		quoteURL: defaultQuoteURL,
		klineURL: defaultKlineURL,
		client:   httpx.FromConfig(cfg),
		now:      time.Now,
		pageBars: maxKlineBars,
		maxPages: maxKlinePages,
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		s.quoteURL, s.klineURL = base, base
	}
	s.client.Headers = withDefault(s.client.Headers, "Referer", "https://gu.qq.com/")
	return s
}

// Name implements market.Source.
func (s *Source) Name() string { return s.name }

// Supports implements market.Source.
func (s *Source) Supports(kind market.Kind) bool {
	return kind == market.KindSnapshot || kind == market.KindPriceHistory
}

// Fetch implements market.Source.
func (s *Source) Fetch(ctx context.Context, req market.Request) (*market.Raw, error) {
	switch req.Kind {
	case market.KindSnapshot:
		return s.snapshot(ctx, req.Symbol)
	case market.KindPriceHistory:
		bars, err := s.klines(ctx, req.Symbol, req.Start, req.End, req.Adjust)
		if err != nil {
			return nil, err
		}
		raw := &market.Raw{Source: s.name, Rows: bars}
		return raw.WithUnit(market.FieldVolume, lot), nil
	}
	return nil, retry.Permanent(fmt.Errorf("tencent: unsupported kind %s", req.Kind))
}

func (s *Source) snapshot(ctx context.Context, symbol string) (*market.Raw, error) {
	prefixed, err := sources.Prefixed(symbol)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	body, err := s.client.Get(ctx, s.quoteURL+"/q="+prefixed, nil, nil)
	if err != nil {
		return nil, err
	}
	fields, err := parseQuote(string(body))
	if err != nil {
		return nil, err
	}
	row := map[string]any{
		market.FieldName:           fields[qName],
		market.FieldPrice:          fields[qPrice],
		market.FieldPrevClose:      fields[qPrevClose],
		market.FieldOpen:           fields[qOpen],
		market.FieldVolume:         fields[qVolume],
		market.FieldChangePercent:  fields[qChangePercent],
		market.FieldHigh:           fields[qHigh],
		market.FieldLow:            fields[qLow],
		market.FieldAmount:         fields[qAmount],
		market.FieldTurnover:       fields[qTurnover],
		market.FieldPERatio:        fields[qPE],
		market.FieldFloatMarketCap: fields[qFloatCap],
		market.FieldMarketCap:      fields[qTotalCap],
		market.FieldPriceToBook:    fields[qPB],
	}
	raw := market.RecordRaw(s.name, row).
		WithUnit(market.FieldVolume, lot).
		WithUnit(market.FieldAmount, tenThousand).
		WithUnit(market.FieldMarketCap, hundredMil).
		WithUnit(market.FieldFloatMarketCap, hundredMil)
	s.enrich(ctx, symbol, row)
	return raw, nil
}

// enrich adds 52-week range and average volume from a year of unadjusted bars. Failures
// leave the snapshot as is.
func (s *Source) enrich(ctx context.Context, symbol string, row map[string]any) {
	end := s.now().AddDate(0, 0, -1)
	start := end.AddDate(-1, 0, 0)
	bars, err := s.klines(ctx, symbol, start.Format(market.DateLayout), end.Format(market.DateLayout), market.AdjustNone)
	if err != nil {
		logx.WithContext(ctx).Infof("tencent: %s 52-week enrichment skipped: %v", symbol, err)
		return
	}
	var highs, lows, volumes stats.Float64Data
	for _, b := range bars {
		highs = append(highs, toFloat(b[market.FieldHigh]))
		lows = append(lows, toFloat(b[market.FieldLow]))
		volumes = append(volumes, toFloat(b[market.FieldVolume]))
	}
	if len(volumes) > tradingYear {
		highs, lows, volumes = highs[len(highs)-tradingYear:], lows[len(lows)-tradingYear:], volumes[len(volumes)-tradingYear:]
	}
	if hi, err := stats.Max(highs); err == nil {
		row[market.FieldFiftyTwoWeekHigh] = hi
	}
	if lo, err := stats.Min(lows); err == nil {
		row[market.FieldFiftyTwoWeekLow] = lo
	}
	if avg, err := stats.Mean(volumes); err == nil {
		// Bars are in lots like the quote volume.
		row[market.FieldAverageVolume] = avg * lot
	}
}

type klineResponse struct {
	Code int                        `json:"code"`
	Msg  string                     `json:"msg"`
	Data map[string]json.RawMessage `json:"data"`
}

// klines returns daily bars as canonical rows with volume in lots. The endpoint caps a
// response at pageBars bars counted back from end, so older pages are requested until
// start is covered.
func (s *Source) klines(ctx context.Context, symbol, start, end string, adjust market.Adjust) ([]map[string]any, error) {
	prefixed, err := sources.Prefixed(symbol)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	fq := ""
	switch adjust {
	case market.AdjustForward:
		fq = "qfq"
	case market.AdjustBackward:
		fq = "hfq"
	}

	var out []map[string]any
	pageEnd := end
	for page := 0; ; page++ {
		rows, err := s.klinePage(ctx, prefixed, start, pageEnd, fq)
		if errors.Is(err, errNoSeries) && page > 0 {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(rows, out...)
		if len(rows) < s.pageBars {
			break
		}
		first := fmt.Sprint(rows[0][market.FieldDate])
		if first <= start {
			break
		}
		day, err := time.Parse(market.DateLayout, first)
		if err != nil {
			return nil, fmt.Errorf("tencent: kline date %q: %w", first, err)
		}
		pageEnd = day.AddDate(0, 0, -1).Format(market.DateLayout)
		if pageEnd < start {
			break
		}
		if page+1 >= s.maxPages {
			return nil, retry.Permanent(fmt.Errorf("%w: %s reaches back to %s, want %s",
				ErrHistoryTruncated, prefixed, first, start))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("tencent: empty kline series")
	}
	return out, nil
}

func (s *Source) klinePage(ctx context.Context, prefixed, start, end, fq string) ([]map[string]any, error) {
	param := strings.Join([]string{prefixed, "day", start, end, fmt.Sprint(s.pageBars), fq}, ",")
	body, err := s.client.Get(ctx, s.klineURL+klinePath+"?param="+param, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tencent: decode kline: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("tencent: kline code %d: %s", resp.Code, resp.Msg)
	}
	var series map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data[prefixed], &series); err != nil {
		return nil, fmt.Errorf("tencent: kline payload for %s: %w", prefixed, err)
	}
	key := "day"
	if fq != "" {
		key = fq + "day"
	}
	rawBars, ok := series[key]
	if !ok {
		rawBars, ok = series["day"]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s series", errNoSeries, prefixed, key)
	}
	// Rows are [date, open, close, high, low, volume, ...]; trailing elements vary.
	var rows [][]any
	if err := json.Unmarshal(rawBars, &rows); err != nil {
		return nil, fmt.Errorf("tencent: decode %s series: %w", key, err)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, map[string]any{
			market.FieldDate:   r[0],
			market.FieldOpen:   r[1],
			market.FieldClose:  r[2],
			market.FieldHigh:   r[3],
			market.FieldLow:    r[4],
			market.FieldVolume: r[5],
		})
	}
	return out, nil
}

// parseQuote extracts the fields of a `v_sh600519="1~name~code~...";` response.
func parseQuote(body string) ([]string, error) {
	open := strings.IndexByte(body, '"')
	closeIdx := strings.LastIndexByte(body, '"')
	if open < 0 || closeIdx <= open {
		return nil, fmt.Errorf("tencent: malformed quote %q", truncate(body))
	}
	fields := strings.Split(body[open+1:closeIdx], "~")
	if len(fields) < quoteFields || fields[qCode] == "" {
		return nil, fmt.Errorf("tencent: quote has %d fields, want %d", len(fields), quoteFields)
	}
	return fields, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var f float64
		if _, err := fmt.Sscan(x, &f); err == nil {
			return f
		}
	}
	return 0
}

func withDefault(h map[string]string, key, value string) map[string]string {
	if h == nil {
		h = make(map[string]string, 1)
	}
	if _, ok := h[key]; !ok {
		h[key] = value
	}
	return h
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
