// Package eastmoney reads quotes, klines, the A-share list and F10 financial reports
// from East Money's public push2 and datacenter endpoints.
package eastmoney

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
	"equityfeed/pkg/sources"
	"equityfeed/pkg/sources/httpx"
)

const (
	defaultQuoteURL   = "https://push2.eastmoney.com"
	defaultHistoryURL = "https://push2his.eastmoney.com"
	defaultReportURL  = "https://datacenter-web.eastmoney.com"

	quotePath  = "/api/qt/stock/get"
	klinePath  = "/api/qt/stock/kline/get"
	listPath   = "/api/qt/clist/get"
	reportPath = "/api/data/v1/get"

	quoteFields = "f43,f44,f45,f46,f47,f48,f57,f58,f60,f116,f117,f162,f167,f168,f170"
	// All A-share boards: SZ main, ChiNext, SH main, STAR and Beijing.
	listBoards = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"

	mainReport     = "RPT_F10_FINANCE_MAINFINADATA"
	incomeReport   = "RPT_DMSK_FN_INCOME"
	cashflowReport = "RPT_DMSK_FN_CASHFLOW"

	listPageSize  = 500
	maxListPages  = 20
	reportPeriods = 8
)

// Units: volume in lots of 100 shares, ratios published in percent.
const (
	lot     = 100
	percent = 0.01
)

// ErrUnknownSymbol is returned when the quote endpoint has no data for a code.
var ErrUnknownSymbol = errors.New("eastmoney: unknown symbol")

func init() {
	market.RegisterSourceType("eastmoney", func(name string, cfg *market.SourceConfig) (market.Source, error) {
		return New(name, cfg), nil
	})
}

// Source is the East Money adapter. It serves every kind.
type Source struct {
	name       string
	quoteURL   string
	historyURL string
	reportURL  string
	client     *httpx.Client
}

// New builds an East Money source; cfg.BaseURL overrides every host.
func New(name string, cfg *market.SourceConfig) *Source {
	if cfg == nil {
		cfg = &market.SourceConfig{}
	}
	s := &Source{
		name:       name,
		quoteURL:   defaultQuoteURL,
		historyURL: defaultHistoryURL,
		reportURL:  defaultReportURL,
		client:     httpx.FromConfig(cfg),
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		s.quoteURL, s.historyURL, s.reportURL = base, base, base
	}
	if s.client.Headers == nil {
		s.client.Headers = make(map[string]string, 1)
	}
	if _, ok := s.client.Headers["Referer"]; !ok {
		s.client.Headers["Referer"] = "https://quote.eastmoney.com/"
	}
	return s
}

// Name implements market.Source.
func (s *Source) Name() string { return s.name }

// Supports implements market.Source.
func (s *Source) Supports(kind market.Kind) bool { return kind.Valid() }

// Fetch implements market.Source.
func (s *Source) Fetch(ctx context.Context, req market.Request) (*market.Raw, error) {
	switch req.Kind {
	case market.KindSnapshot:
		row, err := s.quote(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		return market.RecordRaw(s.name, row).WithUnit(market.FieldVolume, lot), nil
	case market.KindPriceHistory:
		return s.history(ctx, req)
	case market.KindIndicators:
		return s.indicators(ctx, req.Symbol)
	case market.KindLineItems:
		return s.lineItems(ctx, req.Symbol)
	case market.KindSymbolDirectory:
		return s.directory(ctx)
	}
	return nil, retry.Permanent(fmt.Errorf("eastmoney: unsupported kind %s", req.Kind))
}

// secID renders the push2 security id: market 1 is Shanghai, 0 covers Shenzhen and Beijing.
func secID(symbol string) (string, error) {
	code, ex, err := sources.SplitSymbol(symbol)
	if err != nil {
		return "", retry.Permanent(err)
	}
	if ex == sources.Shanghai {
		return "1." + code, nil
	}
	return "0." + code, nil
}

// secuCode renders the datacenter code, e.g. 600519.SH.
func secuCode(symbol string) (string, error) {
	code, ex, err := sources.SplitSymbol(symbol)
	if err != nil {
		return "", retry.Permanent(err)
	}
	return code + "." + strings.ToUpper(string(ex)), nil
}

type quoteResponse struct {
	RC   int            `json:"rc"`
	Data map[string]any `json:"data"`
}

// quote returns the canonical snapshot row; with fltt=2 prices arrive as decimals and
// market caps in CNY.
func (s *Source) quote(ctx context.Context, symbol string) (map[string]any, error) {
	id, err := secID(symbol)
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"secid":  {id},
		"fltt":   {"2"},
		"invt":   {"2"},
		"fields": {quoteFields},
	}
	body, err := s.client.Get(ctx, s.quoteURL+quotePath, query, nil)
	if err != nil {
		return nil, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("eastmoney: decode quote: %w", err)
	}
	if resp.RC != 0 || len(resp.Data) == 0 {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownSymbol, id))
	}
	d := resp.Data
	return map[string]any{
		market.FieldPrice:          d["f43"],
		market.FieldHigh:           d["f44"],
		market.FieldLow:            d["f45"],
		market.FieldOpen:           d["f46"],
		market.FieldVolume:         d["f47"],
		market.FieldAmount:         d["f48"],
		market.FieldName:           d["f58"],
		market.FieldPrevClose:      d["f60"],
		market.FieldMarketCap:      d["f116"],
		market.FieldFloatMarketCap: d["f117"],
		market.FieldPERatio:        d["f162"],
		market.FieldPriceToBook:    d["f167"],
		market.FieldTurnover:       d["f168"],
		market.FieldChangePercent:  d["f170"],
	}, nil
}

type klineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// history reads daily bars for the whole window in one call; the endpoint pages by date
// range rather than by count.
func (s *Source) history(ctx context.Context, req market.Request) (*market.Raw, error) {
	id, err := secID(req.Symbol)
	if err != nil {
		return nil, err
	}
	fqt := "0"
	switch req.Adjust {
	case market.AdjustForward:
		fqt = "1"
	case market.AdjustBackward:
		fqt = "2"
	}
	query := url.Values{
		"secid":   {id},
		"fields1": {"f1,f2,f3"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57"},
		"klt":     {"101"},
		"fqt":     {fqt},
		"beg":     {strings.ReplaceAll(req.Start, "-", "")},
		"end":     {strings.ReplaceAll(req.End, "-", "")},
		"lmt":     {"1000000"},
	}
	body, err := s.client.Get(ctx, s.historyURL+klinePath, query, nil)
	if err != nil {
		return nil, err
	}
	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("eastmoney: decode kline: %w", err)
	}
	if resp.Data == nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownSymbol, id))
	}
	// Each line is "date,open,close,high,low,volume,amount".
	rows := make([]map[string]any, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		parts := strings.Split(line, ",")
		if len(parts) < 7 {
			continue
		}
		rows = append(rows, map[string]any{
			market.FieldDate:   parts[0],
			market.FieldOpen:   parts[1],
			market.FieldClose:  parts[2],
			market.FieldHigh:   parts[3],
			market.FieldLow:    parts[4],
			market.FieldVolume: parts[5],
			market.FieldAmount: parts[6],
		})
	}
	raw := &market.Raw{Source: s.name, Rows: rows}
	return raw.WithUnit(market.FieldVolume, lot), nil
}

type reportResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  *struct {
		Data []map[string]any `json:"data"`
	} `json:"result"`
}

// report returns the newest rows of a datacenter report for one company.
func (s *Source) report(ctx context.Context, name, code string, periods int) ([]map[string]any, error) {
	query := url.Values{
		"reportName":  {name},
		"columns":     {"ALL"},
		"filter":      {fmt.Sprintf(`(SECUCODE="%s")`, code)},
		"pageNumber":  {"1"},
		"pageSize":    {strconv.Itoa(periods)},
		"sortColumns": {"REPORT_DATE"},
		"sortTypes":   {"-1"},
	}
	body, err := s.client.Get(ctx, s.reportURL+reportPath, query, nil)
	if err != nil {
		return nil, err
	}
	var resp reportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("eastmoney: decode %s: %w", name, err)
	}
	if resp.Result == nil || len(resp.Result.Data) == 0 {
		return nil, retry.Permanent(fmt.Errorf("eastmoney: %s has no rows for %s: %s", name, code, resp.Message))
	}
	return resp.Result.Data, nil
}

// indicators joins the latest main financial indicators with the live valuation ratios.
func (s *Source) indicators(ctx context.Context, symbol string) (*market.Raw, error) {
	code, err := secuCode(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := s.report(ctx, mainReport, code, 1)
	if err != nil {
		return nil, err
	}
	quote, err := s.quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	latest := rows[0]
	row := map[string]any{
		market.FieldPERatio:              quote[market.FieldPERatio],
		market.FieldPriceToBook:          quote[market.FieldPriceToBook],
		market.FieldMarketCap:            quote[market.FieldMarketCap],
		market.FieldFloatMarketCap:       quote[market.FieldFloatMarketCap],
		market.FieldReturnOnEquity:       latest["ROEJQ"],
		market.FieldNetMargin:            latest["XSJLL"],
		market.FieldRevenueGrowth:        latest["TOTALOPERATEREVETZ"],
		market.FieldEarningsGrowth:       latest["PARENTNETPROFITTZ"],
		market.FieldCurrentRatio:         latest["LD"],
		market.FieldDebtToEquity:         latest["ZCFZL"],
		market.FieldEarningsPerShare:     latest["EPSJB"],
		market.FieldFreeCashFlowPerShare: latest["MGJYXJJE"],
		market.FieldDataDate:             latest["REPORT_DATE"],
	}
	if capital, ok := number(quote[market.FieldMarketCap]); ok {
		if revenue, ok := number(latest["TOTALOPERATEREVE"]); ok && revenue > 0 {
			row[market.FieldPriceToSales] = capital / revenue
		}
	}
	raw := market.RecordRaw(s.name, row)
	for _, f := range []string{
		market.FieldReturnOnEquity, market.FieldNetMargin, market.FieldRevenueGrowth,
		market.FieldEarningsGrowth, market.FieldDebtToEquity,
	} {
		raw.WithUnit(f, percent)
	}
	return raw, nil
}

// lineItems merges income and cash-flow statements by report date, newest periods only.
func (s *Source) lineItems(ctx context.Context, symbol string) (*market.Raw, error) {
	code, err := secuCode(symbol)
	if err != nil {
		return nil, err
	}
	income, err := s.report(ctx, incomeReport, code, reportPeriods)
	if err != nil {
		return nil, err
	}
	cashflow, err := s.report(ctx, cashflowReport, code, reportPeriods)
	if err != nil {
		return nil, err
	}
	flows := make(map[string]map[string]any, len(cashflow))
	for _, r := range cashflow {
		flows[fmt.Sprint(r["REPORT_DATE"])] = r
	}

	rows := make([]map[string]any, 0, len(income))
	for _, r := range income {
		period := fmt.Sprint(r["REPORT_DATE"])
		flow, ok := flows[period]
		if !ok {
			continue
		}
		row := map[string]any{
			market.FieldPeriod:             period,
			market.FieldNetIncome:          r["PARENT_NETPROFIT"],
			market.FieldOperatingRevenue:   r["TOTAL_OPERATE_INCOME"],
			market.FieldOperatingProfit:    r["OPERATE_PROFIT"],
			market.FieldCapitalExpenditure: flow["CONSTRUCT_LONG_ASSET"],
		}
		operating, okOp := number(flow["NETCASH_OPERATE"])
		capex, okCapex := number(flow["CONSTRUCT_LONG_ASSET"])
		if okOp && okCapex {
			row[market.FieldFreeCashFlow] = operating - capex
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i][market.FieldPeriod]) < fmt.Sprint(rows[j][market.FieldPeriod])
	})
	return &market.Raw{Source: s.name, Rows: rows}, nil
}

type listResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			Code string `json:"f12"`
			Name string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}

func (s *Source) directory(ctx context.Context) (*market.Raw, error) {
	var rows []map[string]any
	for page := 1; page <= maxListPages; page++ {
		query := url.Values{
			"pn":     {strconv.Itoa(page)},
			"pz":     {strconv.Itoa(listPageSize)},
			"po":     {"1"},
			"np":     {"1"},
			"fltt":   {"2"},
			"invt":   {"2"},
			"fid":    {"f12"},
			"fs":     {listBoards},
			"fields": {"f12,f14"},
		}
		body, err := s.client.Get(ctx, s.quoteURL+listPath, query, nil)
		if err != nil {
			return nil, fmt.Errorf("eastmoney: directory page %d: %w", page, err)
		}
		var resp listResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("eastmoney: decode directory page %d: %w", page, err)
		}
		if resp.Data == nil || len(resp.Data.Diff) == 0 {
			break
		}
		for _, d := range resp.Data.Diff {
			rows = append(rows, map[string]any{market.FieldCode: d.Code, market.FieldName: d.Name})
		}
		if len(rows) >= resp.Data.Total {
			break
		}
	}
	return &market.Raw{Source: s.name, Rows: rows}, nil
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
