package market

import (
	"sort"
	"time"
)

// Canonical field names shared by sources, the normalizer and downstream consumers.
const (
	FieldDate          = "date"
	FieldOpen          = "open"
	FieldHigh          = "high"
	FieldLow           = "low"
	FieldClose         = "close"
	FieldVolume        = "volume"
	FieldAmount        = "amount"
	FieldChangePercent = "change_percent"
	FieldTurnover      = "turnover"

	FieldName             = "name"
	FieldPrice            = "price"
	FieldPrevClose        = "prev_close"
	FieldMarketCap        = "market_cap"
	FieldFloatMarketCap   = "float_market_cap"
	FieldAverageVolume    = "average_volume"
	FieldFiftyTwoWeekHigh = "fifty_two_week_high"
	FieldFiftyTwoWeekLow  = "fifty_two_week_low"

	FieldPERatio              = "pe_ratio"
	FieldPriceToBook          = "price_to_book"
	FieldPriceToSales         = "price_to_sales"
	FieldReturnOnEquity       = "return_on_equity"
	FieldNetMargin            = "net_margin"
	FieldOperatingMargin      = "operating_margin"
	FieldRevenueGrowth        = "revenue_growth"
	FieldEarningsGrowth       = "earnings_growth"
	FieldBookValueGrowth      = "book_value_growth"
	FieldCurrentRatio         = "current_ratio"
	FieldDebtToEquity         = "debt_to_equity"
	FieldFreeCashFlowPerShare = "free_cash_flow_per_share"
	FieldEarningsPerShare     = "earnings_per_share"
	FieldDataDate             = "data_date"
	FieldPeriod               = "period"
	FieldNetIncome            = "net_income"
	FieldOperatingRevenue     = "operating_revenue"
	FieldOperatingProfit      = "operating_profit"
	FieldWorkingCapital       = "working_capital"
	FieldDepreciation         = "depreciation_and_amortization"
	FieldCapitalExpenditure   = "capital_expenditure"
	FieldFreeCashFlow         = "free_cash_flow"
	FieldCode                 = "code"
)

// Record is one canonical row: numeric fields plus textual fields such as dates and names.
type Record struct {
	Values map[string]float64 `json:"values,omitempty" msgpack:"values,omitempty"`
	Text   map[string]string  `json:"text,omitempty" msgpack:"text,omitempty"`
}

// NewRecord returns an empty record ready for writes.
func NewRecord() Record {
	return Record{Values: make(map[string]float64), Text: make(map[string]string)}
}

// Float returns a numeric field.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Value returns a numeric field or zero.
func (r Record) Value(field string) float64 {
	return r.Values[field]
}

// String returns a textual field or the empty string.
func (r Record) String(field string) string {
	return r.Text[field]
}

// Has reports whether the field is present either as a number or as text.
func (r Record) Has(field string) bool {
	if _, ok := r.Values[field]; ok {
		return true
	}
	_, ok := r.Text[field]
	return ok
}

// Table is an ordered set of canonical rows sharing one column set.
type Table struct {
	Columns []string `json:"columns" msgpack:"columns"`
	Rows    []Record `json:"rows" msgpack:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Payload is the canonical, validated result of an acquisition.
type Payload struct {
	Kind   Kind    `json:"kind" msgpack:"kind"`
	Symbol string  `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Record *Record `json:"record,omitempty" msgpack:"record,omitempty"`
	Table  *Table  `json:"table,omitempty" msgpack:"table,omitempty"`
}

// Snapshot is a typed view of a market snapshot payload.
type Snapshot struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name,omitempty"`
	Price            float64 `json:"price"`
	Volume           float64 `json:"volume"`
	MarketCap        float64 `json:"market_cap"`
	FloatMarketCap   float64 `json:"float_market_cap,omitempty"`
	AverageVolume    float64 `json:"average_volume,omitempty"`
	FiftyTwoWeekHigh float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow  float64 `json:"fifty_two_week_low,omitempty"`
	ChangePercent    float64 `json:"change_percent,omitempty"`
}

// Bar is one daily price bar.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount,omitempty"`
}

// Snapshot converts a snapshot payload into its typed view.
func (p *Payload) Snapshot() (Snapshot, bool) {
	if p == nil || p.Kind != KindSnapshot || p.Record == nil {
		return Snapshot{}, false
	}
	r := p.Record
	return Snapshot{
		Symbol:           p.Symbol,
		Name:             r.String(FieldName),
		Price:            r.Value(FieldPrice),
		Volume:           r.Value(FieldVolume),
		MarketCap:        r.Value(FieldMarketCap),
		FloatMarketCap:   r.Value(FieldFloatMarketCap),
		AverageVolume:    r.Value(FieldAverageVolume),
		FiftyTwoWeekHigh: r.Value(FieldFiftyTwoWeekHigh),
		FiftyTwoWeekLow:  r.Value(FieldFiftyTwoWeekLow),
		ChangePercent:    r.Value(FieldChangePercent),
	}, true
}

// Bars converts a price history payload into typed bars, oldest first.
func (p *Payload) Bars() []Bar {
	if p == nil || p.Kind != KindPriceHistory || p.Table == nil {
		return nil
	}
	bars := make([]Bar, 0, len(p.Table.Rows))
	for _, row := range p.Table.Rows {
		date, err := ParseDate(row.String(FieldDate))
		if err != nil {
			continue
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   row.Value(FieldOpen),
			High:   row.Value(FieldHigh),
			Low:    row.Value(FieldLow),
			Close:  row.Value(FieldClose),
			Volume: row.Value(FieldVolume),
			Amount: row.Value(FieldAmount),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

// Names converts a symbol directory payload into a code to name map.
func (p *Payload) Names() map[string]string {
	if p == nil || p.Kind != KindSymbolDirectory || p.Table == nil {
		return nil
	}
	out := make(map[string]string, len(p.Table.Rows))
	for _, row := range p.Table.Rows {
		code := row.String(FieldCode)
		if code == "" {
			continue
		}
		out[code] = row.String(FieldName)
	}
	return out
}
