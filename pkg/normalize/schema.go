package normalize

import "equityfeed/pkg/market"

// DefaultMinDirectoryRows is the smallest symbol directory accepted as complete.
const DefaultMinDirectoryRows = 1000

type fieldType int

const (
	numeric fieldType = iota
	text
	date
	code
)

type field struct {
	name     string
	typ      fieldType
	required bool
	// check is the domain constraint for numeric fields; rule describes it in errors.
	check func(float64) bool
	rule  string
}

type schema struct {
	fields  []field
	minRows int
	// keyed tables are sorted and de-duplicated by this text column.
	key string
}

func positive(v float64) bool    { return v > 0 }
func nonNegative(v float64) bool { return v >= 0 }

func req(name string, typ fieldType) field { return field{name: name, typ: typ, required: true} }
func opt(name string, typ fieldType) field { return field{name: name, typ: typ} }

func reqPositive(name string) field {
	return field{name: name, typ: numeric, required: true, check: positive, rule: "must be positive"}
}

func reqNonNegative(name string) field {
	return field{name: name, typ: numeric, required: true, check: nonNegative, rule: "must not be negative"}
}

func optNonNegative(name string) field {
	return field{name: name, typ: numeric, check: nonNegative, rule: "must not be negative"}
}

func optPositive(name string) field {
	return field{name: name, typ: numeric, check: positive, rule: "must be positive"}
}

func defaultSchemas(minDirectoryRows int) map[market.Kind]schema {
	return map[market.Kind]schema{
		market.KindSnapshot: {fields: []field{
			reqPositive(market.FieldPrice),
			reqNonNegative(market.FieldVolume),
			reqPositive(market.FieldMarketCap),
			opt(market.FieldName, text),
			optPositive(market.FieldOpen),
			optPositive(market.FieldHigh),
			optPositive(market.FieldLow),
			optPositive(market.FieldPrevClose),
			optNonNegative(market.FieldAmount),
			opt(market.FieldChangePercent, numeric),
			optNonNegative(market.FieldAverageVolume),
			optPositive(market.FieldFiftyTwoWeekHigh),
			optPositive(market.FieldFiftyTwoWeekLow),
			optPositive(market.FieldFloatMarketCap),
			opt(market.FieldPERatio, numeric),
			opt(market.FieldPriceToBook, numeric),
		}},
		market.KindPriceHistory: {key: market.FieldDate, fields: []field{
			req(market.FieldDate, date),
			reqPositive(market.FieldOpen),
			reqPositive(market.FieldHigh),
			reqPositive(market.FieldLow),
			reqPositive(market.FieldClose),
			reqNonNegative(market.FieldVolume),
			optNonNegative(market.FieldAmount),
			opt(market.FieldChangePercent, numeric),
			optNonNegative(market.FieldTurnover),
		}},
		market.KindIndicators: {fields: []field{
			req(market.FieldPERatio, numeric),
			req(market.FieldPriceToBook, numeric),
			req(market.FieldReturnOnEquity, numeric),
			optPositive(market.FieldMarketCap),
			optPositive(market.FieldFloatMarketCap),
			opt(market.FieldNetMargin, numeric),
			opt(market.FieldOperatingMargin, numeric),
			opt(market.FieldRevenueGrowth, numeric),
			opt(market.FieldEarningsGrowth, numeric),
			opt(market.FieldBookValueGrowth, numeric),
			optNonNegative(market.FieldCurrentRatio),
			opt(market.FieldDebtToEquity, numeric),
			opt(market.FieldFreeCashFlowPerShare, numeric),
			opt(market.FieldEarningsPerShare, numeric),
			opt(market.FieldPriceToSales, numeric),
			opt(market.FieldDataDate, date),
		}},
		market.KindLineItems: {key: market.FieldPeriod, fields: []field{
			req(market.FieldPeriod, date),
			req(market.FieldNetIncome, numeric),
			reqNonNegative(market.FieldOperatingRevenue),
			req(market.FieldOperatingProfit, numeric),
			req(market.FieldFreeCashFlow, numeric),
			opt(market.FieldWorkingCapital, numeric),
			opt(market.FieldDepreciation, numeric),
			optNonNegative(market.FieldCapitalExpenditure),
		}},
		market.KindSymbolDirectory: {minRows: minDirectoryRows, key: market.FieldCode, fields: []field{
			req(market.FieldCode, code),
			req(market.FieldName, text),
		}},
	}
}
