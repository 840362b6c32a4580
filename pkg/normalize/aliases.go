package normalize

import "equityfeed/pkg/market"

// aliases lists, per canonical field, the provider column names accepted in its place.
// The canonical name itself always wins; otherwise the first alias present is used.
var aliases = map[string][]string{
	market.FieldDate:          {"dt", "day", "日期", "Date", "DATE", "trade_date"},
	market.FieldOpen:          {"o", "开盘", "Open", "OPEN"},
	market.FieldHigh:          {"h", "最高", "High", "HIGH"},
	market.FieldLow:           {"l", "最低", "Low", "LOW"},
	market.FieldClose:         {"c", "收盘", "Close", "CLOSE"},
	market.FieldVolume:        {"v", "成交量", "Volume", "VOL", "VOLUME", "vol"},
	market.FieldAmount:        {"成交额", "amt", "Amount", "AMOUNT"},
	market.FieldChangePercent: {"涨跌幅", "chg", "pct_change", "change", "Change", "changepercent", "pct_chg"},
	market.FieldTurnover:      {"换手率", "turnoverratio", "turnover_rate"},

	market.FieldName:             {"名称", "股票简称", "Name", "NAME", "sec_name"},
	market.FieldCode:             {"代码", "股票代码", "symbol", "ticker", "Code", "CODE", "ts_code"},
	market.FieldPrice:            {"最新价", "last", "Price", "current", "trade", "lastPrice"},
	market.FieldPrevClose:        {"昨收", "pre_close", "prevClose", "settlement"},
	market.FieldMarketCap:        {"总市值", "mktcap", "marketCap", "total_mv", "MarketCap"},
	market.FieldFloatMarketCap:   {"流通市值", "float_mv", "circ_mv", "nmc"},
	market.FieldAverageVolume:    {"avg_volume", "averageVolume"},
	market.FieldFiftyTwoWeekHigh: {"52周最高", "high_52w", "fiftyTwoWeekHigh"},
	market.FieldFiftyTwoWeekLow:  {"52周最低", "low_52w", "fiftyTwoWeekLow"},

	market.FieldPERatio:              {"市盈率-动态", "市盈率", "pe", "PE", "pe_ttm", "per"},
	market.FieldPriceToBook:          {"市净率", "pb", "PB"},
	market.FieldPriceToSales:         {"市销率", "ps", "PS", "ps_ttm"},
	market.FieldReturnOnEquity:       {"净资产收益率", "roe", "ROE"},
	market.FieldNetMargin:            {"销售净利率", "netprofit_margin"},
	market.FieldOperatingMargin:      {"营业利润率", "op_margin"},
	market.FieldRevenueGrowth:        {"营业总收入同比增长率", "or_yoy"},
	market.FieldEarningsGrowth:       {"净利润同比增长率", "netprofit_yoy"},
	market.FieldBookValueGrowth:      {"每股净资产同比增长率", "bps_yoy"},
	market.FieldCurrentRatio:         {"流动比率", "currentRatio"},
	market.FieldDebtToEquity:         {"产权比率", "debt_to_eqt"},
	market.FieldFreeCashFlowPerShare: {"每股企业自由现金流量", "fcff_ps"},
	market.FieldEarningsPerShare:     {"基本每股收益", "eps", "EPS"},
	market.FieldDataDate:             {"报告期", "end_date", "report_date"},

	market.FieldPeriod:             {"报告期", "end_date", "report_date", "fiscal_period"},
	market.FieldNetIncome:          {"净利润", "n_income", "NetIncome"},
	market.FieldOperatingRevenue:   {"营业总收入", "营业收入", "revenue", "total_revenue"},
	market.FieldOperatingProfit:    {"营业利润", "operate_profit"},
	market.FieldWorkingCapital:     {"营运资本"},
	market.FieldDepreciation:       {"折旧与摊销", "da"},
	market.FieldCapitalExpenditure: {"资本支出", "capex"},
	market.FieldFreeCashFlow:       {"自由现金流", "fcf"},
}

// Aliases returns the alias list for a canonical field.
func Aliases(field string) []string {
	list := aliases[field]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// resolveColumn picks the key that supplies field from the set of keys present.
func resolveColumn(field string, present map[string]struct{}) (string, bool) {
	if _, ok := present[field]; ok {
		return field, true
	}
	for _, alias := range aliases[field] {
		if _, ok := present[alias]; ok {
			return alias, true
		}
	}
	return "", false
}
