package eastmoney

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
	"equityfeed/pkg/retry"
)

const quoteJSON = `{"rc":0,"data":{"f43":1700.0,"f44":1710.0,"f45":1688.0,"f46":1695.0,"f47":23456,
"f48":3987654000.0,"f57":"600519","f58":"贵州茅台","f60":1690.0,"f116":2135560000000.0,
"f117":2135560000000.0,"f162":25.31,"f167":8.12,"f168":0.19,"f170":0.59}}`

func newServer(t *testing.T, directorySize int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(quotePath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://quote.eastmoney.com/", r.Header.Get("Referer"))
		if r.URL.Query().Get("secid") != "1.600519" {
			_, _ = w.Write([]byte(`{"rc":0,"data":null}`))
			return
		}
		_, _ = w.Write([]byte(quoteJSON))
	})
	mux.HandleFunc(klinePath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "0.000001", q.Get("secid"))
		assert.Equal(t, "1", q.Get("fqt"))
		assert.Equal(t, "20240101", q.Get("beg"))
		assert.Equal(t, "20240131", q.Get("end"))
		_, _ = w.Write([]byte(`{"rc":0,"data":{"code":"000001","klines":[
			"2024-01-02,9.39,9.21,9.42,9.21,15000,13900000.0",
			"2024-01-03,9.19,9.20,9.22,9.15,14000,12800000.0",
			"broken"]}}`))
	})
	mux.HandleFunc(listPath, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pz"))
		var diff []string
		for i := (page - 1) * size; i < directorySize && i < page*size; i++ {
			diff = append(diff, fmt.Sprintf(`{"f12":"%06d","f14":"Stock %d"}`, 600000+i, i))
		}
		fmt.Fprintf(w, `{"rc":0,"data":{"total":%d,"diff":[%s]}}`, directorySize, strings.Join(diff, ","))
	})
	mux.HandleFunc(reportPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `(SECUCODE="600519.SH")`, q.Get("filter"))
		switch q.Get("reportName") {
		case mainReport:
			_, _ = w.Write([]byte(`{"success":true,"result":{"data":[{"REPORT_DATE":"2024-09-30 00:00:00",
				"ROEJQ":24.64,"XSJLL":52.5,"TOTALOPERATEREVETZ":16.91,"PARENTNETPROFITTZ":15.04,"LD":4.55,
				"ZCFZL":12.8,"EPSJB":47.44,"MGJYXJJE":36.12,"TOTALOPERATEREVE":120000000000.0}]}}`))
		case incomeReport:
			_, _ = w.Write([]byte(`{"success":true,"result":{"data":[
				{"REPORT_DATE":"2024-09-30 00:00:00","PARENT_NETPROFIT":60800000000.0,"TOTAL_OPERATE_INCOME":120000000000.0,"OPERATE_PROFIT":85000000000.0},
				{"REPORT_DATE":"2024-06-30 00:00:00","PARENT_NETPROFIT":41700000000.0,"TOTAL_OPERATE_INCOME":83400000000.0,"OPERATE_PROFIT":58000000000.0},
				{"REPORT_DATE":"2024-03-31 00:00:00","PARENT_NETPROFIT":24000000000.0,"TOTAL_OPERATE_INCOME":46500000000.0,"OPERATE_PROFIT":33000000000.0}]}}`))
		case cashflowReport:
			_, _ = w.Write([]byte(`{"success":true,"result":{"data":[
				{"REPORT_DATE":"2024-09-30 00:00:00","NETCASH_OPERATE":40000000000.0,"CONSTRUCT_LONG_ASSET":3000000000.0},
				{"REPORT_DATE":"2024-06-30 00:00:00","NETCASH_OPERATE":26000000000.0,"CONSTRUCT_LONG_ASSET":2000000000.0}]}}`))
		default:
			_, _ = w.Write([]byte(`{"success":false,"message":"unknown report","result":null}`))
		}
	})
	return httptest.NewServer(mux)
}

func TestSnapshot(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})

	req := market.SnapshotRequest("600519")
	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)

	snap, ok := payload.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "贵州茅台", snap.Name)
	assert.Equal(t, 1700.0, snap.Price)
	assert.Equal(t, 2345600.0, snap.Volume, "lots become shares")
	assert.Equal(t, 2.13556e12, snap.MarketCap)
}

func TestSnapshotUnknownSymbol(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})

	_, err := src.Fetch(context.Background(), market.SnapshotRequest("600000"))
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.True(t, retry.IsPermanent(err))

	_, err = src.Fetch(context.Background(), market.SnapshotRequest("AAPL"))
	assert.ErrorIs(t, err, market.ErrInvalidRequest)
}

func TestAdjustedHistory(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})
	req := market.HistoryRequest("000001", "2024-01-01", "2024-01-31", market.AdjustForward)

	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	bars := payload.Bars()
	require.Len(t, bars, 2)
	assert.Equal(t, 9.39, bars[0].Open)
	assert.Equal(t, 9.21, bars[0].Close)
	assert.Equal(t, 1500000.0, bars[0].Volume)
}

func TestIndicatorsJoinReportAndQuote(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})

	req := market.IndicatorsRequest("600519")
	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)

	rec := payload.Record
	assert.Equal(t, 25.31, rec.Value(market.FieldPERatio))
	assert.Equal(t, 8.12, rec.Value(market.FieldPriceToBook))
	assert.InDelta(t, 0.2464, rec.Value(market.FieldReturnOnEquity), 1e-9, "percent becomes a ratio")
	assert.InDelta(t, 0.128, rec.Value(market.FieldDebtToEquity), 1e-9)
	assert.Equal(t, 4.55, rec.Value(market.FieldCurrentRatio))
	assert.InDelta(t, 2.13556e12/1.2e11, rec.Value(market.FieldPriceToSales), 1e-9)
	assert.Equal(t, "2024-09-30", rec.String(market.FieldDataDate))
}

func TestLineItemsMergeStatements(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})

	req := market.LineItemsRequest("600519")
	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, raw.Rows, 2, "periods without a cash-flow statement are skipped")

	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	rows := payload.Table.Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-06-30", rows[0].String(market.FieldPeriod))
	assert.Equal(t, 24e9, rows[0].Value(market.FieldFreeCashFlow))
	assert.Equal(t, 37e9, rows[1].Value(market.FieldFreeCashFlow))
	assert.Equal(t, 85e9, rows[1].Value(market.FieldOperatingProfit))
}

func TestDirectoryPages(t *testing.T) {
	srv := newServer(t, listPageSize+20)
	defer srv.Close()
	src := New("eastmoney", &market.SourceConfig{BaseURL: srv.URL})

	raw, err := src.Fetch(context.Background(), market.DirectoryRequest())
	require.NoError(t, err)
	assert.Len(t, raw.Rows, listPageSize+20)
	assert.Equal(t, "600000", raw.Rows[0][market.FieldCode])
}

func TestSupportsEveryKind(t *testing.T) {
	src := New("eastmoney", nil)
	for _, kind := range market.Kinds() {
		assert.True(t, src.Supports(kind), kind)
	}
}
