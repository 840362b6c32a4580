package httpfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
)

const spotCSV = "代码,名称,最新价,成交量,总市值\n" +
	"600519,贵州茅台,1700.00,23456,21355.6\n" +
	"000001,平安银行,9.21,880000,1787.3\n"

func newFeed(t *testing.T, format string, paths map[string]string, units map[string]map[string]float64) (*Source, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/spot.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(spotCSV))
	})
	mux.HandleFunc("/hist/000001", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20240101", r.URL.Query().Get("from"))
		assert.Equal(t, "20240131", r.URL.Query().Get("to"))
		assert.Equal(t, "qfq", r.URL.Query().Get("fq"))
		_, _ = w.Write([]byte(`{"data":[
			{"日期":"2024-01-02","开盘":9.39,"收盘":9.21,"最高":9.42,"最低":9.21,"成交量":1500},
			{"日期":"2024-01-03","开盘":9.19,"收盘":9.20,"最高":9.22,"最低":9.15,"成交量":1400}
		]}`))
	})
	mux.HandleFunc("/ind/600519", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pe_ratio":25.3,"price_to_book":8.1,"return_on_equity":0.31}`))
	})
	srv := httptest.NewServer(mux)
	src, err := New("feed", &market.SourceConfig{
		BaseURL:      srv.URL,
		Format:       format,
		Paths:        paths,
		Units:        units,
		CompactDates: true,
	})
	require.NoError(t, err)
	return src, srv
}

func TestCSVSnapshotPicksRow(t *testing.T) {
	src, srv := newFeed(t, FormatCSV,
		map[string]string{"snapshot": "/spot.csv"},
		map[string]map[string]float64{"market_snapshot": {market.FieldVolume: 100, market.FieldMarketCap: 1e8}})
	defer srv.Close()

	req := market.SnapshotRequest("sz000001")
	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, raw.Rows, 1)

	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	snap, ok := payload.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "平安银行", snap.Name)
	assert.Equal(t, 88000000.0, snap.Volume)
	assert.InDelta(t, 1.7873e11, snap.MarketCap, 1)
}

func TestCSVSnapshotUnknownSymbol(t *testing.T) {
	src, srv := newFeed(t, FormatCSV, map[string]string{"snapshot": "/spot.csv"}, nil)
	defer srv.Close()

	raw, err := src.Fetch(context.Background(), market.SnapshotRequest("600000"))
	require.NoError(t, err)
	assert.Empty(t, raw.Rows)
}

func TestJSONEnvelopeHistory(t *testing.T) {
	src, srv := newFeed(t, FormatJSON,
		map[string]string{"price_history": "/hist/{code}?from={start}&to={end}&fq={adjust}"}, nil)
	defer srv.Close()

	req := market.HistoryRequest("000001", "2024-01-01", "2024-01-31", market.AdjustForward)
	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	bars := payload.Bars()
	require.Len(t, bars, 2)
	assert.Equal(t, 9.21, bars[0].Close)
}

func TestJSONObjectRecord(t *testing.T) {
	src, srv := newFeed(t, FormatJSON, map[string]string{"indicators": "/ind/{code}"}, nil)
	defer srv.Close()

	raw, err := src.Fetch(context.Background(), market.IndicatorsRequest("600519"))
	require.NoError(t, err)
	require.Len(t, raw.Rows, 1)
	assert.Equal(t, 25.3, raw.Rows[0][market.FieldPERatio])
}

func TestSupportsConfiguredKinds(t *testing.T) {
	src, srv := newFeed(t, FormatJSON, map[string]string{"indicators": "/ind/{code}"}, nil)
	defer srv.Close()

	assert.True(t, src.Supports(market.KindIndicators))
	assert.False(t, src.Supports(market.KindSnapshot))
	_, err := src.Fetch(context.Background(), market.SnapshotRequest("600519"))
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New("feed", &market.SourceConfig{Format: "xml", Paths: map[string]string{"snapshot": "/x"}})
	assert.Error(t, err)
	_, err = New("feed", &market.SourceConfig{Format: "csv"})
	assert.Error(t, err)
	_, err = New("feed", &market.SourceConfig{Paths: map[string]string{"quotes": "/x"}})
	assert.Error(t, err)
}
