package sina

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
	"equityfeed/pkg/retry"
)

func newServer(t *testing.T, directorySize int) *httptest.Server {
	t.Helper()
	quote, err := simplifiedchinese.GBK.NewEncoder().String(
		`var hq_str_sh600519="贵州茅台,1695.000,1690.000,1700.000,1710.000,1688.000,1699.990,1700.000,2345600,3987654000.000,100,1699.99";`)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/list=sh600519", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://finance.sina.com.cn/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "application/javascript; charset=GBK")
		_, _ = w.Write([]byte(quote))
	})
	mux.HandleFunc(klinePath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sz000001", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[
			{"day":"2023-12-29","open":"9.30","high":"9.40","low":"9.20","close":"9.39","volume":"1000"},
			{"day":"2024-01-02","open":"9.39","high":"9.42","low":"9.21","close":"9.21","volume":"1500"},
			{"day":"2024-01-03","open":"9.19","high":"9.22","low":"9.15","close":"9.20","volume":"-5"},
			{"day":"2024-01-04","open":"9.19","high":"9.19","low":"9.08","close":"9.11","volume":"1300"}
		]`))
	})
	mux.HandleFunc(nodePath, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		from := (page - 1) * pageSize
		var out []nodeRow
		for i := from; i < directorySize && i < from+pageSize; i++ {
			code := fmt.Sprintf("%06d", 600000+i)
			out = append(out, nodeRow{Symbol: "sh" + code, Code: code, Name: "Stock " + code})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	return httptest.NewServer(mux)
}

func TestSnapshotLacksMarketCap(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("sina", &market.SourceConfig{BaseURL: srv.URL})

	raw, err := src.Fetch(context.Background(), market.SnapshotRequest("600519"))
	require.NoError(t, err)
	assert.Equal(t, "贵州茅台", raw.Rows[0][market.FieldName])

	_, err = normalize.Normalize(market.SnapshotRequest("600519"), raw)
	var se *normalize.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Missing, market.FieldMarketCap)
}

func TestHistoryFiltersWindowAndDropsBadRows(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("sina", &market.SourceConfig{BaseURL: srv.URL})
	req := market.HistoryRequest("000001", "2024-01-01", "2024-01-31", market.AdjustNone)

	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, raw.Rows, 3)

	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	bars := payload.Bars()
	require.Len(t, bars, 2, "negative volume row is dropped")
	assert.Equal(t, 9.21, bars[0].Close)
}

func TestHistoryRejectsAdjusted(t *testing.T) {
	src := New("sina", nil)
	_, err := src.Fetch(context.Background(), market.HistoryRequest("000001", "2024-01-01", "2024-01-31", market.AdjustForward))
	assert.ErrorIs(t, err, ErrAdjustUnsupported)
}

func TestDirectoryPages(t *testing.T) {
	srv := newServer(t, 250)
	defer srv.Close()
	src := New("sina", &market.SourceConfig{BaseURL: srv.URL})

	raw, err := src.Fetch(context.Background(), market.DirectoryRequest())
	require.NoError(t, err)
	require.Len(t, raw.Rows, 250)

	payload, err := normalize.New(normalize.WithMinDirectoryRows(200)).Normalize(market.DirectoryRequest(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Stock 600249", payload.Names()["600249"])

	_, err = normalize.Normalize(market.DirectoryRequest(), raw)
	assert.ErrorIs(t, err, normalize.ErrSchema, "a short directory is rejected")
}

func TestHistoryBeyondKlineDepthFails(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("sina", &market.SourceConfig{BaseURL: srv.URL})
	src.depth = 4

	_, err := src.Fetch(context.Background(),
		market.HistoryRequest("000001", "2023-11-01", "2024-01-31", market.AdjustNone))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHistoryTruncated)
	assert.True(t, retry.IsPermanent(err))

	raw, err := src.Fetch(context.Background(),
		market.HistoryRequest("000001", "2023-12-20", "2024-01-31", market.AdjustNone))
	require.NoError(t, err, "a holiday-sized gap is not truncation")
	assert.Len(t, raw.Rows, 4)
}

func TestShortHistoryIsNotTruncation(t *testing.T) {
	srv := newServer(t, 0)
	defer srv.Close()
	src := New("sina", &market.SourceConfig{BaseURL: srv.URL})

	raw, err := src.Fetch(context.Background(),
		market.HistoryRequest("000001", "2015-01-01", "2024-01-31", market.AdjustNone))
	require.NoError(t, err, "fewer bars than the depth means the listing is younger")
	assert.Len(t, raw.Rows, 4)
}
