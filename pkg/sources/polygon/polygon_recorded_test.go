package polygon

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/cassette"
	"github.com/dnaeon/go-vcr/recorder"
	polygon "github.com/polygon-io/client-go/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
)

// Replays a recorded aggregates call. Skips unless the cassette exists or
// RECORD_CASSETTES=1 (recording also needs POLYGON_API_KEY).
func TestFetchHistory_Recorded(t *testing.T) {
	name := filepath.Join("testdata", "cassettes", "polygon_aggs_aapl")
	if _, err := os.Stat(name + ".yaml"); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", name)
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	}

	r, err := recorder.New(name)
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()
	r.AddFilter(func(i *cassette.Interaction) error {
		i.Request.URL = redactKey(i.Request.URL)
		delete(i.Request.Headers, "Authorization")
		return nil
	})

	key := os.Getenv("POLYGON_API_KEY")
	if key == "" {
		key = "replay"
	}
	src := New("polygon", polygon.NewWithClient(key, &http.Client{Transport: r}))
	req := market.HistoryRequest("AAPL", "2024-01-02", "2024-01-12", market.AdjustForward)

	raw, err := src.Fetch(context.Background(), req)
	require.NoError(t, err)
	payload, err := normalize.Normalize(req, raw)
	require.NoError(t, err)
	bars := payload.Bars()
	require.NotEmpty(t, bars)
	assert.Equal(t, "2024-01-02", bars[0].Date.Format(market.DateLayout))
	assert.Greater(t, bars[0].Close, 0.0)
}

func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Del("apiKey")
	u.RawQuery = q.Encode()
	return u.String()
}

func TestSupports(t *testing.T) {
	src := New("polygon", polygon.New("key"))
	assert.True(t, src.Supports(market.KindPriceHistory))
	assert.False(t, src.Supports(market.KindSnapshot))
	_, err := src.Fetch(context.Background(), market.SnapshotRequest("AAPL"))
	assert.Error(t, err)
}

func TestBuilderRequiresKey(t *testing.T) {
	cfg := &market.Config{
		Sources: map[string]*market.SourceConfig{"poly": {Type: "polygon"}},
	}
	_, err := cfg.BuildSources()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
