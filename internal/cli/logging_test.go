package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"equityfeed/internal/config"
	"equityfeed/pkg/confkit"
	"equityfeed/pkg/market"
)

func TestConfigSummaryLines(t *testing.T) {
	cfg := &config.Config{Env: "dev", CacheDir: "/var/cache/equityfeed", BatchWidth: 5}
	cfg.Warmer.Symbols = []string{"600519"}
	cfg.Market = confkit.Section[market.Config]{
		File: "etc/market.yaml",
		Value: &market.Config{Routes: map[string][]string{
			string(market.KindSnapshot): {"tencent", "sina"},
		}},
	}

	joined := strings.Join(ConfigSummaryLines(cfg), "\n")
	assert.Contains(t, joined, "Environment: dev")
	assert.Contains(t, joined, "Cache dir: /var/cache/equityfeed")
	assert.Contains(t, joined, "Postgres: not configured")
	assert.Contains(t, joined, "Market config: etc/market.yaml")
	assert.Contains(t, joined, "Route market_snapshot: tencent > sina")
	assert.Contains(t, joined, "Warmer: 1 symbols every 5m0s")
	assert.Contains(t, joined, "Race: 3 workers, 5s deadline")
}

func TestConfigSummaryLinesNil(t *testing.T) {
	assert.Equal(t, []string{"Configuration: <nil>"}, ConfigSummaryLines(nil))
}
