package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/internal/config"
	"equityfeed/pkg/confkit"
	"equityfeed/pkg/market"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	ttl := cfg.TTLSet()
	rc := cfg.RaceConfig()
	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Cache dir: %s", cfg.CachePath()),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (snapshot/history/indicators/line items/directory): %s / %s / %s / %s / %s",
			ttl.Snapshot, ttl.History, ttl.Indicators, ttl.LineItems, ttl.Directory),
		fmt.Sprintf("Race: %d workers, %s deadline", rc.MaxWorkers, rc.RaceTimeout),
		fmt.Sprintf("Request timeout: %s, batch width %d", cfg.RequestTimeoutDuration(), cfg.BatchWidth),
		sectionLine("Market config", cfg.Market),
	}
	if m := cfg.Market.Value; m != nil {
		for _, kind := range market.Kinds() {
			if names := m.Routes[string(kind)]; len(names) > 0 {
				lines = append(lines, fmt.Sprintf("Route %s: %s", kind, strings.Join(names, " > ")))
			}
		}
	}
	if len(cfg.Warmer.Symbols) > 0 {
		lines = append(lines, fmt.Sprintf("Warmer: %d symbols every %s", len(cfg.Warmer.Symbols), cfg.WarmerInterval()))
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case section.Loaded() && strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Loaded():
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
