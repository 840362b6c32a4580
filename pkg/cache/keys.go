package cache

import (
	"strings"
	"time"

	"equityfeed/pkg/market"
)

// Namespace is the Redis key prefix for shared cache entries.
const Namespace = "equityfeed"

// TTLConfig holds per-kind cache lifetimes in seconds.
type TTLConfig struct {
	Snapshot   int `json:",default=300"`
	History    int `json:",default=21600"`
	Indicators int `json:",default=43200"`
	LineItems  int `json:",default=86400"`
	Directory  int `json:",default=86400"`
}

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Snapshot   time.Duration
	History    time.Duration
	Indicators time.Duration
	LineItems  time.Duration
	Directory  time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg TTLConfig) TTLSet {
	return TTLSet{
		Snapshot:   durationOrDefault(cfg.Snapshot, 5*time.Minute),
		History:    durationOrDefault(cfg.History, 6*time.Hour),
		Indicators: durationOrDefault(cfg.Indicators, 12*time.Hour),
		LineItems:  durationOrDefault(cfg.LineItems, 24*time.Hour),
		Directory:  durationOrDefault(cfg.Directory, 24*time.Hour),
	}
}

// DefaultTTLSet returns the built-in lifetimes.
func DefaultTTLSet() TTLSet {
	return NewTTLSet(TTLConfig{})
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given kind.
func (t TTLSet) Duration(kind market.Kind) time.Duration {
	switch kind {
	case market.KindSnapshot:
		return t.Snapshot
	case market.KindPriceHistory:
		return t.History
	case market.KindIndicators:
		return t.Indicators
	case market.KindLineItems:
		return t.LineItems
	case market.KindSymbolDirectory:
		return t.Directory
	default:
		return 0
	}
}

// Scaled applies a multiplier to a kind's TTL.
func (t TTLSet) Scaled(kind market.Kind, factor float64) time.Duration {
	base := t.Duration(kind)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// EntryKey returns the shared-tier key for a fingerprint.
func EntryKey(fingerprint string) string {
	return formatKey("entry", fingerprint)
}

// FormatCacheKey is exported for dynamic key construction.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}
