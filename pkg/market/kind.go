package market

import (
	"fmt"
	"strings"
)

// Kind identifies a category of equity data.
type Kind string

const (
	KindSnapshot        Kind = "market_snapshot"
	KindPriceHistory    Kind = "price_history"
	KindIndicators      Kind = "financial_indicators"
	KindLineItems       Kind = "line_items"
	KindSymbolDirectory Kind = "symbol_directory"
)

var allKinds = []Kind{
	KindSnapshot,
	KindPriceHistory,
	KindIndicators,
	KindLineItems,
	KindSymbolDirectory,
}

var kindAliases = map[string]Kind{
	"snapshot":   KindSnapshot,
	"spot":       KindSnapshot,
	"history":    KindPriceHistory,
	"prices":     KindPriceHistory,
	"indicators": KindIndicators,
	"statements": KindLineItems,
	"directory":  KindSymbolDirectory,
	"names":      KindSymbolDirectory,
}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind accepts canonical kind names and the short aliases used by the CLI and routes.
func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, k := range allKinds {
		if string(k) == key {
			return k, nil
		}
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return "", fmt.Errorf("market: unknown data kind %q", s)
}

// IsTable reports whether payloads of this kind are row sets rather than a single record.
func (k Kind) IsTable() bool {
	switch k {
	case KindPriceHistory, KindLineItems, KindSymbolDirectory:
		return true
	default:
		return false
	}
}

// HasSubject reports whether requests of this kind are keyed by a symbol.
func (k Kind) HasSubject() bool {
	return k != KindSymbolDirectory
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
