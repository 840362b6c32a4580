package config

import (
	"equityfeed/pkg/confkit"
	"equityfeed/pkg/market"
)

// MustLoadMarket loads etc/market.yaml from the project root and panics on error.
// It isolates the source configuration for tools that do not need the server config.
func MustLoadMarket() *market.Config {
	return market.MustLoad()
}

// DefaultPath returns etc/equityfeed.yaml under the project root.
func DefaultPath() string {
	return confkit.MustProjectPath("etc/equityfeed.yaml")
}
