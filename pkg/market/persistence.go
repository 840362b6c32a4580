package market

import "context"

//go:generate mockgen -destination=mock/persistence_mock.go -package=mock equityfeed/pkg/market Persistence

// Persistence hooks allow acquired data to be mirrored into external stores.
type Persistence interface {
	// RecordSnapshot persists the latest validated market snapshot for a symbol.
	RecordSnapshot(ctx context.Context, source string, payload *Payload) error
	// RecordHistory persists validated daily bars for a history request.
	RecordHistory(ctx context.Context, source string, req Request, payload *Payload) error
}
