package acquire

import (
	"context"

	"equityfeed/pkg/cache"
	"equityfeed/pkg/market"
)

// RepairCache quarantines invalid artifacts of kind and refetches them from providers.
// A directory that cannot be refetched is replaced by the synthetic placeholder.
func (a *Acquirer) RepairCache(ctx context.Context, kind market.Kind) (cache.RepairResult, error) {
	if a.guardian == nil {
		return cache.RepairResult{Kind: kind}, ErrNoGuardian
	}
	return a.guardian.Repair(ctx, kind, a.Refetch)
}

// ResetAllCaches backs up and clears every persisted artifact plus the memory tier.
// It returns the backup directory.
func (a *Acquirer) ResetAllCaches(ctx context.Context) (string, error) {
	if a.guardian == nil {
		a.store.ResetMemory()
		return "", ErrNoGuardian
	}
	return a.guardian.ResetAll(ctx)
}

// CheckAllCaches validates every persisted artifact without changing anything.
func (a *Acquirer) CheckAllCaches(ctx context.Context) (cache.Report, error) {
	if a.guardian == nil {
		return cache.Report{}, ErrNoGuardian
	}
	return a.guardian.CheckAll(ctx), nil
}
