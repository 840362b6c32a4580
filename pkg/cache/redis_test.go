package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"equityfeed/pkg/market"
)

func newRedisTier(t *testing.T) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.MustNewRedis(redis.RedisConf{Host: mr.Addr(), Type: redis.NodeType})
	return NewRedisTier(rds, 2), mr
}

func TestRedisTierRoundTrip(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	fp := market.IndicatorsRequest("600519").Fingerprint()

	_, err := tier.Load(ctx, fp)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := market.NewRecord()
	rec.Values[market.FieldPERatio] = 31.2
	entry := &Entry{
		Fingerprint: fp,
		Kind:        market.KindIndicators,
		Payload:     &market.Payload{Kind: market.KindIndicators, Symbol: "600519", Record: &rec},
		CreatedAt:   time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
		TTL:         time.Minute,
		Source:      "feed",
	}
	require.NoError(t, tier.Save(ctx, entry))
	assert.Equal(t, 2*time.Minute, mr.TTL(EntryKey(fp)), "key outlives freshness by the retention factor")

	got, err := tier.Load(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "feed", got.Source)
	assert.Equal(t, 31.2, got.Payload.Record.Value(market.FieldPERatio))

	require.NoError(t, tier.Delete(ctx, fp))
	_, err = tier.Load(ctx, fp)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTierDropsCorruptedEntries(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	store := NewStore(WithSharedTier(tier), WithClock(clock.Now))
	fp := market.LineItemsRequest("AAPL").Fingerprint()

	require.NoError(t, mr.Set(EntryKey(fp), "junk"))
	_, ok := store.Get(ctx, fp)
	assert.False(t, ok)
	assert.False(t, mr.Exists(EntryKey(fp)))
}

func TestStoreReadsNewestAcrossTiers(t *testing.T) {
	tier, _ := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	dir := t.TempDir()
	fp := market.IndicatorsRequest("600519").Fingerprint()

	disk, err := NewDiskTier(dir)
	require.NoError(t, err)
	writer := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	rec := market.NewRecord()
	rec.Values[market.FieldPERatio] = 10
	_, err = writer.Put(ctx, fp, &market.Payload{Kind: market.KindIndicators, Symbol: "600519", Record: &rec}, "old", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	other := NewStore(WithSharedTier(tier), WithClock(clock.Now))
	rec2 := market.NewRecord()
	rec2.Values[market.FieldPERatio] = 11
	_, err = other.Put(ctx, fp, &market.Payload{Kind: market.KindIndicators, Symbol: "600519", Record: &rec2}, "new", time.Hour)
	require.NoError(t, err)

	reader := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	entry, ok := reader.Fresh(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "new", entry.Source)
}

func TestSnapshotsReachSharedTierOnly(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	disk, err := NewDiskTier(t.TempDir())
	require.NoError(t, err)
	fp := market.SnapshotRequest("600519").Fingerprint()

	writer := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	_, err = writer.Put(ctx, fp, snapshotPayload("600519", 10), "tencent", time.Minute)
	require.NoError(t, err)

	paths, err := disk.List()
	require.NoError(t, err)
	assert.Empty(t, paths)
	assert.True(t, mr.Exists(EntryKey(fp)))

	peer := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	entry, ok := peer.Fresh(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "tencent", entry.Source)
}

func TestGuardianResetAllClearsSharedTier(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	dir := t.TempDir()
	disk, err := NewDiskTier(dir)
	require.NoError(t, err)
	store := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	g, err := NewGuardian(store, WithMinDirectoryRows(3), WithGuardianClock(clock.Now))
	require.NoError(t, err)

	hist := market.HistoryRequest("600519", "2024-01-01", "2024-01-05", market.AdjustForward).Fingerprint()
	_, err = store.Put(ctx, hist, historyPayload("600519", 5), "sina", time.Hour)
	require.NoError(t, err)
	require.NoError(t, mr.Set("unrelated", "kept"))

	_, err = g.ResetAll(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists(EntryKey(hist)))
	assert.True(t, mr.Exists("unrelated"))

	restarted := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	_, ok := restarted.Get(ctx, hist)
	assert.False(t, ok, "reset is not undone by the shared tier")
}

func TestGuardianRepairDropsSharedCopy(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	disk, err := NewDiskTier(t.TempDir())
	require.NoError(t, err)
	store := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	g, err := NewGuardian(store, WithMinDirectoryRows(3), WithGuardianClock(clock.Now))
	require.NoError(t, err)

	fp := market.DirectoryRequest().Fingerprint()
	_, err = store.Put(ctx, fp, directoryPayload(1), "feed", time.Hour)
	require.NoError(t, err)
	require.True(t, mr.Exists(EntryKey(fp)))

	result, err := g.Repair(ctx, market.KindSymbolDirectory, func(ctx context.Context, got string) error {
		assert.False(t, mr.Exists(EntryKey(got)), "shared copy dropped before refetch")
		_, err := store.Put(ctx, got, directoryPayload(4), "feed", time.Hour)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{fp}, result.Refetched)
}

func TestSharedEntryRejectedByValidatorIsDropped(t *testing.T) {
	tier, mr := newRedisTier(t)
	ctx := context.Background()
	clock := newFakeClock()
	fp := market.DirectoryRequest().Fingerprint()

	writer := NewStore(WithSharedTier(tier), WithClock(clock.Now))
	_, err := writer.Put(ctx, fp, directoryPayload(1), "feed", time.Hour)
	require.NoError(t, err)

	disk, err := NewDiskTier(t.TempDir())
	require.NoError(t, err)
	reader := NewStore(WithDiskTier(disk), WithSharedTier(tier), WithClock(clock.Now))
	_, err = NewGuardian(reader, WithMinDirectoryRows(3))
	require.NoError(t, err)

	_, ok := reader.Get(ctx, fp)
	assert.False(t, ok)
	assert.False(t, mr.Exists(EntryKey(fp)))
}
