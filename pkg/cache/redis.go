package cache

import (
	"context"
	"fmt"
	"math"

	"github.com/zeromicro/go-zero/core/stores/redis"
)

const defaultRedisRetention = 7.0

// RedisTier shares entries between instances. Keys outlive the freshness TTL by the
// retention factor so expired entries remain available for degraded reads.
type RedisTier struct {
	rds       *redis.Redis
	retention float64
}

// NewRedisTier wraps a go-zero redis client.
func NewRedisTier(rds *redis.Redis, retention float64) *RedisTier {
	if retention < 1 {
		retention = defaultRedisRetention
	}
	return &RedisTier{rds: rds, retention: retention}
}

// Name implements Tier.
func (r *RedisTier) Name() string { return "redis" }

// Load implements Tier.
func (r *RedisTier) Load(ctx context.Context, fingerprint string) (*Entry, error) {
	key := EntryKey(fingerprint)
	val, err := r.rds.GetCtx(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %s: %w", key, err)
	}
	if val == "" {
		return nil, ErrNotFound
	}
	entry, err := decodeEntry([]byte(val))
	if err != nil {
		return nil, &CorruptionError{Path: "redis:" + key, Err: err}
	}
	return entry, nil
}

// Save implements Tier.
func (r *RedisTier) Save(ctx context.Context, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	seconds := int(math.Ceil(entry.TTL.Seconds() * r.retention))
	if seconds < 1 {
		seconds = 1
	}
	key := EntryKey(entry.Fingerprint)
	if err := r.rds.SetexCtx(ctx, key, string(data), seconds); err != nil {
		return fmt.Errorf("cache: redis setex %s: %w", key, err)
	}
	return nil
}

// Delete implements Tier.
func (r *RedisTier) Delete(ctx context.Context, fingerprint string) error {
	key := EntryKey(fingerprint)
	if _, err := r.rds.DelCtx(ctx, key); err != nil {
		return fmt.Errorf("cache: redis del %s: %w", key, err)
	}
	return nil
}

// Clear implements Clearer by deleting every entry key in the namespace.
func (r *RedisTier) Clear(ctx context.Context) (int, error) {
	pattern := EntryKey("*")
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.rds.ScanCtx(ctx, cursor, pattern, 200)
		if err != nil {
			return removed, fmt.Errorf("cache: redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.rds.DelCtx(ctx, keys...)
			if err != nil {
				return removed, fmt.Errorf("cache: redis del: %w", err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
