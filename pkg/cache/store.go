package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/pkg/market"
)

// Tier is a persisted cache layer below the in-memory map.
type Tier interface {
	Name() string
	Load(ctx context.Context, fingerprint string) (*Entry, error)
	Save(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fingerprint string) error
}

// Clearer is implemented by tiers that can drop every entry they hold.
type Clearer interface {
	Clear(ctx context.Context) (int, error)
}

// EntryValidator rejects a decoded entry that must not be served.
type EntryValidator func(*Entry) error

// DefaultPersistedKinds lists the kinds whose acquisition cost justifies persistence.
func DefaultPersistedKinds() []market.Kind {
	return []market.Kind{
		market.KindPriceHistory,
		market.KindIndicators,
		market.KindLineItems,
		market.KindSymbolDirectory,
	}
}

// Store is the two-tier cache: a process-lifetime memory map in front of a disk tier
// and an optional shared tier. Expired entries are retained for stale fallback.
// Only persisted kinds reach the disk; the shared tier receives every kind.
type Store struct {
	memMu  sync.RWMutex
	memory map[string]*Entry

	// writeMu serialises every persisted write issued by this store.
	writeMu   sync.Mutex
	disk      *DiskTier
	shared    Tier
	persisted map[market.Kind]bool

	now       func() time.Time
	onCorrupt func(ctx context.Context, err *CorruptionError)
	validate  EntryValidator
}

// Option customises a Store.
type Option func(*Store)

// WithDiskTier enables the on-disk tier.
func WithDiskTier(disk *DiskTier) Option {
	return func(s *Store) { s.disk = disk }
}

// WithSharedTier enables a cross-instance tier such as Redis.
func WithSharedTier(t Tier) Option {
	return func(s *Store) { s.shared = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPersistedKinds replaces the set of kinds written below the memory tier.
func WithPersistedKinds(kinds ...market.Kind) Option {
	return func(s *Store) {
		s.persisted = make(map[market.Kind]bool, len(kinds))
		for _, k := range kinds {
			s.persisted[k] = true
		}
	}
}

// NewStore builds a Store. Without a disk or shared tier it is memory-only.
func NewStore(opts ...Option) *Store {
	s := &Store{
		memory: make(map[string]*Entry),
		now:    time.Now,
	}
	WithPersistedKinds(DefaultPersistedKinds()...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Disk returns the disk tier, or nil.
func (s *Store) Disk() *DiskTier { return s.disk }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Persisted reports whether entries of kind are written to the disk tier.
func (s *Store) Persisted(kind market.Kind) bool { return s.persisted[kind] }

// SetEntryValidator registers the check applied to every entry loaded from a tier.
// Rejected disk artifacts go through the corruption handler; rejected shared entries
// are deleted. Either way the read is a miss.
func (s *Store) SetEntryValidator(fn EntryValidator) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.validate = fn
}

// SetCorruptionHandler registers the callback invoked for corrupted disk artifacts.
func (s *Store) SetCorruptionHandler(fn func(ctx context.Context, err *CorruptionError)) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.onCorrupt = fn
}

// Get returns the newest entry for fingerprint across tiers. The returned copy has
// Stale set when its TTL has elapsed; the bool reports presence.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	now := s.now()
	s.memMu.RLock()
	entry := s.memory[fingerprint]
	s.memMu.RUnlock()

	if entry == nil || !entry.Fresh(now) {
		if loaded := s.loadPersisted(ctx, fingerprint); loaded != nil {
			if entry == nil || loaded.CreatedAt.After(entry.CreatedAt) {
				entry = s.promote(loaded)
			}
		}
	}
	if entry == nil {
		return nil, false
	}
	out := entry.clone()
	out.Stale = !out.Fresh(now)
	return out, true
}

// Fresh returns the entry only while it is fresh.
func (s *Store) Fresh(ctx context.Context, fingerprint string) (*Entry, bool) {
	entry, ok := s.Get(ctx, fingerprint)
	if !ok || entry.Stale {
		return nil, false
	}
	return entry, true
}

// GetStale returns the entry regardless of age; used for degraded fallback.
func (s *Store) GetStale(ctx context.Context, fingerprint string) (*Entry, bool) {
	return s.Get(ctx, fingerprint)
}

// Put stores payload under fingerprint, overwriting any previous entry.
func (s *Store) Put(ctx context.Context, fingerprint string, payload *market.Payload, source string, ttl time.Duration) (*Entry, error) {
	if payload == nil {
		return nil, errors.New("cache: nil payload")
	}
	entry := &Entry{
		Fingerprint: fingerprint,
		Kind:        payload.Kind,
		Payload:     payload,
		CreatedAt:   s.now(),
		TTL:         ttl,
		Source:      source,
	}
	s.memMu.Lock()
	s.memory[fingerprint] = entry
	s.memMu.Unlock()

	return entry.clone(), s.persist(ctx, entry)
}

func (s *Store) persist(ctx context.Context, entry *Entry) error {
	toDisk := s.disk != nil && s.persisted[entry.Kind]
	if !toDisk && s.shared == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var errs []error
	if toDisk {
		if err := s.disk.Save(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	if s.shared != nil {
		if err := s.shared.Save(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate removes fingerprint from every tier.
func (s *Store) Invalidate(ctx context.Context, fingerprint string) error {
	s.memMu.Lock()
	delete(s.memory, fingerprint)
	s.memMu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var errs []error
	if s.disk != nil {
		errs = append(errs, s.disk.Delete(ctx, fingerprint))
	}
	if s.shared != nil {
		errs = append(errs, s.shared.Delete(ctx, fingerprint))
	}
	return errors.Join(errs...)
}

// forget drops fingerprint from the memory tier only.
func (s *Store) forget(fingerprint string) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	delete(s.memory, fingerprint)
}

// dropShared removes fingerprint from the shared tier only.
func (s *Store) dropShared(ctx context.Context, fingerprint string) error {
	if s.shared == nil {
		return nil
	}
	return s.shared.Delete(ctx, fingerprint)
}

// clearShared empties the shared tier when it supports that.
func (s *Store) clearShared(ctx context.Context) (int, error) {
	c, ok := s.shared.(Clearer)
	if !ok {
		return 0, nil
	}
	return c.Clear(ctx)
}

// ResetMemory drops every in-memory entry.
func (s *Store) ResetMemory() {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.memory = make(map[string]*Entry)
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	s.memMu.RLock()
	defer s.memMu.RUnlock()
	return len(s.memory)
}

// lockWrites lets the guardian exclude persisted writes while it moves artifacts.
func (s *Store) lockWrites() func() {
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

func (s *Store) promote(entry *Entry) *Entry {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if cur, ok := s.memory[entry.Fingerprint]; ok && !entry.CreatedAt.After(cur.CreatedAt) {
		return cur
	}
	s.memory[entry.Fingerprint] = entry
	return entry
}

func (s *Store) loadPersisted(ctx context.Context, fingerprint string) *Entry {
	kind := market.Kind(fingerprintKind(fingerprint))
	s.memMu.RLock()
	validate := s.validate
	s.memMu.RUnlock()
	var newest *Entry
	for _, tier := range s.tiers(kind) {
		entry, err := tier.Load(ctx, fingerprint)
		if err == nil && validate != nil {
			if verr := validate(entry); verr != nil {
				err = &CorruptionError{Path: s.locate(tier, fingerprint), Err: verr}
			}
		}
		switch {
		case err == nil:
			if newest == nil || entry.CreatedAt.After(newest.CreatedAt) {
				newest = entry
			}
		case errors.Is(err, ErrNotFound):
		default:
			s.handleLoadError(ctx, tier, fingerprint, err)
		}
	}
	return newest
}

func (s *Store) handleLoadError(ctx context.Context, tier Tier, fingerprint string, err error) {
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		logx.WithContext(ctx).Errorf("cache: load %s from %s err=%v", fingerprint, tier.Name(), err)
		return
	}
	logx.WithContext(ctx).Errorf("cache: %v", corrupt)
	if tier != Tier(s.disk) {
		if delErr := tier.Delete(ctx, fingerprint); delErr != nil {
			logx.WithContext(ctx).Errorf("cache: drop corrupted %s from %s err=%v", fingerprint, tier.Name(), delErr)
		}
		return
	}
	s.memMu.RLock()
	handler := s.onCorrupt
	s.memMu.RUnlock()
	if handler != nil {
		handler(ctx, corrupt)
	}
}

func (s *Store) tiers(kind market.Kind) []Tier {
	tiers := make([]Tier, 0, 2)
	if s.disk != nil && s.persisted[kind] {
		tiers = append(tiers, s.disk)
	}
	if s.shared != nil {
		tiers = append(tiers, s.shared)
	}
	return tiers
}

func (s *Store) locate(tier Tier, fingerprint string) string {
	if tier == Tier(s.disk) {
		return s.disk.PathFor(fingerprint)
	}
	return tier.Name() + ":" + EntryKey(fingerprint)
}

func fingerprintKind(fp string) string {
	for i := 0; i < len(fp); i++ {
		if fp[i] == '|' {
			return fp[:i]
		}
	}
	return fp
}

// Describe renders an entry for logs.
func Describe(e *Entry, now time.Time) string {
	if e == nil {
		return "<none>"
	}
	state := "fresh"
	if !e.Fresh(now) {
		state = "stale"
	}
	return fmt.Sprintf("%s source=%s age=%s %s", e.Fingerprint, e.Source, e.Age(now).Truncate(time.Second), state)
}
