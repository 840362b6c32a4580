package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"equityfeed/pkg/market"
)

const artifactVersion = 1

var (
	// ErrNotFound is returned by tiers that hold no entry for a fingerprint.
	ErrNotFound = errors.New("cache: entry not found")
	// ErrCorrupted matches every CorruptionError via errors.Is.
	ErrCorrupted = errors.New("cache: corrupted artifact")
)

// CorruptionError reports a persisted artifact that failed to decode or validate.
// It is absorbed by the Guardian and never reaches acquisition callers.
type CorruptionError struct {
	Path string
	Err  error
	// Backup is the quarantine copy, set once the artifact has been moved aside.
	Backup string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache: corrupted artifact %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorrupted) hold.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupted }

// Entry is one cached payload with its provenance and lifetime.
type Entry struct {
	Fingerprint string
	Kind        market.Kind
	Payload     *market.Payload
	CreatedAt   time.Time
	TTL         time.Duration
	Source      string
	// Stale is set on copies handed out after the TTL has elapsed.
	Stale bool
}

// ExpiresAt returns the instant the entry stops being fresh.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Fresh reports now < CreatedAt + TTL.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// Age returns how long ago the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e *Entry) clone() *Entry {
	c := *e
	return &c
}

// artifact is the persisted representation. The payload is encoded separately so its
// checksum can be verified before decoding.
type artifact struct {
	Version     int           `msgpack:"v"`
	Fingerprint string        `msgpack:"fp"`
	Kind        market.Kind   `msgpack:"kind"`
	Source      string        `msgpack:"source"`
	CreatedAt   time.Time     `msgpack:"created_at"`
	TTL         time.Duration `msgpack:"ttl"`
	Checksum    uint64        `msgpack:"sum"`
	Payload     []byte        `msgpack:"payload"`
}

func encodeEntry(e *Entry) ([]byte, error) {
	body, err := msgpack.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("cache: encode payload %s: %w", e.Fingerprint, err)
	}
	data, err := msgpack.Marshal(&artifact{
		Version:     artifactVersion,
		Fingerprint: e.Fingerprint,
		Kind:        e.Kind,
		Source:      e.Source,
		CreatedAt:   e.CreatedAt.UTC(),
		TTL:         e.TTL,
		Checksum:    xxhash.Sum64(body),
		Payload:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: encode artifact %s: %w", e.Fingerprint, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a artifact
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if !a.Kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", a.Kind)
	}
	if sum := xxhash.Sum64(a.Payload); sum != a.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %x computed %x", a.Checksum, sum)
	}
	var payload market.Payload
	if err := msgpack.Unmarshal(a.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Kind != a.Kind {
		return nil, fmt.Errorf("payload kind %s does not match artifact kind %s", payload.Kind, a.Kind)
	}
	if a.CreatedAt.IsZero() {
		return nil, errors.New("missing creation timestamp")
	}
	return &Entry{
		Fingerprint: a.Fingerprint,
		Kind:        a.Kind,
		Payload:     &payload,
		CreatedAt:   a.CreatedAt,
		TTL:         a.TTL,
		Source:      a.Source,
	}, nil
}
