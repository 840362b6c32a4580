package market

import (
	"context"
	"sync"
)

// Raw is an un-normalized provider answer. Record kinds carry exactly one row.
type Raw struct {
	Source string           `json:"source"`
	Rows   []map[string]any `json:"rows"`
	// Units maps a canonical field to the multiplier that converts the provider's unit
	// into the canonical one, e.g. lots to shares or 1e8 CNY to CNY.
	Units map[string]float64 `json:"units,omitempty"`
}

// RecordRaw wraps a single provider row.
func RecordRaw(source string, row map[string]any) *Raw {
	return &Raw{Source: source, Rows: []map[string]any{row}}
}

// WithUnit records a unit multiplier for a canonical field and returns the receiver.
func (r *Raw) WithUnit(field string, multiplier float64) *Raw {
	if r.Units == nil {
		r.Units = make(map[string]float64)
	}
	r.Units[field] = multiplier
	return r
}

// Source is a named upstream able to serve one or more kinds.
type Source interface {
	// Name is the configured source name used in logs, reasons and cache entries.
	Name() string
	// Supports reports whether the source can serve the kind.
	Supports(kind Kind) bool
	// Fetch retrieves the raw payload for a normalized request.
	Fetch(ctx context.Context, req Request) (*Raw, error)
}

// FetchFunc performs one provider attempt.
type FetchFunc func(ctx context.Context, req Request) (*Raw, error)

// Attempt is one entry of a kind's priority-ordered provider list.
type Attempt struct {
	Name  string
	Fetch FetchFunc
}

// Registry maps each kind to its ordered provider attempts.
type Registry struct {
	mu     sync.RWMutex
	routes map[Kind][]Attempt
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[Kind][]Attempt)}
}

// Register appends an attempt for kind; earlier registrations have higher priority.
func (r *Registry) Register(kind Kind, name string, fetch FetchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[kind] = append(r.routes[kind], Attempt{Name: name, Fetch: fetch})
}

// RegisterSource registers src for every listed kind it supports.
func (r *Registry) RegisterSource(src Source, kinds ...Kind) {
	for _, kind := range kinds {
		if src.Supports(kind) {
			r.Register(kind, src.Name(), src.Fetch)
		}
	}
}

// Attempts returns a copy of the ordered attempts for kind.
func (r *Registry) Attempts(kind Kind) []Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.routes[kind]
	out := make([]Attempt, len(list))
	copy(out, list)
	return out
}

// Names returns the ordered provider names configured for kind.
func (r *Registry) Names(kind Kind) []string {
	attempts := r.Attempts(kind)
	names := make([]string, len(attempts))
	for i, a := range attempts {
		names[i] = a.Name
	}
	return names
}
