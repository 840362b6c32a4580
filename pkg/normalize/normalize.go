package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/pkg/market"
)

// ErrSchema matches every SchemaError via errors.Is.
var ErrSchema = errors.New("normalize: schema mismatch")

// SchemaError reports a provider payload that cannot be brought into canonical shape.
// The provider's answer does not count; callers move on to the next provider.
type SchemaError struct {
	Kind    market.Kind
	Source  string
	Missing []string
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	prefix := fmt.Sprintf("schema %s", e.Kind)
	if e.Source != "" {
		prefix += " from " + e.Source
	}
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s: missing required fields [%s]", prefix, strings.Join(e.Missing, ", "))
	case e.Field != "":
		return fmt.Sprintf("%s: field %s %s", prefix, e.Field, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Reason)
	}
}

// Transient is always false: the same answer will not fit the schema on a later call.
func (e *SchemaError) Transient() bool { return false }

// Is makes errors.Is(err, ErrSchema) hold for any SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Normalizer converts raw provider payloads into validated canonical payloads.
type Normalizer struct {
	schemas map[market.Kind]schema
}

type options struct {
	minDirectoryRows int
}

// Option customises a Normalizer.
type Option func(*options)

// WithMinDirectoryRows overrides the minimum symbol directory size.
func WithMinDirectoryRows(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.minDirectoryRows = n
		}
	}
}

// New returns a Normalizer with the built-in alias tables and schemas.
func New(opts ...Option) *Normalizer {
	o := options{minDirectoryRows: DefaultMinDirectoryRows}
	for _, opt := range opts {
		opt(&o)
	}
	return &Normalizer{schemas: defaultSchemas(o.minDirectoryRows)}
}

var defaultNormalizer = New()

// Normalize runs the default Normalizer.
func Normalize(req market.Request, raw *market.Raw) (*market.Payload, error) {
	return defaultNormalizer.Normalize(req, raw)
}

// Normalize maps provider columns onto canonical fields, coerces and validates values.
// Record kinds fail as a whole; table kinds drop rows that fail coercion or row-level
// constraints and fail only when no row survives or the table is structurally short.
func (n *Normalizer) Normalize(req market.Request, raw *market.Raw) (*market.Payload, error) {
	sch, ok := n.schemas[req.Kind]
	if !ok {
		return nil, &SchemaError{Kind: req.Kind, Reason: "unsupported kind"}
	}
	source := ""
	if raw != nil {
		source = raw.Source
	}
	if raw == nil || len(raw.Rows) == 0 {
		return nil, &SchemaError{Kind: req.Kind, Source: source, Reason: "empty payload"}
	}

	present := keySet(raw.Rows)
	columns := make(map[string]string, len(sch.fields))
	var missing []string
	for _, f := range sch.fields {
		if key, ok := resolveColumn(f.name, present); ok {
			columns[f.name] = key
		} else if f.required {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Kind: req.Kind, Source: source, Missing: missing}
	}

	if !req.Kind.IsTable() {
		rec, ferr := buildRecord(sch, columns, raw.Rows[0], raw.Units)
		if ferr != nil {
			return nil, &SchemaError{Kind: req.Kind, Source: source, Field: ferr.field, Reason: ferr.reason}
		}
		return &market.Payload{Kind: req.Kind, Symbol: req.Symbol, Record: &rec}, nil
	}

	rows := make([]market.Record, 0, len(raw.Rows))
	var firstDrop *fieldError
	for _, row := range raw.Rows {
		rec, ferr := buildRecord(sch, columns, row, raw.Units)
		if ferr != nil {
			if firstDrop == nil {
				firstDrop = ferr
			}
			continue
		}
		rows = append(rows, rec)
	}
	if dropped := len(raw.Rows) - len(rows); dropped > 0 {
		logx.Infof("normalize: %s from %s dropped %d/%d rows (first: %s %s)",
			req.Kind, source, dropped, len(raw.Rows), firstDrop.field, firstDrop.reason)
	}
	if len(rows) == 0 {
		return nil, &SchemaError{Kind: req.Kind, Source: source, Reason: "no valid rows"}
	}
	if sch.key != "" {
		rows = dedupeSorted(rows, sch.key)
	}
	if sch.minRows > 0 && len(rows) < sch.minRows {
		return nil, &SchemaError{Kind: req.Kind, Source: source,
			Reason: fmt.Sprintf("%d rows, need at least %d", len(rows), sch.minRows)}
	}

	cols := make([]string, 0, len(columns))
	for _, f := range sch.fields {
		if _, ok := columns[f.name]; ok {
			cols = append(cols, f.name)
		}
	}
	return &market.Payload{
		Kind:   req.Kind,
		Symbol: req.Symbol,
		Table:  &market.Table{Columns: cols, Rows: rows},
	}, nil
}

// Validate re-checks a canonical payload, e.g. one read back from disk. Any row that
// would be dropped makes the payload invalid.
func (n *Normalizer) Validate(payload *market.Payload) error {
	if payload == nil {
		return &SchemaError{Reason: "nil payload"}
	}
	req := market.Request{Kind: payload.Kind, Symbol: payload.Symbol}
	raw := &market.Raw{Source: "stored"}
	switch {
	case payload.Kind.IsTable() && payload.Table != nil:
		for _, r := range payload.Table.Rows {
			raw.Rows = append(raw.Rows, flatten(r))
		}
	case !payload.Kind.IsTable() && payload.Record != nil:
		raw.Rows = append(raw.Rows, flatten(*payload.Record))
	}
	got, err := n.Normalize(req, raw)
	if err != nil {
		return err
	}
	if payload.Kind.IsTable() && got.Table.Len() != payload.Table.Len() {
		return &SchemaError{Kind: payload.Kind, Source: "stored",
			Reason: fmt.Sprintf("%d of %d rows invalid", payload.Table.Len()-got.Table.Len(), payload.Table.Len())}
	}
	return nil
}

type fieldError struct {
	field  string
	reason string
}

func buildRecord(sch schema, columns map[string]string, row map[string]any, units map[string]float64) (market.Record, *fieldError) {
	rec := market.NewRecord()
	for _, f := range sch.fields {
		key, ok := columns[f.name]
		if !ok {
			continue
		}
		value, present := row[key]
		if !present || value == nil {
			if f.required {
				return rec, &fieldError{field: f.name, reason: "is empty"}
			}
			continue
		}
		switch f.typ {
		case numeric:
			v, err := toFloat(value)
			if err == nil {
				if m, ok := units[f.name]; ok && m != 0 {
					v *= m
				}
				if f.check != nil && !f.check(v) {
					err = fmt.Errorf("%s, got %v", f.rule, v)
				}
			}
			if err != nil {
				if f.required {
					return rec, &fieldError{field: f.name, reason: err.Error()}
				}
				continue
			}
			rec.Values[f.name] = v
		default:
			s, err := coerceText(f.typ, value)
			if err != nil {
				if f.required {
					return rec, &fieldError{field: f.name, reason: err.Error()}
				}
				continue
			}
			rec.Text[f.name] = s
		}
	}
	return rec, nil
}

func coerceText(typ fieldType, value any) (string, error) {
	switch typ {
	case date:
		return toDate(value)
	case code:
		return toCode(value)
	default:
		return toText(value)
	}
}

func keySet(rows []map[string]any) map[string]struct{} {
	set := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			set[k] = struct{}{}
		}
	}
	return set
}

// dedupeSorted orders rows by key and keeps the last occurrence of each key.
func dedupeSorted(rows []market.Record, key string) []market.Record {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Text[key] < rows[j].Text[key] })
	out := rows[:0]
	for _, r := range rows {
		if len(out) > 0 && out[len(out)-1].Text[key] == r.Text[key] {
			out[len(out)-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

func flatten(r market.Record) map[string]any {
	row := make(map[string]any, len(r.Values)+len(r.Text))
	for k, v := range r.Values {
		row[k] = v
	}
	for k, v := range r.Text {
		row[k] = v
	}
	return row
}
