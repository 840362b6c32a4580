// Package httpfeed serves any kind from a configurable HTTP endpoint returning CSV or JSON.
package httpfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"equityfeed/pkg/market"
	"equityfeed/pkg/retry"
	"equityfeed/pkg/sources"
	"equityfeed/pkg/sources/httpx"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Columns checked when a record kind answers with several rows.
var codeColumns = []string{market.FieldCode, "symbol", "ticker", "代码", "股票代码"}

func init() {
	market.RegisterSourceType("httpfeed", func(name string, cfg *market.SourceConfig) (market.Source, error) {
		return New(name, cfg)
	})
}

// Source fetches kinds from path templates configured per kind.
type Source struct {
	name    string
	baseURL string
	format  string
	compact bool
	paths   map[market.Kind]string
	units   map[market.Kind]map[string]float64
	client  *httpx.Client
}

// New validates cfg and builds the source.
func New(name string, cfg *market.SourceConfig) (*Source, error) {
	if cfg == nil {
		return nil, errors.New("httpfeed: config is required")
	}
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("httpfeed: unsupported format %q", cfg.Format)
	}
	if len(cfg.Paths) == 0 {
		return nil, errors.New("httpfeed: at least one path template is required")
	}
	s := &Source{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		format:  format,
		compact: cfg.CompactDates,
		paths:   make(map[market.Kind]string, len(cfg.Paths)),
		units:   make(map[market.Kind]map[string]float64, len(cfg.Units)),
		client:  httpx.FromConfig(cfg),
	}
	for rawKind, tmpl := range cfg.Paths {
		kind, err := market.ParseKind(rawKind)
		if err != nil {
			return nil, fmt.Errorf("httpfeed: path %q: %w", rawKind, err)
		}
		s.paths[kind] = tmpl
		if u := cfg.UnitsFor(kind); len(u) > 0 {
			s.units[kind] = u
		}
	}
	return s, nil
}

// Name implements market.Source.
func (s *Source) Name() string { return s.name }

// Supports implements market.Source.
func (s *Source) Supports(kind market.Kind) bool {
	_, ok := s.paths[kind]
	return ok
}

// Fetch implements market.Source.
func (s *Source) Fetch(ctx context.Context, req market.Request) (*market.Raw, error) {
	tmpl, ok := s.paths[req.Kind]
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("httpfeed %s: unsupported kind %s", s.name, req.Kind))
	}
	target := sources.Expand(tmpl, req, s.compact)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = s.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	body, err := s.client.Get(ctx, target, nil, nil)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	switch s.format {
	case FormatCSV:
		rows, err = decodeCSV(body)
	default:
		rows, err = decodeJSON(body)
	}
	if err != nil {
		return nil, fmt.Errorf("httpfeed %s: %w", s.name, err)
	}
	if !req.Kind.IsTable() && len(rows) > 1 {
		rows = pickRecord(rows, req.Symbol)
	}
	raw := &market.Raw{Source: s.name, Rows: rows}
	for field, mult := range s.units[req.Kind] {
		raw.WithUnit(field, mult)
	}
	return raw, nil
}

func decodeCSV(body []byte) ([]map[string]any, error) {
	records, err := gocsv.CSVToMaps(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(rec))
		for k, v := range rec {
			row[strings.TrimSpace(strings.TrimPrefix(k, "\uFEFF"))] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeJSON accepts a bare array, a bare object, or either wrapped in {"data": ...}.
func decodeJSON(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '{' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
			body = bytes.TrimSpace(envelope.Data)
		}
	}
	if len(body) > 0 && body[0] == '{' {
		var row map[string]any
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, fmt.Errorf("decode json object: %w", err)
		}
		return []map[string]any{row}, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode json rows: %w", err)
	}
	return rows, nil
}

// pickRecord keeps the row whose code column names symbol; feeds that list the whole
// market answer record kinds this way.
func pickRecord(rows []map[string]any, symbol string) []map[string]any {
	want := market.CanonicalSymbol(symbol)
	if code, _, err := sources.SplitSymbol(symbol); err == nil {
		want = code
	}
	for _, row := range rows {
		for _, col := range codeColumns {
			v, ok := row[col]
			if !ok {
				continue
			}
			got := market.CanonicalSymbol(fmt.Sprint(v))
			if c, _, err := sources.SplitSymbol(got); err == nil {
				got = c
			}
			if got == want {
				return []map[string]any{row}
			}
		}
	}
	return nil
}
