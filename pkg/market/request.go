package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Adjust selects the price adjustment applied to historical bars.
type Adjust string

const (
	AdjustForward  Adjust = "qfq"
	AdjustBackward Adjust = "hfq"
	AdjustNone     Adjust = "none"
)

// DateLayout is the canonical date format used in requests, fingerprints and tables.
const DateLayout = "2006-01-02"

// DefaultHistoryWindow is the lookback applied when a history request omits its start date.
const DefaultHistoryWindow = 365 * 24 * time.Hour

// ErrInvalidRequest marks requests rejected before any provider is contacted.
var ErrInvalidRequest = errors.New("market: invalid request")

// Request describes one unit of data to acquire.
type Request struct {
	Kind   Kind   `json:"kind"`
	Symbol string `json:"symbol,omitempty"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	Adjust Adjust `json:"adjust,omitempty"`
}

// SnapshotRequest builds a market snapshot request.
func SnapshotRequest(symbol string) Request {
	return Request{Kind: KindSnapshot, Symbol: symbol}
}

// HistoryRequest builds a price history request. Empty dates are defaulted by Normalize.
func HistoryRequest(symbol, start, end string, adjust Adjust) Request {
	return Request{Kind: KindPriceHistory, Symbol: symbol, Start: start, End: end, Adjust: adjust}
}

// IndicatorsRequest builds a financial indicators request.
func IndicatorsRequest(symbol string) Request {
	return Request{Kind: KindIndicators, Symbol: symbol}
}

// LineItemsRequest builds a statement line items request.
func LineItemsRequest(symbol string) Request {
	return Request{Kind: KindLineItems, Symbol: symbol}
}

// DirectoryRequest builds the symbol directory request.
func DirectoryRequest() Request {
	return Request{Kind: KindSymbolDirectory}
}

// Normalize canonicalises the request so that equivalent requests share a fingerprint.
// History requests without dates cover the year ending yesterday; end dates in the
// future are clamped to yesterday.
func (r Request) Normalize(now time.Time) (Request, error) {
	if !r.Kind.Valid() {
		return r, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	out := Request{Kind: r.Kind}
	if r.Kind.HasSubject() {
		out.Symbol = CanonicalSymbol(r.Symbol)
		if out.Symbol == "" {
			return r, fmt.Errorf("%w: %s requires a symbol", ErrInvalidRequest, r.Kind)
		}
	}
	if r.Kind != KindPriceHistory {
		return out, nil
	}

	yesterday := truncateDay(now).AddDate(0, 0, -1)
	end := yesterday
	if strings.TrimSpace(r.End) != "" {
		parsed, err := ParseDate(r.End)
		if err != nil {
			return r, fmt.Errorf("%w: end: %v", ErrInvalidRequest, err)
		}
		if parsed.Before(yesterday) {
			end = parsed
		}
	}
	start := end.Add(-DefaultHistoryWindow)
	if strings.TrimSpace(r.Start) != "" {
		parsed, err := ParseDate(r.Start)
		if err != nil {
			return r, fmt.Errorf("%w: start: %v", ErrInvalidRequest, err)
		}
		start = parsed
	}
	if start.After(end) {
		return r, fmt.Errorf("%w: start %s after end %s", ErrInvalidRequest, start.Format(DateLayout), end.Format(DateLayout))
	}
	out.Start = start.Format(DateLayout)
	out.End = end.Format(DateLayout)

	switch Adjust(strings.ToLower(strings.TrimSpace(string(r.Adjust)))) {
	case "", AdjustForward:
		out.Adjust = AdjustForward
	case AdjustBackward:
		out.Adjust = AdjustBackward
	case AdjustNone:
		out.Adjust = AdjustNone
	default:
		return r, fmt.Errorf("%w: unsupported adjust %q", ErrInvalidRequest, r.Adjust)
	}
	return out, nil
}

// Fingerprint identifies cache-equivalent requests. Two requests share a fingerprint iff
// kind, subject and every parameter match.
func (r Request) Fingerprint() string {
	parts := []string{string(r.Kind)}
	if r.Kind.HasSubject() {
		parts = append(parts, CanonicalSymbol(r.Symbol))
	}
	if r.Kind == KindPriceHistory {
		parts = append(parts, strings.TrimSpace(r.Start), strings.TrimSpace(r.End), string(r.Adjust))
	}
	return strings.Join(parts, "|")
}

// String renders the request for logs.
func (r Request) String() string {
	return r.Fingerprint()
}

// CanonicalSymbol trims and upper-cases a ticker.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ParseDate accepts YYYY-MM-DD and YYYYMMDD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "20060102"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseFingerprint reverses Fingerprint.
func ParseFingerprint(fp string) (Request, error) {
	parts := strings.Split(fp, "|")
	kind := Kind(parts[0])
	if !kind.Valid() {
		return Request{}, fmt.Errorf("%w: fingerprint %q has unknown kind", ErrInvalidRequest, fp)
	}
	req := Request{Kind: kind}
	want := 1
	if kind.HasSubject() {
		want = 2
	}
	if kind == KindPriceHistory {
		want = 5
	}
	if len(parts) != want {
		return Request{}, fmt.Errorf("%w: fingerprint %q has %d parts, want %d", ErrInvalidRequest, fp, len(parts), want)
	}
	if want >= 2 {
		req.Symbol = parts[1]
	}
	if want == 5 {
		req.Start, req.End, req.Adjust = parts[2], parts[3], Adjust(parts[4])
	}
	return req, nil
}
