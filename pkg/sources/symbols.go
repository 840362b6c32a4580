// Package sources holds helpers shared by the upstream adapters in its subpackages.
package sources

import (
	"fmt"
	"strings"

	"equityfeed/pkg/market"
)

// Exchange identifies the listing venue of an A-share code.
type Exchange string

const (
	Shanghai Exchange = "sh"
	Shenzhen Exchange = "sz"
	Beijing  Exchange = "bj"
)

// SplitSymbol returns the bare six-digit code and its exchange. Symbols may carry a
// venue prefix ("sh600519") or suffix ("600519.SH").
func SplitSymbol(symbol string) (string, Exchange, error) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	for _, ex := range []Exchange{Shanghai, Shenzhen, Beijing} {
		if strings.HasPrefix(s, string(ex)) && len(s) == 8 {
			return s[2:], ex, nil
		}
		if strings.HasSuffix(s, "."+string(ex)) && len(s) == 9 {
			return s[:6], ex, nil
		}
	}
	if len(s) != 6 || strings.Trim(s, "0123456789") != "" {
		return "", "", fmt.Errorf("%w: %q is not an A-share code", market.ErrInvalidRequest, symbol)
	}
	switch s[0] {
	case '6', '9', '5':
		return s, Shanghai, nil
	case '0', '2', '3', '1':
		return s, Shenzhen, nil
	case '4', '8':
		return s, Beijing, nil
	}
	return "", "", fmt.Errorf("%w: no exchange for %q", market.ErrInvalidRequest, symbol)
}

// Prefixed returns the code with its lower-case venue prefix, e.g. "sh600519".
func Prefixed(symbol string) (string, error) {
	code, ex, err := SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return string(ex) + code, nil
}

// Expand substitutes {symbol}, {code}, {prefixed}, {start}, {end} and {adjust} in a
// URL template. Dates are rendered compactly when compact is set (YYYYMMDD).
func Expand(template string, req market.Request, compact bool) string {
	code, ex, err := SplitSymbol(req.Symbol)
	prefixed := req.Symbol
	if err == nil {
		prefixed = string(ex) + code
	} else {
		code = req.Symbol
	}
	start, end := req.Start, req.End
	if compact {
		start, end = strings.ReplaceAll(start, "-", ""), strings.ReplaceAll(end, "-", "")
	}
	return strings.NewReplacer(
		"{symbol}", req.Symbol,
		"{code}", code,
		"{prefixed}", prefixed,
		"{start}", start,
		"{end}", end,
		"{adjust}", string(req.Adjust),
	).Replace(template)
}
