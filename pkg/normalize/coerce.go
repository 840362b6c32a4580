package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"equityfeed/pkg/market"
)

var errNotNumeric = errors.New("is not numeric")

var blankNumbers = map[string]struct{}{
	"": {}, "-": {}, "--": {}, "none": {}, "null": {}, "nan": {}, "n/a": {},
}

func toFloat(value any) (float64, error) {
	var v float64
	switch x := value.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int32:
		v = float64(x)
	case int64:
		v = float64(x)
	case uint32:
		v = float64(x)
	case uint64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, errNotNumeric
		}
		v = f
	case string:
		s := strings.TrimSpace(x)
		if _, blank := blankNumbers[strings.ToLower(s)]; blank {
			return 0, errNotNumeric
		}
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errNotNumeric
		}
		v = f
	default:
		return 0, errNotNumeric
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotNumeric
	}
	return v, nil
}

var dateLayouts = []string{
	market.DateLayout,
	"20060102",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func toDate(value any) (string, error) {
	switch x := value.(type) {
	case time.Time:
		if x.IsZero() {
			return "", errors.New("is a zero time")
		}
		return x.UTC().Format(market.DateLayout), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(market.DateLayout), nil
			}
		}
		return "", fmt.Errorf("is not a date: %q", s)
	default:
		if f, err := toFloat(value); err == nil && f >= 19000101 && f <= 29991231 {
			return toDate(strconv.FormatInt(int64(f), 10))
		}
		return "", fmt.Errorf("is not a date: %v", value)
	}
}

func toCode(value any) (string, error) {
	switch x := value.(type) {
	case string:
		s := strings.ToUpper(strings.TrimSpace(x))
		if s == "" {
			return "", errors.New("is empty")
		}
		if isDigits(s) && len(s) < 6 {
			s = strings.Repeat("0", 6-len(s)) + s
		}
		return s, nil
	default:
		f, err := toFloat(value)
		if err != nil || f < 0 || f != math.Trunc(f) {
			return "", fmt.Errorf("is not a security code: %v", value)
		}
		return fmt.Sprintf("%06d", int64(f)), nil
	}
}

func toText(value any) (string, error) {
	var s string
	switch x := value.(type) {
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("is empty")
	}
	return s, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
