// Package money holds the decimal helpers shared by the cart and the
// checkout payload builder.
package money

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// WirePlaces is the number of fractional digits used for amounts sent to
// the Komodo API.
const WirePlaces = 2

// ParseOrZero converts a loosely typed numeric value into a decimal.
// Strings, json.Number, integers, floats and decimals are accepted.
// Anything that does not parse (nil, empty strings, NaN, Inf, garbage)
// yields zero instead of an error.
func ParseOrZero(v any) decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return n
	case Loose:
		return n.Decimal
	case string:
		return parseString(n)
	case json.Number:
		return parseString(n.String())
	case float64:
		return fromFloat(n)
	case float32:
		return fromFloat(float64(n))
	case int:
		return decimal.NewFromInt(int64(n))
	case int32:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	default:
		return decimal.Zero
	}
}

// IntOrZero is ParseOrZero truncated towards zero.
func IntOrZero(v any) int {
	return int(ParseOrZero(v).IntPart())
}

// Format renders d with exactly two decimal places, rounding half away
// from zero. Amounts cross the API boundary as strings so that no float
// conversion happens on the way.
func Format(d decimal.Decimal) string {
	return d.StringFixed(WirePlaces)
}

func parseString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// Loose is a decimal decoded from either a JSON number or a JSON string.
// Malformed input decodes to zero; decoding never fails.
type Loose struct {
	decimal.Decimal
}

// NewLoose wraps any value accepted by ParseOrZero.
func NewLoose(v any) Loose {
	return Loose{Decimal: ParseOrZero(v)}
}

func (l *Loose) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			l.Decimal = decimal.Zero
			return nil
		}
		l.Decimal = parseString(s)
		return nil
	}
	l.Decimal = parseString(string(b))
	return nil
}

func (l Loose) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(l.Decimal.String())), nil
}
