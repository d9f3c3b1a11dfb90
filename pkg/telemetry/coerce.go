package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Coerce converts an untrusted decoded value into a finite float64.
// Numbers (including json.Number) and numeric strings are accepted; nil,
// booleans, blank strings, containers, NaN and infinities are not.
func Coerce(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
