package alerts

import (
	"strconv"
	"strings"
	"time"

	"github.com/trailwatch/trailwatch/server/internal/query"
)

// evalCondition evaluates a rule condition string against a trail status.
//
// Supported expressions (field operator value):
//
//	moisture > 400
//	moisture <= 300
//	battery < 15
//	age_minutes > 90
//	offline == true
//	condition == Wet / Damp
//	condition != Dry
//
// Returns (fires bool, triggering value float64). A rule on battery never
// fires for a trail that does not report one. Unparseable expressions never
// fire.
func evalCondition(cond string, st query.Status, now time.Time) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) < 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], strings.Join(parts[2:], " ")

	switch field {
	case "condition":
		return compareString(st.Condition, op, rhs), 0

	case "offline":
		want, err := strconv.ParseBool(rhs)
		if err != nil {
			return false, 0
		}
		v := 0.0
		if st.Offline {
			v = 1
		}
		return compareString(strconv.FormatBool(st.Offline), op, strconv.FormatBool(want)), v

	default:
		v, ok := numericField(field, st, now)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericField maps a field name to its value in the status.
func numericField(field string, st query.Status, now time.Time) (float64, bool) {
	switch field {
	case "moisture":
		return st.Latest.Moisture, true
	case "battery":
		if st.Latest.Battery == nil {
			return 0, false
		}
		return *st.Latest.Battery, true
	case "age_minutes":
		return st.Age(now).Minutes(), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return strings.EqualFold(v, want)
	case "!=":
		return !strings.EqualFold(v, want)
	default:
		return false
	}
}
