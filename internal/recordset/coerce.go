package recordset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Scalar coercion for values read from source rows. Drivers hand back a mix
// of int64/float64/[]byte/string/time.Time depending on backend; builders
// must not care which. Malformed values return an error so the caller can
// exclude and count the row instead of propagating a bad key or measure.

// IsNull reports whether a value is semantically null: nil, or a string
// that is empty after trimming.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return strings.TrimSpace(string(t)) == ""
	default:
		return false
	}
}

// AsInt64 converts a scalar to int64.
func AsInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case float32:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("recordset: cannot convert %T to int64", v)
	}
}

// AsFloat64 converts a scalar to float64.
func AsFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("recordset: cannot convert %T to float64", v)
	}
}

// Float64OrZero converts like AsFloat64 but maps null to 0.
// Malformed values still error.
func Float64OrZero(v any) (float64, error) {
	if IsNull(v) {
		return 0, nil
	}
	return AsFloat64(v)
}

// dateLayouts lists the formats dates arrive in across backends.
// The "2006-01-02 15:04:05" form is interpreted as UTC.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// AsDate converts a scalar to a calendar date, normalized to midnight UTC.
// Callers check IsNull first; a null here is an error.
func AsDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return truncateToDate(t), nil
	case string:
		return parseDate(t)
	case []byte:
		return parseDate(string(t))
	default:
		return time.Time{}, fmt.Errorf("recordset: cannot convert %T to date", v)
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("recordset: empty date string")
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return truncateToDate(ts), nil
		}
	}
	return time.Time{}, fmt.Errorf("recordset: unsupported date format %q", s)
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CleanString normalizes a descriptive text attribute: NFC form with
// surrounding whitespace removed. Null maps to "".
func CleanString(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		s = fmt.Sprint(v)
	}
	return norm.NFC.String(strings.TrimSpace(s))
}

// CleanStringOr normalizes like CleanString but substitutes fallback when
// the value is null or empty.
func CleanStringOr(v any, fallback string) string {
	if s := CleanString(v); s != "" {
		return s
	}
	return fallback
}

// Key produces the canonical string form of a natural-key value, used for
// natural-key -> surrogate-key dictionaries. Keeping the form in one place
// keeps key maps consistent across builders and backends.
func Key(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
