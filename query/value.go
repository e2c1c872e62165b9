package query

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Row is a single database row keyed by column name. Values are kept in the
// canonical scalar set: nil, bool, int64, float64 or string.
type Row map[string]any

// ValidationError reports a malformed query, condition or operation before
// any storage work happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + e.Reason
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a table or column
// identifier. Quoting already prevents injection; this keeps garbage out of
// logs and error paths early.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func scalarValue(v any) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string:
		return true
	}
	return false
}

// NormalizeValue coerces v into the canonical scalar set. Integral floats
// collapse to int64 so values survive a JSON round trip unchanged; times and
// byte slices become strings the way SQLite stores them.
func NormalizeValue(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case bool, int64, string:
		return value, nil
	case float64:
		if integralFloat(value) {
			return int64(value), nil
		}
		return value, nil
	case float32:
		return NormalizeValue(float64(value))
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case uint:
		return int64(value), nil
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case uint64:
		if value > math.MaxInt64 {
			return nil, fmt.Errorf("integer value %d overflows int64", value)
		}
		return int64(value), nil
	case []byte:
		return string(value), nil
	case time.Time:
		// SQLite's canonical text format, so normalized values order the
		// same way the stored text does.
		return value.UTC().Format("2006-01-02 15:04:05"), nil
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i, nil
		}
		f, err := value.Float64()
		if err != nil {
			return nil, fmt.Errorf("unparseable numeric value %q: %w", value.String(), err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// NormalizeRow normalizes every value of row in place and returns it.
func NormalizeRow(row Row) (Row, error) {
	for column, v := range row {
		normalized, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", column, err)
		}
		row[column] = normalized
	}
	return row, nil
}

func integralFloat(f float64) bool {
	// Past 2^53 a float no longer identifies a unique integer.
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}

func unmarshalValue(data json.RawMessage) (any, error) {
	if isJSONNull(data) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed constraint value: %v", err)}
	}
	switch value := v.(type) {
	case []any:
		for i, elem := range value {
			normalized, err := NormalizeValue(elem)
			if err != nil {
				return nil, &ValidationError{Reason: err.Error()}
			}
			value[i] = normalized
		}
		return value, nil
	default:
		normalized, err := NormalizeValue(value)
		if err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
		return normalized, nil
	}
}

// valueEqual compares two canonical scalars. Nulls equal only each other,
// strings only other strings. Numbers and bools share one numeric domain
// with bools as 0/1, the way the databases store them (SQLite has no bool
// type and MySQL's BOOLEAN is TINYINT), so `done = 1` and `done = true`
// select the same rows in SQL and in memory.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

// valueCompare orders two canonical scalars. The boolean result is false
// when the values are not comparable (nulls, string against number).
func valueCompare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case bool:
		if value {
			return 1, true
		}
		return 0, true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	}
	return 0, false
}
