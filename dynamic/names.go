package dynamic

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Underscore converts a camelCase or PascalCase name to underscore style:
// "hasOwner" becomes "has_owner" and "HTTPCode" becomes "http_code".
func Underscore(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)

	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// flipFirst alternates the case of the first letter.
func flipFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	switch {
	case unicode.IsUpper(r):
		return string(unicode.ToLower(r)) + name[size:]
	case unicode.IsLower(r):
		return string(unicode.ToUpper(r)) + name[size:]
	default:
		return name
	}
}

// Truthy is false for nil, false, zero numbers, empty strings and empty
// collections, and true for everything else.
func Truthy(val any) bool {
	switch t := val.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case *Value:
		switch t.kind {
		case KindNull:
			return false
		case KindList, KindObject:
			return t.Len() > 0
		default:
			return Truthy(t.raw)
		}
	}
	if f, ok := toFloat64(val); ok {
		return f != 0
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

// scalar normalises decoded numbers: integral values become int64, others
// float64. Everything else is returned unchanged.
func scalar(raw any) any {
	n, ok := raw.(json.Number)
	if !ok {
		return raw
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toInt64(val any) (int64, bool) {
	switch n := val.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int64(n), true
		}
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(val any) (float64, bool) {
	switch n := val.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := toInt64(val); ok {
		return float64(i), true
	}
	return 0, false
}
