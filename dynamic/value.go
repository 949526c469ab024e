// Package dynamic wraps decoded JSON in a flexibly addressable value.
//
// Fields are read by name through Get and the typed getters. A name may be
// given in the wire's camelCase or in underscore style; "has_x" and "x?" both
// read the same flag as a boolean; keys ending in "date" read as time.Time.
// Values assigned with Set are returned verbatim.
package dynamic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrMissingField is returned by strict values when a field cannot be
	// resolved.
	ErrMissingField = errors.New("dynamic: missing field")
	// ErrTypeMismatch is returned by typed getters when the field holds a
	// value of another type.
	ErrTypeMismatch = errors.New("dynamic: type mismatch")
	// ErrIndexOutOfRange is returned by Index.
	ErrIndexOutOfRange = errors.New("dynamic: index out of range")
)

// Kind is the shape of the wrapped JSON value.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Option configures how a Value resolves fields.
type Option func(*options)

type options struct {
	ignoreMissing bool
	prefix        string
	name          string
}

// Strict makes unresolvable fields return ErrMissingField. This is the
// default.
func Strict() Option {
	return func(o *options) {
		o.ignoreMissing = false
	}
}

// IgnoreMissing makes unresolvable fields read as nil without error.
func IgnoreMissing() Option {
	return func(o *options) {
		o.ignoreMissing = true
	}
}

// WithFieldPrefix adds a last-resort lookup of prefix+name, for backends that
// namespace their field names.
func WithFieldPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = Underscore(prefix)
	}
}

// WithName sets the label String prints on its first line.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Value is one decoded JSON value plus an overlay of explicitly assigned
// fields. A Value is not safe for concurrent mutation.
type Value struct {
	kind      Kind
	raw       any
	overrides map[string]any
	opts      options
}

// New wraps raw, which is expected to come from encoding/json decoding.
func New(raw any, opts ...Option) *Value {
	v := &Value{raw: raw, kind: kindOf(raw)}
	for _, opt := range opts {
		opt(&v.opts)
	}
	return v
}

// Parse decodes data keeping integer precision and wraps the result.
func Parse(data []byte, opts ...Option) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("dynamic: parse: %w", err)
	}
	return New(raw, opts...), nil
}

func kindOf(raw any) Kind {
	switch raw.(type) {
	case nil:
		return KindNull
	case map[string]any:
		return KindObject
	case []any:
		return KindList
	default:
		return KindScalar
	}
}

// Kind reports the shape of the wrapped value.
func (v *Value) Kind() Kind { return v.kind }

// Raw returns the wrapped value as decoded, without the override overlay.
func (v *Value) Raw() any { return v.raw }

// child wraps a nested value with the parent's lookup policy.
func (v *Value) child(raw any) *Value {
	opts := v.opts
	opts.name = ""
	return &Value{raw: raw, kind: kindOf(raw), opts: opts}
}

// fieldName normalises an accessor name into the underscored key it reads
// and reports whether the read is a boolean flag.
func fieldName(name string) (key string, flag bool) {
	if strings.HasSuffix(name, "?") {
		return "has_" + Underscore(strings.TrimSuffix(name, "?")), true
	}
	key = Underscore(name)
	return key, strings.HasPrefix(key, "has_")
}

// Get resolves name and returns its interpreted value: nested objects and
// lists as *Value, "date" fields as time.Time, flags as bool, integral
// numbers as int64 and other numbers as float64.
func (v *Value) Get(name string) (any, error) {
	key, flag := fieldName(name)

	if val, ok := v.overrides[key]; ok {
		return val, nil
	}

	raw, rawKey, ok := v.lookup(name, key)
	if !ok {
		if flag {
			return false, nil
		}
		if v.opts.ignoreMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
	}

	if flag {
		return Truthy(raw), nil
	}
	return v.interpret(Underscore(rawKey), raw), nil
}

// lookup finds the raw entry for name. Candidates are tried in order: the
// literal name, the name with its first letter case-flipped, any key whose
// underscored form equals key, and finally the configured field prefix.
func (v *Value) lookup(name, key string) (any, string, bool) {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return nil, "", false
	}

	if !strings.HasSuffix(name, "?") {
		if val, ok := obj[name]; ok {
			return val, name, true
		}
		if flipped := flipFirst(name); flipped != name {
			if val, ok := obj[flipped]; ok {
				return val, flipped, true
			}
		}
	}
	if val, ok := obj[key]; ok {
		return val, key, true
	}
	if rk, ok := matchUnderscored(obj, key); ok {
		return obj[rk], rk, true
	}

	if v.opts.prefix != "" && !strings.HasPrefix(key, v.opts.prefix) {
		prefixed := v.opts.prefix + key
		if val, ok := obj[prefixed]; ok {
			return val, prefixed, true
		}
		if rk, ok := matchUnderscored(obj, prefixed); ok {
			return obj[rk], rk, true
		}
	}
	return nil, "", false
}

// matchUnderscored picks the smallest raw key whose underscored form is key,
// so that the result does not depend on map iteration order.
func matchUnderscored(obj map[string]any, key string) (string, bool) {
	found := ""
	for rk := range obj {
		if Underscore(rk) == key && (found == "" || rk < found) {
			found = rk
		}
	}
	return found, found != ""
}

func (v *Value) interpret(key string, raw any) any {
	switch val := raw.(type) {
	case map[string]any, []any:
		return v.child(val)
	}
	if strings.HasPrefix(key, "has_") {
		return Truthy(raw)
	}
	if strings.HasSuffix(key, "date") {
		if ms, ok := toInt64(raw); ok {
			return time.UnixMilli(ms).UTC()
		}
	}
	return scalar(raw)
}

// Set stores val verbatim under name. Later reads of name return val
// without any interpretation.
func (v *Value) Set(name string, val any) {
	key, _ := fieldName(name)
	if v.overrides == nil {
		v.overrides = make(map[string]any)
	}
	v.overrides[key] = val
}

// Has reports whether name resolves to a field.
func (v *Value) Has(name string) bool {
	key, _ := fieldName(name)
	if _, ok := v.overrides[key]; ok {
		return true
	}
	_, _, ok := v.lookup(name, key)
	return ok
}

// Keys returns the underscored field names, sorted.
func (v *Value) Keys() []string {
	seen := make(map[string]bool)
	if obj, ok := v.raw.(map[string]any); ok {
		for k := range obj {
			seen[Underscore(k)] = true
		}
	}
	for k := range v.overrides {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of elements of a list or fields of an object.
func (v *Value) Len() int {
	switch raw := v.raw.(type) {
	case []any:
		return len(raw)
	case map[string]any:
		return len(v.Keys())
	default:
		return 0
	}
}

// Index returns the interpreted i'th element of a list.
func (v *Value) Index(i int) (any, error) {
	list, ok := v.raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a list", ErrTypeMismatch, v.kind)
	}
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(list))
	}
	return v.element(list[i]), nil
}

// Items returns every interpreted element of a list, or nil for other kinds.
func (v *Value) Items() []any {
	list, ok := v.raw.([]any)
	if !ok {
		return nil
	}
	items := make([]any, len(list))
	for i, el := range list {
		items[i] = v.element(el)
	}
	return items
}

func (v *Value) element(raw any) any {
	switch raw.(type) {
	case map[string]any, []any:
		return v.child(raw)
	}
	return scalar(raw)
}

// Int returns name as an integer.
func (v *Value) Int(name string) (int64, error) {
	val, err := v.Get(name)
	if err != nil || val == nil {
		return 0, err
	}
	if n, ok := toInt64(val); ok {
		return n, nil
	}
	return 0, mismatch(name, "integer", val)
}

// Float returns name as a float.
func (v *Value) Float(name string) (float64, error) {
	val, err := v.Get(name)
	if err != nil || val == nil {
		return 0, err
	}
	if f, ok := toFloat64(val); ok {
		return f, nil
	}
	return 0, mismatch(name, "number", val)
}

// Str returns name as a string.
func (v *Value) Str(name string) (string, error) {
	val, err := v.Get(name)
	if err != nil || val == nil {
		return "", err
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return "", mismatch(name, "string", val)
}

// Bool returns the truthiness of name.
func (v *Value) Bool(name string) (bool, error) {
	val, err := v.Get(name)
	if err != nil {
		return false, err
	}
	return Truthy(val), nil
}

// Time returns name as a timestamp. Numbers are read as epoch
// milliseconds.
func (v *Value) Time(name string) (time.Time, error) {
	val, err := v.Get(name)
	if err != nil || val == nil {
		return time.Time{}, err
	}
	switch t := val.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		return *t, nil
	}
	if ms, ok := toInt64(val); ok {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, mismatch(name, "time", val)
}

// Object returns name as a nested object.
func (v *Value) Object(name string) (*Value, error) {
	return v.nested(name, KindObject)
}

// List returns name as a nested list.
func (v *Value) List(name string) (*Value, error) {
	return v.nested(name, KindList)
}

func (v *Value) nested(name string, kind Kind) (*Value, error) {
	val, err := v.Get(name)
	if err != nil || val == nil {
		return nil, err
	}
	if child, ok := val.(*Value); ok && child.kind == kind {
		return child, nil
	}
	return nil, mismatch(name, kind.String(), val)
}

// MarshalJSON renders the raw value with overrides applied.
func (v *Value) MarshalJSON() ([]byte, error) {
	obj, ok := v.raw.(map[string]any)
	if !ok || len(v.overrides) == 0 {
		return json.Marshal(v.raw)
	}
	merged := make(map[string]any, len(obj)+len(v.overrides))
	for k, val := range obj {
		merged[k] = val
	}
	for k, val := range v.overrides {
		if rk, ok := matchUnderscored(obj, k); ok {
			merged[rk] = val
			continue
		}
		merged[k] = val
	}
	return json.Marshal(merged)
}

func mismatch(name, want string, got any) error {
	return fmt.Errorf("%w: %s is %T, not %s", ErrTypeMismatch, name, got, want)
}
