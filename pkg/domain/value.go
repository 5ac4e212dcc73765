// Package domain defines the public value types, schema descriptors and error
// taxonomy shared by the component store, the schema registry and the
// persistence backends of gridstore.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value currently holds.
type Kind uint8

const (
	// KindNull marks an absent value (empty CSV cell, JSON null).
	KindNull Kind = iota
	// KindFloat holds a float64; NaN is the typed null of float columns.
	KindFloat
	// KindString holds a string (also used for enumerated members).
	KindString
	// KindBool holds a boolean.
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the tagged variant used for every cell of a static or series table.
// The zero Value is null. Values are immutable and safe to copy.
type Value struct {
	kind Kind
	f    float64
	s    string
	b    bool
}

// Null returns the untyped null value.
func Null() Value { return Value{} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// NullFloat returns the typed null of float columns (NaN).
func NullFloat() Value { return Float(math.NaN()) }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the untyped null or a NaN float.
func (v Value) IsNull() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindFloat:
		return math.IsNaN(v.f)
	default:
		return false
	}
}

// AsFloat returns the float payload; ok is false for other kinds.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindFloat {
		return 0, false
	}
	return v.f, true
}

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsBool returns the bool payload; ok is false for other kinds.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Equal compares two values. Nulls compare equal to each other regardless of
// kind, so a NaN float equals the untyped null.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	}
	return false
}

// String renders the value the way text backends persist it: nulls are empty,
// floats use the shortest exact decimal form, bools are true/false.
func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) {
			return ""
		}
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Round returns v with floats rounded to the given number of decimals.
// Other kinds and negative digit counts are returned unchanged.
func (v Value) Round(digits int) Value {
	if v.kind != KindFloat || digits < 0 || math.IsNaN(v.f) || math.IsInf(v.f, 0) {
		return v
	}
	scale := math.Pow10(digits)
	return Float(math.Round(v.f*scale) / scale)
}

// MarshalJSON encodes nulls as null and infinities as "+Inf"/"-Inf" strings,
// which coerce back to floats on import.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFloat:
		switch {
		case math.IsNaN(v.f):
			return []byte("null"), nil
		case math.IsInf(v.f, 1):
			return []byte(`"+Inf"`), nil
		case math.IsInf(v.f, -1):
			return []byte(`"-Inf"`), nil
		}
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the natural JSON kind; schema coercion happens later.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case float64:
		*v = Float(t)
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("unsupported json value %s", string(b))
	}
	return nil
}
