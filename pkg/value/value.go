// Package value defines the scalar values stored in statistics and predicate
// literals, and the one ordering used everywhere values are compared.
//
// Statistics construction (min/max), pixel pruning and row-level predicate
// evaluation all go through Compare, so a pixel is never pruned by an ordering
// that differs from the one the row filter would apply.
package value

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
)

// Kind is the physical kind of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged scalar. The zero Value is null.
type Value struct {
	_     struct{} `cbor:",toarray"`
	Kind  Kind
	Int   int64
	Float float64
	Bytes []byte
}

// Null returns the null value.
func Null() Value { return Value{} }

// Int64 returns an int64 value.
func Int64(v int64) Value { return Value{Kind: KindInt64, Int: v} }

// Float64 returns a float64 value.
func Float64(v float64) Value { return Value{Kind: KindFloat64, Float: v} }

// Bytes returns a bytes value. The slice is not copied.
func Bytes(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }

// String returns a bytes value holding s.
func String(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNaN reports whether v is a float NaN.
func (v Value) IsNaN() bool { return v.Kind == KindFloat64 && math.IsNaN(v.Float) }

// Clone returns a copy of v that does not share its byte slice.
func (v Value) Clone() Value {
	if v.Kind == KindBytes {
		v.Bytes = bytes.Clone(v.Bytes)
		if v.Bytes == nil {
			v.Bytes = []byte{}
		}
	}
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt64:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	case KindBytes:
		return fmt.Sprintf("%q", v.Bytes)
	default:
		return v.Kind.String()
	}
}

// CompareInt64 orders two int64 values.
func CompareInt64(a, b int64) int {
	return cmp.Compare(a, b)
}

// CompareFloat64 orders two floats under IEEE rules. ok is false when either
// side is NaN: NaN is unordered and never satisfies an ordered comparison.
// Negative and positive zero compare equal.
func CompareFloat64(a, b float64) (int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}

// CompareBytes orders two byte strings lexicographically.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Compare orders a and b. ok is false when the values are not comparable: either
// is null or NaN, or their kinds cannot be ordered against each other. Int64 and
// Float64 compare numerically.
func Compare(a, b Value) (int, bool) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return 0, false
	}
	switch a.Kind {
	case KindInt64:
		switch b.Kind {
		case KindInt64:
			return CompareInt64(a.Int, b.Int), true
		case KindFloat64:
			return compareIntFloat(a.Int, b.Float)
		}
	case KindFloat64:
		switch b.Kind {
		case KindFloat64:
			return CompareFloat64(a.Float, b.Float)
		case KindInt64:
			c, ok := compareIntFloat(b.Int, a.Float)
			return -c, ok
		}
	case KindBytes:
		if b.Kind == KindBytes {
			return CompareBytes(a.Bytes, b.Bytes), true
		}
	}
	return 0, false
}

// compareIntFloat compares an integer with a float without losing precision for
// integers beyond 2^53.
func compareIntFloat(i int64, f float64) (int, bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	if f >= 9.223372036854775807e18 {
		return -1, true
	}
	if f < -9.223372036854775808e18 {
		return 1, true
	}
	t := math.Trunc(f)
	ti := int64(t)
	if c := CompareInt64(i, ti); c != 0 {
		return c, true
	}
	// same integer part: the fraction decides
	switch {
	case f > t:
		return -1, true
	case f < t:
		return 1, true
	default:
		return 0, true
	}
}

// Equal reports whether a and b compare equal. Null and NaN are never equal.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Min returns the smaller comparable value; a non-comparable candidate is ignored.
func Min(cur, candidate Value) Value {
	if cur.IsNull() || cur.IsNaN() {
		return candidate
	}
	if c, ok := Compare(candidate, cur); ok && c < 0 {
		return candidate
	}
	return cur
}

// Max returns the larger comparable value; a non-comparable candidate is ignored.
func Max(cur, candidate Value) Value {
	if cur.IsNull() || cur.IsNaN() {
		return candidate
	}
	if c, ok := Compare(candidate, cur); ok && c > 0 {
		return candidate
	}
	return cur
}
