// Package vector provides the column vectors and row batches every pixels
// component exchanges.
//
// A column vector holds one value slot and one null indicator per row. IsNull is
// authoritative; NoNulls is kept in sync by SetNull and Reset so that readers of a
// vector can take a fast path when a column has no nulls.
package vector

import (
	"fmt"

	"github.com/ajitpratap0/pixels/pkg/value"
)

// ColumnVector is implemented by the closed set of vector types in this package.
type ColumnVector interface {
	// Len returns the number of row slots.
	Len() int
	// Ensure grows the vector to at least size slots, keeping existing rows.
	Ensure(size int)
	// Reset clears nulls and values so the vector can be refilled.
	Reset()
	// SetNull marks row i as null.
	SetNull(i int)
	// IsNullAt reports whether row i is null.
	IsNullAt(i int) bool
	// HasNulls reports whether any row may be null.
	HasNulls() bool
	// Value returns row i as a scalar. Lists are not scalar and return null.
	Value(i int) value.Value

	base() *Base
}

// Base carries the null indicators shared by every vector type.
type Base struct {
	IsNull  []bool
	NoNulls bool
}

func newBase(size int) Base {
	return Base{IsNull: make([]bool, size), NoNulls: true}
}

func (b *Base) base() *Base { return b }

// Len returns the number of row slots.
func (b *Base) Len() int { return len(b.IsNull) }

// SetNull marks row i as null.
func (b *Base) SetNull(i int) {
	b.IsNull[i] = true
	b.NoNulls = false
}

// IsNullAt reports whether row i is null.
func (b *Base) IsNullAt(i int) bool { return b.IsNull[i] }

// HasNulls reports whether any row may be null.
func (b *Base) HasNulls() bool { return !b.NoNulls }

func (b *Base) reset() {
	if !b.NoNulls {
		clear(b.IsNull)
	}
	b.NoNulls = true
}

func (b *Base) ensure(size int) {
	if size <= len(b.IsNull) {
		return
	}
	grown := make([]bool, size)
	copy(grown, b.IsNull)
	b.IsNull = grown
}

func (b *Base) setNotNull(i int) {
	b.IsNull[i] = false
}

// LongColumnVector stores boolean, byte, short, int, long, date and timestamp
// columns. Booleans are 0 or 1, dates are days since epoch and timestamps are
// microseconds since epoch.
type LongColumnVector struct {
	Base
	Vector []int64
}

// NewLongColumnVector creates a vector with size slots.
func NewLongColumnVector(size int) *LongColumnVector {
	return &LongColumnVector{Base: newBase(size), Vector: make([]int64, size)}
}

// Ensure grows the vector to at least size slots.
func (v *LongColumnVector) Ensure(size int) {
	if size <= len(v.Vector) {
		return
	}
	v.ensure(size)
	grown := make([]int64, size)
	copy(grown, v.Vector)
	v.Vector = grown
}

// Reset clears the vector.
func (v *LongColumnVector) Reset() {
	v.reset()
	clear(v.Vector)
}

// Set stores a non-null value at row i.
func (v *LongColumnVector) Set(i int, x int64) {
	v.Vector[i] = x
	v.setNotNull(i)
}

// Value returns row i as a scalar.
func (v *LongColumnVector) Value(i int) value.Value {
	if v.IsNull[i] {
		return value.Null()
	}
	return value.Int64(v.Vector[i])
}

// DoubleColumnVector stores float and double columns.
type DoubleColumnVector struct {
	Base
	Vector []float64
}

// NewDoubleColumnVector creates a vector with size slots.
func NewDoubleColumnVector(size int) *DoubleColumnVector {
	return &DoubleColumnVector{Base: newBase(size), Vector: make([]float64, size)}
}

// Ensure grows the vector to at least size slots.
func (v *DoubleColumnVector) Ensure(size int) {
	if size <= len(v.Vector) {
		return
	}
	v.ensure(size)
	grown := make([]float64, size)
	copy(grown, v.Vector)
	v.Vector = grown
}

// Reset clears the vector.
func (v *DoubleColumnVector) Reset() {
	v.reset()
	clear(v.Vector)
}

// Set stores a non-null value at row i.
func (v *DoubleColumnVector) Set(i int, x float64) {
	v.Vector[i] = x
	v.setNotNull(i)
}

// Value returns row i as a scalar.
func (v *DoubleColumnVector) Value(i int) value.Value {
	if v.IsNull[i] {
		return value.Null()
	}
	return value.Float64(v.Vector[i])
}

// BytesColumnVector stores string, varchar, char and binary columns.
type BytesColumnVector struct {
	Base
	Vector [][]byte
}

// NewBytesColumnVector creates a vector with size slots.
func NewBytesColumnVector(size int) *BytesColumnVector {
	return &BytesColumnVector{Base: newBase(size), Vector: make([][]byte, size)}
}

// Ensure grows the vector to at least size slots.
func (v *BytesColumnVector) Ensure(size int) {
	if size <= len(v.Vector) {
		return
	}
	v.ensure(size)
	grown := make([][]byte, size)
	copy(grown, v.Vector)
	v.Vector = grown
}

// Reset clears the vector.
func (v *BytesColumnVector) Reset() {
	v.reset()
	clear(v.Vector)
}

// SetRef stores b at row i without copying.
func (v *BytesColumnVector) SetRef(i int, b []byte) {
	v.Vector[i] = b
	v.setNotNull(i)
}

// SetVal stores a copy of b at row i.
func (v *BytesColumnVector) SetVal(i int, b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	v.SetRef(i, cp)
}

// SetString stores s at row i.
func (v *BytesColumnVector) SetString(i int, s string) {
	v.SetRef(i, []byte(s))
}

// Value returns row i as a scalar.
func (v *BytesColumnVector) Value(i int) value.Value {
	if v.IsNull[i] {
		return value.Null()
	}
	b := v.Vector[i]
	if b == nil {
		b = []byte{}
	}
	return value.Bytes(b)
}

// ListColumnVector stores list columns. The elements of row i are
// Child[Offsets[i] : Offsets[i]+Lengths[i]].
type ListColumnVector struct {
	Base
	Offsets    []int64
	Lengths    []int64
	Child      ColumnVector
	ChildCount int
}

// NewListColumnVector creates a vector with size slots over child.
func NewListColumnVector(size int, child ColumnVector) *ListColumnVector {
	return &ListColumnVector{
		Base:    newBase(size),
		Offsets: make([]int64, size),
		Lengths: make([]int64, size),
		Child:   child,
	}
}

// Ensure grows the vector to at least size slots.
func (v *ListColumnVector) Ensure(size int) {
	if size <= len(v.Offsets) {
		return
	}
	v.ensure(size)
	offsets := make([]int64, size)
	copy(offsets, v.Offsets)
	v.Offsets = offsets
	lengths := make([]int64, size)
	copy(lengths, v.Lengths)
	v.Lengths = lengths
}

// Reset clears the vector and its child.
func (v *ListColumnVector) Reset() {
	v.reset()
	clear(v.Offsets)
	clear(v.Lengths)
	v.Child.Reset()
	v.ChildCount = 0
}

// StartRow reserves n child slots for row i and returns the first child index.
func (v *ListColumnVector) StartRow(i, n int) int {
	start := v.ChildCount
	v.Child.Ensure(start + n)
	v.Offsets[i] = int64(start)
	v.Lengths[i] = int64(n)
	v.ChildCount += n
	v.setNotNull(i)
	return start
}

// Value returns null: lists have no scalar form.
func (v *ListColumnVector) Value(int) value.Value {
	return value.Null()
}

// CopyRows copies n rows of src starting at srcOff into dst starting at dstOff.
// dst must have the same concrete type as src; it is grown as needed.
func CopyRows(dst ColumnVector, dstOff int, src ColumnVector, srcOff, n int) error {
	if n <= 0 {
		return nil
	}
	dst.Ensure(dstOff + n)
	db, sb := dst.base(), src.base()
	copy(db.IsNull[dstOff:dstOff+n], sb.IsNull[srcOff:srcOff+n])
	if db.NoNulls {
		for _, null := range sb.IsNull[srcOff : srcOff+n] {
			if null {
				db.NoNulls = false
				break
			}
		}
	}

	switch s := src.(type) {
	case *LongColumnVector:
		d, ok := dst.(*LongColumnVector)
		if !ok {
			return mismatch(dst, src)
		}
		copy(d.Vector[dstOff:dstOff+n], s.Vector[srcOff:srcOff+n])
	case *DoubleColumnVector:
		d, ok := dst.(*DoubleColumnVector)
		if !ok {
			return mismatch(dst, src)
		}
		copy(d.Vector[dstOff:dstOff+n], s.Vector[srcOff:srcOff+n])
	case *BytesColumnVector:
		d, ok := dst.(*BytesColumnVector)
		if !ok {
			return mismatch(dst, src)
		}
		copy(d.Vector[dstOff:dstOff+n], s.Vector[srcOff:srcOff+n])
	case *ListColumnVector:
		d, ok := dst.(*ListColumnVector)
		if !ok {
			return mismatch(dst, src)
		}
		for r := 0; r < n; r++ {
			if s.IsNull[srcOff+r] {
				d.Offsets[dstOff+r], d.Lengths[dstOff+r] = 0, 0
				continue
			}
			length := int(s.Lengths[srcOff+r])
			start := d.StartRow(dstOff+r, length)
			if err := CopyRows(d.Child, start, s.Child, int(s.Offsets[srcOff+r]), length); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported column vector %T", src)
	}
	return nil
}

// CopyRow copies a single row.
func CopyRow(dst ColumnVector, dstRow int, src ColumnVector, srcRow int) error {
	return CopyRows(dst, dstRow, src, srcRow, 1)
}

// FillNulls marks rows [off, off+n) of v as null.
func FillNulls(v ColumnVector, off, n int) {
	v.Ensure(off + n)
	for i := off; i < off+n; i++ {
		v.SetNull(i)
	}
}

func mismatch(dst, src ColumnVector) error {
	return fmt.Errorf("cannot copy %T into %T", src, dst)
}
