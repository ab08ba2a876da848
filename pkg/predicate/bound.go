package predicate

import (
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/value"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Tri is a three-valued truth value.
type Tri int8

const (
	False Tri = iota
	True
	Unknown
)

func (t Tri) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "unknown"
	}
}

func (t Tri) not() Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	}
	return Unknown
}

func fromBool(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Bound is an expression resolved against a schema. Column references are
// leaf column ids of that schema.
type Bound struct {
	op       Op
	col      int
	lits     []value.Value
	children []*Bound
}

// Bind resolves the column names of e against the leaves of s and coerces
// literals to the column kinds.
func Bind(e *Expr, s *schema.TypeDescription) (*Bound, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return bind(e, s.Leaves())
}

func bind(e *Expr, leaves []schema.Column) (*Bound, error) {
	b := &Bound{op: e.Op, col: -1}
	if e.Op.isLogical() {
		b.children = make([]*Bound, len(e.Children))
		for i, c := range e.Children {
			child, err := bind(c, leaves)
			if err != nil {
				return nil, err
			}
			b.children[i] = child
		}
		return b, nil
	}

	var col *schema.Column
	for i := range leaves {
		if leaves[i].Name == e.Column {
			col = &leaves[i]
			break
		}
	}
	if col == nil {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "predicate column %q does not exist", e.Column)
	}
	b.col = col.ID
	if e.Op == OpIsNull || e.Op == OpIsNotNull {
		return b, nil
	}

	kind := col.Type.Category.ValueKind()
	if kind == value.KindNull {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q of type %s cannot be compared", e.Column, col.Type)
	}
	lits := e.Values
	if e.Value != nil {
		lits = []Literal{*e.Value}
	}
	for _, l := range lits {
		v, err := l.Value()
		if err != nil {
			return nil, err
		}
		v, err = coerce(v, kind, e.Column)
		if err != nil {
			return nil, err
		}
		b.lits = append(b.lits, v)
	}
	return b, nil
}

// coerce checks that literal v is comparable with a column of kind. Numeric
// kinds compare with each other directly.
func coerce(v value.Value, kind value.Kind, column string) (value.Value, error) {
	numeric := func(k value.Kind) bool { return k == value.KindInt64 || k == value.KindFloat64 }
	if v.Kind == kind || (numeric(v.Kind) && numeric(kind)) {
		return v, nil
	}
	return value.Null(), errors.Newf(errors.ErrorTypeValidation, "literal %s is not comparable with column %q of kind %s", v, column, kind)
}

// Columns returns the leaf column ids b reads.
func (b *Bound) Columns() []int {
	var ids []int
	seen := make(map[int]bool)
	var walk func(*Bound)
	walk = func(x *Bound) {
		if x.col >= 0 && !seen[x.col] {
			seen[x.col] = true
			ids = append(ids, x.col)
		}
		for _, c := range x.children {
			walk(c)
		}
	}
	walk(b)
	return ids
}

// EvalRow evaluates row of cols. cols is indexed by leaf column id; it must
// hold a vector for every id in Columns.
func (b *Bound) EvalRow(cols []vector.ColumnVector, row int) Tri {
	switch b.op {
	case OpAnd:
		res := True
		for _, c := range b.children {
			switch c.EvalRow(cols, row) {
			case False:
				return False
			case Unknown:
				res = Unknown
			}
		}
		return res
	case OpOr:
		res := False
		for _, c := range b.children {
			switch c.EvalRow(cols, row) {
			case True:
				return True
			case Unknown:
				res = Unknown
			}
		}
		return res
	case OpNot:
		return b.children[0].EvalRow(cols, row).not()
	case OpIsNull:
		return fromBool(cols[b.col].IsNullAt(row))
	case OpIsNotNull:
		return fromBool(!cols[b.col].IsNullAt(row))
	}

	v := cols[b.col].Value(row)
	if v.IsNull() {
		return Unknown
	}
	if b.op == OpIn {
		for _, lit := range b.lits {
			if c, ok := value.Compare(v, lit); ok && c == 0 {
				return True
			}
		}
		return False
	}
	c, ok := value.Compare(v, b.lits[0])
	if !ok {
		// NaN: only inequality holds
		return fromBool(b.op == OpNe)
	}
	return fromBool(holds(b.op, c))
}

func holds(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Select appends to sel the rows in [0, n) for which b is true.
func (b *Bound) Select(cols []vector.ColumnVector, n int, sel []int) []int {
	for row := 0; row < n; row++ {
		if b.EvalRow(cols, row) == True {
			sel = append(sel, row)
		}
	}
	return sel
}

// Range is the set of outcomes a predicate can have over a row range.
type Range struct {
	CanTrue  bool
	CanFalse bool
	CanNull  bool
}

var anything = Range{CanTrue: true, CanFalse: true, CanNull: true}

// EvalStats evaluates b over column statistics indexed by leaf column id. A
// range whose CanTrue is false holds no matching row. Ids beyond colStats are
// treated as unknown.
func (b *Bound) EvalStats(colStats []stats.Statistics) Range {
	switch b.op {
	case OpAnd:
		r := Range{CanTrue: true}
		for _, c := range b.children {
			cr := c.EvalStats(colStats)
			r.CanTrue = r.CanTrue && cr.CanTrue
			r.CanFalse = r.CanFalse || cr.CanFalse
			r.CanNull = r.CanNull || cr.CanNull
		}
		return r
	case OpOr:
		r := Range{CanFalse: true}
		for _, c := range b.children {
			cr := c.EvalStats(colStats)
			r.CanTrue = r.CanTrue || cr.CanTrue
			r.CanFalse = r.CanFalse && cr.CanFalse
			r.CanNull = r.CanNull || cr.CanNull
		}
		return r
	case OpNot:
		cr := b.children[0].EvalStats(colStats)
		return Range{CanTrue: cr.CanFalse, CanFalse: cr.CanTrue, CanNull: cr.CanNull}
	}

	if b.col >= len(colStats) {
		return anything
	}
	s := colStats[b.col]
	nonNull := s.NonNullCount() > 0
	switch b.op {
	case OpIsNull:
		return Range{CanTrue: s.NullCount > 0, CanFalse: nonNull}
	case OpIsNotNull:
		return Range{CanTrue: nonNull, CanFalse: s.NullCount > 0}
	}

	r := Range{CanNull: s.NullCount > 0}
	if s.NaNCount > 0 {
		if b.op == OpNe {
			r.CanTrue = true
		} else {
			r.CanFalse = true
		}
	}
	if s.NonNullCount() <= s.NaNCount {
		return r
	}
	if !s.HasMinMax() {
		r.CanTrue, r.CanFalse = true, true
		return r
	}

	if b.op == OpIn {
		for _, lit := range b.lits {
			if s.Contains(lit) {
				r.CanTrue = true
			}
		}
		if !r.CanTrue || !singleton(s) {
			r.CanFalse = true
		} else {
			r.CanFalse = r.CanFalse || !containsValue(b.lits, s.Min)
		}
		return r
	}

	lit := b.lits[0]
	lo, okLo := value.Compare(s.Min, lit)
	hi, okHi := value.Compare(s.Max, lit)
	if !okLo || !okHi {
		r.CanTrue, r.CanFalse = true, true
		return r
	}
	var t, f bool
	switch b.op {
	case OpEq:
		t = lo <= 0 && hi >= 0
		f = !(lo == 0 && hi == 0)
	case OpNe:
		t = !(lo == 0 && hi == 0)
		f = lo <= 0 && hi >= 0
	case OpLt:
		t = lo < 0
		f = hi >= 0
	case OpLe:
		t = lo <= 0
		f = hi > 0
	case OpGt:
		t = hi > 0
		f = lo <= 0
	case OpGe:
		t = hi >= 0
		f = lo < 0
	}
	r.CanTrue = r.CanTrue || t
	r.CanFalse = r.CanFalse || f
	return r
}

func singleton(s stats.Statistics) bool {
	c, ok := value.Compare(s.Min, s.Max)
	return ok && c == 0
}

func containsValue(lits []value.Value, v value.Value) bool {
	for _, lit := range lits {
		if c, ok := value.Compare(v, lit); ok && c == 0 {
			return true
		}
	}
	return false
}

// MightMatch reports whether a row range described by colStats can hold a
// row b selects. A nil predicate matches everything.
func (b *Bound) MightMatch(colStats []stats.Statistics) bool {
	if b == nil {
		return true
	}
	return b.EvalStats(colStats).CanTrue
}
