// Package predicate provides filter expressions over named leaf columns.
//
// An Expr is the serialisable form:
//
//	{"op":"and","children":[
//	    {"op":"gt","column":"id","value":{"int":50000}},
//	    {"op":"is_not_null","column":"name"}]}
//
// Bind resolves it against a schema. The bound form evaluates rows under
// three-valued logic and evaluates column statistics to decide whether a pixel
// or row group could hold a matching row at all. Both go through pkg/value, so
// statistics never rule out a row that row evaluation would select.
package predicate

import (
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/value"
)

// Op is an expression operator.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLt        Op = "lt"
	OpLe        Op = "le"
	OpGt        Op = "gt"
	OpGe        Op = "ge"
	OpIn        Op = "in"
	OpIsNull    Op = "is_null"
	OpIsNotNull Op = "is_not_null"
	OpAnd       Op = "and"
	OpOr        Op = "or"
	OpNot       Op = "not"
)

func (op Op) isComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

func (op Op) isLogical() bool {
	return op == OpAnd || op == OpOr || op == OpNot
}

// Literal is a typed constant. Exactly one field is set.
type Literal struct {
	Int    *int64   `json:"int,omitempty"`
	Float  *float64 `json:"float,omitempty"`
	String *string  `json:"string,omitempty"`
	Bool   *bool    `json:"bool,omitempty"`
}

// NewLiteral converts a non-null value.
func NewLiteral(v value.Value) Literal {
	switch v.Kind {
	case value.KindInt64:
		i := v.Int
		return Literal{Int: &i}
	case value.KindFloat64:
		f := v.Float
		return Literal{Float: &f}
	case value.KindBytes:
		s := string(v.Bytes)
		return Literal{String: &s}
	}
	return Literal{}
}

// Value returns the literal as a value. Booleans become 0 or 1.
func (l Literal) Value() (value.Value, error) {
	set := 0
	var v value.Value
	if l.Int != nil {
		set++
		v = value.Int64(*l.Int)
	}
	if l.Float != nil {
		set++
		v = value.Float64(*l.Float)
	}
	if l.String != nil {
		set++
		v = value.String(*l.String)
	}
	if l.Bool != nil {
		set++
		v = value.Int64(0)
		if *l.Bool {
			v = value.Int64(1)
		}
	}
	if set != 1 {
		return value.Null(), errors.Newf(errors.ErrorTypeValidation, "literal must set exactly one of int, float, string, bool; %d set", set)
	}
	return v, nil
}

// Expr is a predicate expression tree.
type Expr struct {
	Op       Op        `json:"op"`
	Column   string    `json:"column,omitempty"`
	Value    *Literal  `json:"value,omitempty"`
	Values   []Literal `json:"values,omitempty"`
	Children []*Expr   `json:"children,omitempty"`
}

func compare(op Op, column string, v value.Value) *Expr {
	lit := NewLiteral(v)
	return &Expr{Op: op, Column: column, Value: &lit}
}

// Eq matches column = v.
func Eq(column string, v value.Value) *Expr { return compare(OpEq, column, v) }

// Ne matches column <> v.
func Ne(column string, v value.Value) *Expr { return compare(OpNe, column, v) }

// Lt matches column < v.
func Lt(column string, v value.Value) *Expr { return compare(OpLt, column, v) }

// Le matches column <= v.
func Le(column string, v value.Value) *Expr { return compare(OpLe, column, v) }

// Gt matches column > v.
func Gt(column string, v value.Value) *Expr { return compare(OpGt, column, v) }

// Ge matches column >= v.
func Ge(column string, v value.Value) *Expr { return compare(OpGe, column, v) }

// In matches column equal to any of vs.
func In(column string, vs ...value.Value) *Expr {
	e := &Expr{Op: OpIn, Column: column, Values: make([]Literal, len(vs))}
	for i, v := range vs {
		e.Values[i] = NewLiteral(v)
	}
	return e
}

// IsNull matches null rows.
func IsNull(column string) *Expr { return &Expr{Op: OpIsNull, Column: column} }

// IsNotNull matches non-null rows.
func IsNotNull(column string) *Expr { return &Expr{Op: OpIsNotNull, Column: column} }

// And matches rows every child matches.
func And(children ...*Expr) *Expr { return &Expr{Op: OpAnd, Children: children} }

// Or matches rows any child matches.
func Or(children ...*Expr) *Expr { return &Expr{Op: OpOr, Children: children} }

// Not negates child.
func Not(child *Expr) *Expr { return &Expr{Op: OpNot, Children: []*Expr{child}} }

// Validate checks the shape of the tree.
func (e *Expr) Validate() error {
	if e == nil {
		return errors.New(errors.ErrorTypeValidation, "nil expression")
	}
	switch {
	case e.Op.isComparison():
		if e.Column == "" || e.Value == nil {
			return errors.Newf(errors.ErrorTypeValidation, "%s needs a column and a value", e.Op)
		}
		if _, err := e.Value.Value(); err != nil {
			return err
		}
	case e.Op == OpIn:
		if e.Column == "" || len(e.Values) == 0 {
			return errors.New(errors.ErrorTypeValidation, "in needs a column and at least one value")
		}
		for _, l := range e.Values {
			if _, err := l.Value(); err != nil {
				return err
			}
		}
	case e.Op == OpIsNull || e.Op == OpIsNotNull:
		if e.Column == "" {
			return errors.Newf(errors.ErrorTypeValidation, "%s needs a column", e.Op)
		}
	case e.Op == OpNot:
		if len(e.Children) != 1 {
			return errors.Newf(errors.ErrorTypeValidation, "not takes one child, got %d", len(e.Children))
		}
	case e.Op == OpAnd || e.Op == OpOr:
		if len(e.Children) == 0 {
			return errors.Newf(errors.ErrorTypeValidation, "%s needs children", e.Op)
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown operator %q", e.Op)
	}
	for _, c := range e.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Columns returns the distinct column names e references, in first-use order.
func (e *Expr) Columns() []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(*Expr)
	walk = func(x *Expr) {
		if x.Column != "" && !seen[x.Column] {
			seen[x.Column] = true
			names = append(names, x.Column)
		}
		for _, c := range x.Children {
			walk(c)
		}
	}
	walk(e)
	return names
}

// String renders e in a compact infix form for logs.
func (e *Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e *Expr) write(b *strings.Builder) {
	lit := func(l Literal) string {
		v, err := l.Value()
		if err != nil {
			return "?"
		}
		return v.String()
	}
	switch {
	case e.Op.isLogical():
		if e.Op == OpNot {
			b.WriteString("not ")
		}
		b.WriteByte('(')
		for i, c := range e.Children {
			if i > 0 {
				fmt.Fprintf(b, " %s ", e.Op)
			}
			c.write(b)
		}
		b.WriteByte(')')
	case e.Op == OpIn:
		vals := make([]string, len(e.Values))
		for i, l := range e.Values {
			vals[i] = lit(l)
		}
		fmt.Fprintf(b, "%s in [%s]", e.Column, strings.Join(vals, ", "))
	case e.Op == OpIsNull || e.Op == OpIsNotNull:
		fmt.Fprintf(b, "%s %s", e.Column, strings.ReplaceAll(string(e.Op), "_", " "))
	default:
		v := "?"
		if e.Value != nil {
			v = lit(*e.Value)
		}
		fmt.Fprintf(b, "%s %s %s", e.Column, e.Op, v)
	}
}

// Parse decodes and validates the JSON form.
func Parse(data []byte) (*Expr, error) {
	e := &Expr{}
	if err := gojson.Unmarshal(data, e); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode predicate")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Marshal encodes e as JSON.
func Marshal(e *Expr) ([]byte, error) {
	b, err := gojson.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode predicate")
	}
	return b, nil
}
