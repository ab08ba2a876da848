package predicate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/value"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

var testSchema = schema.MustParse("struct<id:bigint,score:double,name:string,tags:array<int>>")

func testColumns() []vector.ColumnVector {
	ids := vector.NewLongColumnVector(5)
	scores := vector.NewDoubleColumnVector(5)
	names := vector.NewBytesColumnVector(5)
	tags := vector.NewListColumnVector(5, vector.NewLongColumnVector(0))
	for i := 0; i < 5; i++ {
		ids.Set(i, int64(i*10))
		names.SetString(i, string(rune('a'+i)))
		tags.StartRow(i, 0)
	}
	scores.Set(0, 1.5)
	scores.Set(1, math.NaN())
	scores.SetNull(2)
	scores.Set(3, -2)
	scores.Set(4, 7)
	ids.SetNull(4)
	tags.SetNull(1)
	return []vector.ColumnVector{ids, scores, names, tags}
}

func TestParseAndMarshal(t *testing.T) {
	in := []byte(`{"op":"and","children":[{"op":"gt","column":"id","value":{"int":5}},{"op":"in","column":"name","values":[{"string":"a"},{"string":"c"}]}]}`)
	e, err := Parse(in)
	require.NoError(t, err)
	assert.Equal(t, OpAnd, e.Op)
	assert.Equal(t, []string{"id", "name"}, e.Columns())
	assert.Equal(t, `(id gt 5 and name in ["a", "c"])`, e.String())

	out, err := Marshal(e)
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, e, again)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"bad json":       `{"op":`,
		"unknown op":     `{"op":"like","column":"a","value":{"int":1}}`,
		"missing value":  `{"op":"eq","column":"a"}`,
		"two literals":   `{"op":"eq","column":"a","value":{"int":1,"float":2}}`,
		"empty in":       `{"op":"in","column":"a"}`,
		"not arity":      `{"op":"not","children":[]}`,
		"empty and":      `{"op":"and"}`,
		"missing column": `{"op":"is_null"}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestBindErrors(t *testing.T) {
	_, err := Bind(Eq("missing", value.Int64(1)), testSchema)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))

	_, err = Bind(Eq("name", value.Int64(1)), testSchema)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = Bind(Eq("tags", value.Int64(1)), testSchema)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = Bind(IsNull("tags"), testSchema)
	assert.NoError(t, err)

	b, err := Bind(Gt("score", value.Int64(1)), testSchema)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, b.Columns())
}

func TestEvalRow(t *testing.T) {
	cols := testColumns()
	tests := []struct {
		name string
		expr *Expr
		want []Tri
	}{
		{"gt", Gt("id", value.Int64(15)), []Tri{False, False, True, True, Unknown}},
		{"le float literal", Le("id", value.Float64(10.5)), []Tri{True, True, False, False, Unknown}},
		{"eq nan row", Eq("score", value.Float64(1.5)), []Tri{True, False, Unknown, False, False}},
		{"ne nan row", Ne("score", value.Float64(1.5)), []Tri{False, True, Unknown, True, True}},
		{"in", In("name", value.String("b"), value.String("e")), []Tri{False, True, False, False, True}},
		{"is null", IsNull("score"), []Tri{False, False, True, False, False}},
		{"is not null list", IsNotNull("tags"), []Tri{True, False, True, True, True}},
		{"and unknown", And(Gt("id", value.Int64(-1)), Gt("score", value.Int64(0))), []Tri{True, False, Unknown, False, Unknown}},
		{"or unknown", Or(Gt("id", value.Int64(25)), Lt("score", value.Int64(0))), []Tri{False, False, Unknown, True, Unknown}},
		{"not unknown", Not(Gt("id", value.Int64(15))), []Tri{True, True, False, False, Unknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Bind(tt.expr, testSchema)
			require.NoError(t, err)
			for row, want := range tt.want {
				assert.Equal(t, want, b.EvalRow(cols, row), "row %d", row)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	b, err := Bind(Or(IsNull("id"), Ge("id", value.Int64(20))), testSchema)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, b.Select(testColumns(), 5, nil))
}

func TestEvalStats(t *testing.T) {
	st := func(lo, hi int64, nulls, rows uint64) stats.Statistics {
		return stats.Statistics{Min: value.Int64(lo), Max: value.Int64(hi), NullCount: nulls, RowCount: rows}
	}
	cols := func(s stats.Statistics) []stats.Statistics { return []stats.Statistics{s} }

	tests := []struct {
		name string
		expr *Expr
		st   stats.Statistics
		want Range
	}{
		{"gt below", Gt("id", value.Int64(100)), st(0, 100, 0, 10), Range{CanFalse: true}},
		{"gt straddles", Gt("id", value.Int64(50)), st(0, 100, 0, 10), Range{CanTrue: true, CanFalse: true}},
		{"gt above", Gt("id", value.Int64(-1)), st(0, 100, 1, 10), Range{CanTrue: true, CanNull: true}},
		{"eq singleton", Eq("id", value.Int64(7)), st(7, 7, 0, 10), Range{CanTrue: true}},
		{"eq outside", Eq("id", value.Int64(8)), st(0, 7, 0, 10), Range{CanFalse: true}},
		{"ne singleton", Ne("id", value.Int64(7)), st(7, 7, 0, 10), Range{CanFalse: true}},
		{"lt", Lt("id", value.Int64(0)), st(0, 9, 0, 10), Range{CanFalse: true}},
		{"le", Le("id", value.Int64(0)), st(0, 9, 0, 10), Range{CanTrue: true, CanFalse: true}},
		{"ge", Ge("id", value.Int64(10)), st(0, 9, 0, 10), Range{CanFalse: true}},
		{"in miss", In("id", value.Int64(20), value.Int64(30)), st(0, 9, 0, 10), Range{CanFalse: true}},
		{"in singleton", In("id", value.Int64(3), value.Int64(30)), st(3, 3, 0, 10), Range{CanTrue: true}},
		{"all null", Gt("id", value.Int64(0)), stats.AllNull(10), Range{CanNull: true}},
		{"is null none", IsNull("id"), st(0, 9, 0, 10), Range{CanFalse: true}},
		{"is not null all null", IsNotNull("id"), stats.AllNull(4), Range{CanFalse: true}},
		{"and disjoint", And(Gt("id", value.Int64(20)), Lt("id", value.Int64(5))), st(0, 9, 0, 10), Range{CanFalse: true}},
		{"not", Not(Gt("id", value.Int64(-1))), st(0, 9, 0, 10), Range{CanFalse: true}},
	}
	schemaOne := schema.MustParse("struct<id:bigint>")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Bind(tt.expr, schemaOne)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.EvalStats(cols(tt.st)))
		})
	}
}

func TestEvalStatsNaN(t *testing.T) {
	s := schema.MustParse("struct<x:double>")
	onlyNaN := stats.Statistics{NaNCount: 3, RowCount: 3}
	nanAndNull := stats.Statistics{NaNCount: 2, NullCount: 2, RowCount: 4}
	mixed := stats.Statistics{Min: value.Float64(1), Max: value.Float64(1), NaNCount: 1, RowCount: 3}
	one, five := value.Float64(1), value.Float64(5)

	tests := []struct {
		name string
		expr *Expr
		st   stats.Statistics
		want Range
	}{
		{"only nan eq", Eq("x", one), onlyNaN, Range{CanFalse: true}},
		{"only nan gt", Gt("x", one), onlyNaN, Range{CanFalse: true}},
		{"only nan ge", Ge("x", one), onlyNaN, Range{CanFalse: true}},
		{"only nan lt", Lt("x", one), onlyNaN, Range{CanFalse: true}},
		{"only nan le", Le("x", one), onlyNaN, Range{CanFalse: true}},
		{"only nan in", In("x", one, five), onlyNaN, Range{CanFalse: true}},
		{"only nan ne", Ne("x", one), onlyNaN, Range{CanTrue: true}},
		{"only nan not gt", Not(Gt("x", one)), onlyNaN, Range{CanTrue: true}},
		{"only nan is null", IsNull("x"), onlyNaN, Range{CanFalse: true}},
		{"only nan is not null", IsNotNull("x"), onlyNaN, Range{CanTrue: true}},
		{"nan and null gt", Gt("x", one), nanAndNull, Range{CanFalse: true, CanNull: true}},
		{"nan and null ne", Ne("x", one), nanAndNull, Range{CanTrue: true, CanNull: true}},
		{"nan and null is null", IsNull("x"), nanAndNull, Range{CanTrue: true, CanFalse: true}},
		{"mixed eq", Eq("x", one), mixed, Range{CanTrue: true, CanFalse: true}},
		{"mixed gt above", Gt("x", five), mixed, Range{CanFalse: true}},
		{"mixed gt below", Gt("x", value.Float64(0)), mixed, Range{CanTrue: true, CanFalse: true}},
		{"mixed ne outside", Ne("x", five), mixed, Range{CanTrue: true}},
		{"mixed in singleton", In("x", one), mixed, Range{CanTrue: true, CanFalse: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Bind(tt.expr, s)
			require.NoError(t, err)
			r := b.EvalStats([]stats.Statistics{tt.st})
			assert.Equal(t, tt.want, r)
			assert.Equal(t, r.CanTrue, b.MightMatch([]stats.Statistics{tt.st}))
		})
	}
}

func TestStatsAgreeWithRows(t *testing.T) {
	cols := testColumns()
	c := stats.NewCollector()
	ids := cols[0].(*vector.LongColumnVector)
	for i := 0; i < 5; i++ {
		if ids.IsNull[i] {
			c.AddNull()
			continue
		}
		c.AddInt64(ids.Vector[i])
	}
	colStats := []stats.Statistics{c.Statistics()}

	exprs := []*Expr{
		Gt("id", value.Int64(40)), Gt("id", value.Int64(30)), Lt("id", value.Int64(0)),
		Eq("id", value.Int64(20)), Ne("id", value.Int64(20)), In("id", value.Int64(5)),
		IsNull("id"), Not(IsNull("id")), Or(Lt("id", value.Int64(1)), Gt("id", value.Int64(29))),
	}
	for _, e := range exprs {
		b, err := Bind(e, testSchema)
		require.NoError(t, err)
		r := b.EvalStats(colStats)
		for row := 0; row < 5; row++ {
			switch b.EvalRow(cols, row) {
			case True:
				assert.True(t, r.CanTrue, "%s row %d", e, row)
			case False:
				assert.True(t, r.CanFalse, "%s row %d", e, row)
			}
		}
	}

	var nilBound *Bound
	assert.True(t, nilBound.MightMatch(nil))
}
