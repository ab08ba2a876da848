// Package schema describes column types and the canonical leaf-column order of a
// pixels file.
//
// A file schema is a struct. Leaves are found by a depth-first walk: nested struct
// fields are flattened into dotted names and a list is a single leaf. The leaf
// order is the column id order used by every index in the file.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/pixels/pkg/value"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Category is the kind of a type descriptor.
type Category uint8

const (
	Boolean Category = iota + 1
	Byte
	Short
	Int
	Long
	Float
	Double
	String
	Varchar
	Char
	Binary
	Date
	Timestamp
	Struct
	List
)

var categoryNames = map[Category]string{
	Boolean:   "boolean",
	Byte:      "tinyint",
	Short:     "smallint",
	Int:       "int",
	Long:      "bigint",
	Float:     "float",
	Double:    "double",
	String:    "string",
	Varchar:   "varchar",
	Char:      "char",
	Binary:    "binary",
	Date:      "date",
	Timestamp: "timestamp",
	Struct:    "struct",
	List:      "array",
}

var categoryAliases = map[string]Category{
	"boolean":   Boolean,
	"bool":      Boolean,
	"tinyint":   Byte,
	"byte":      Byte,
	"smallint":  Short,
	"short":     Short,
	"int":       Int,
	"integer":   Int,
	"bigint":    Long,
	"long":      Long,
	"float":     Float,
	"real":      Float,
	"double":    Double,
	"string":    String,
	"varchar":   Varchar,
	"char":      Char,
	"binary":    Binary,
	"varbinary": Binary,
	"date":      Date,
	"timestamp": Timestamp,
	"struct":    Struct,
	"array":     List,
	"list":      List,
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// IsPrimitive reports whether c has no children.
func (c Category) IsPrimitive() bool {
	return c != Struct && c != List
}

// ValueKind is the scalar kind values of this category take in statistics and
// predicates. Lists have no scalar kind.
func (c Category) ValueKind() value.Kind {
	switch c {
	case Boolean, Byte, Short, Int, Long, Date, Timestamp:
		return value.KindInt64
	case Float, Double:
		return value.KindFloat64
	case String, Varchar, Char, Binary:
		return value.KindBytes
	default:
		return value.KindNull
	}
}

// TypeDescription is a recursive type descriptor.
type TypeDescription struct {
	Category   Category
	MaxLength  int // varchar and char
	FieldNames []string
	Children   []*TypeDescription
}

// NewPrimitive returns a descriptor for a primitive category.
func NewPrimitive(c Category) *TypeDescription {
	return &TypeDescription{Category: c}
}

// NewVarchar returns varchar(n).
func NewVarchar(n int) *TypeDescription {
	return &TypeDescription{Category: Varchar, MaxLength: n}
}

// NewChar returns char(n).
func NewChar(n int) *TypeDescription {
	return &TypeDescription{Category: Char, MaxLength: n}
}

// NewList returns list<elem>.
func NewList(elem *TypeDescription) *TypeDescription {
	return &TypeDescription{Category: List, Children: []*TypeDescription{elem}}
}

// NewStruct returns an empty struct; add fields with AddField.
func NewStruct() *TypeDescription {
	return &TypeDescription{Category: Struct}
}

// AddField appends a field to a struct and returns the struct.
func (t *TypeDescription) AddField(name string, child *TypeDescription) *TypeDescription {
	t.FieldNames = append(t.FieldNames, name)
	t.Children = append(t.Children, child)
	return t
}

// String renders the descriptor in the form Parse accepts.
func (t *TypeDescription) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *TypeDescription) write(b *strings.Builder) {
	switch t.Category {
	case Struct:
		b.WriteString("struct<")
		for i, child := range t.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(t.FieldNames[i])
			b.WriteByte(':')
			child.write(b)
		}
		b.WriteByte('>')
	case List:
		b.WriteString("array<")
		t.Children[0].write(b)
		b.WriteByte('>')
	case Varchar, Char:
		fmt.Fprintf(b, "%s(%d)", t.Category, t.MaxLength)
	default:
		b.WriteString(t.Category.String())
	}
}

// Equal reports whether two descriptors are structurally identical.
func (t *TypeDescription) Equal(o *TypeDescription) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Category != o.Category || t.MaxLength != o.MaxLength || len(t.Children) != len(o.Children) {
		return false
	}
	for i := range t.Children {
		if t.Category == Struct && t.FieldNames[i] != o.FieldNames[i] {
			return false
		}
		if !t.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// Column is a leaf column of a struct schema.
type Column struct {
	ID   int
	Name string
	Type *TypeDescription
}

// Leaves returns the leaf columns in canonical order. A non-struct descriptor is
// a single unnamed leaf.
func (t *TypeDescription) Leaves() []Column {
	var cols []Column
	if t.Category != Struct {
		return []Column{{ID: 0, Type: t}}
	}
	var walk func(prefix string, s *TypeDescription)
	walk = func(prefix string, s *TypeDescription) {
		for i, child := range s.Children {
			name := s.FieldNames[i]
			if prefix != "" {
				name = prefix + "." + name
			}
			if child.Category == Struct {
				walk(name, child)
				continue
			}
			cols = append(cols, Column{ID: len(cols), Name: name, Type: child})
		}
	}
	walk("", t)
	return cols
}

// LeafIndex returns the column id of the named leaf, or -1.
func (t *TypeDescription) LeafIndex(name string) int {
	for _, c := range t.Leaves() {
		if c.Name == name {
			return c.ID
		}
	}
	return -1
}

// FromLeaves builds a flat struct from leaf columns, keeping their dotted names.
func FromLeaves(cols []Column) *TypeDescription {
	s := NewStruct()
	for _, c := range cols {
		s.AddField(c.Name, c.Type)
	}
	return s
}

// NewColumnVector creates an empty vector able to hold values of t.
func (t *TypeDescription) NewColumnVector(size int) (vector.ColumnVector, error) {
	switch t.Category {
	case Boolean, Byte, Short, Int, Long, Date, Timestamp:
		return vector.NewLongColumnVector(size), nil
	case Float, Double:
		return vector.NewDoubleColumnVector(size), nil
	case String, Varchar, Char, Binary:
		return vector.NewBytesColumnVector(size), nil
	case List:
		child, err := t.Children[0].NewColumnVector(0)
		if err != nil {
			return nil, err
		}
		return vector.NewListColumnVector(size, child), nil
	default:
		return nil, fmt.Errorf("no column vector for %s", t.Category)
	}
}

// CreateRowBatch creates a batch with one vector per leaf column.
func (t *TypeDescription) CreateRowBatch(maxSize int) (*vector.RowBatch, error) {
	if maxSize <= 0 {
		maxSize = vector.DefaultSize
	}
	leaves := t.Leaves()
	cols := make([]vector.ColumnVector, len(leaves))
	for i, leaf := range leaves {
		v, err := leaf.Type.NewColumnVector(maxSize)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", leaf.Name, err)
		}
		cols[i] = v
	}
	return vector.NewRowBatch(maxSize, cols...), nil
}
