package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

const epochDays2020 = 18262

// rowGenerator produces synthetic values. Bigint columns carry the row number
// so that range predicates prune predictably.
type rowGenerator struct {
	rng       *rand.Rand
	nullEvery int
	distinct  int
}

func (g *rowGenerator) fill(b *vector.RowBatch, leaves []schema.Column, first, n int) {
	b.Ensure(n)
	for c, leaf := range leaves {
		for i := 0; i < n; i++ {
			if g.nullEvery > 0 && g.rng.Intn(g.nullEvery) == 0 {
				b.Cols[c].SetNull(i)
				continue
			}
			g.value(b.Cols[c], i, leaf.Type, int64(first+i))
		}
	}
	b.Size = n
}

func (g *rowGenerator) value(v vector.ColumnVector, i int, t *schema.TypeDescription, row int64) {
	switch cv := v.(type) {
	case *vector.LongColumnVector:
		cv.Set(i, g.long(t.Category, row))
	case *vector.DoubleColumnVector:
		x := g.rng.NormFloat64() * 1000
		if t.Category == schema.Float {
			x = float64(float32(x))
		}
		cv.Set(i, x)
	case *vector.BytesColumnVector:
		cv.SetRef(i, g.bytes(t, row))
	case *vector.ListColumnVector:
		length := g.rng.Intn(5)
		start := cv.StartRow(i, length)
		for j := 0; j < length; j++ {
			g.value(cv.Child, start+j, t.Children[0], row)
		}
	}
}

func (g *rowGenerator) long(c schema.Category, row int64) int64 {
	switch c {
	case schema.Boolean:
		return int64(g.rng.Intn(2))
	case schema.Byte:
		return int64(int8(g.rng.Intn(256)))
	case schema.Short:
		return int64(int16(g.rng.Intn(1 << 16)))
	case schema.Int:
		return int64(g.rng.Int31n(math.MaxInt32))
	case schema.Date:
		return epochDays2020 + row/1000
	case schema.Timestamp:
		return (epochDays2020*86400 + row) * 1_000_000
	default:
		return row
	}
}

func (g *rowGenerator) bytes(t *schema.TypeDescription, row int64) []byte {
	key := row
	if g.distinct > 0 {
		key = int64(g.rng.Intn(g.distinct))
	}
	b := []byte(fmt.Sprintf("value-%08d", key))
	if t.Category == schema.Binary {
		g.rng.Read(b[6:])
	}
	if t.MaxLength > 0 && len(b) > t.MaxLength {
		b = b[:t.MaxLength]
	}
	return b
}
