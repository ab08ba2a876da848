// Package testutil generates deterministic column data for tests and compares
// decoded rows.
package testutil

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// NullEvery makes FillBatch null one row in n; zero disables nulls.
type NullEvery int

// FillBatch appends rows generated from seed to b, one value per leaf of s.
// Floats stay representable as float32 so float columns round-trip exactly.
func FillBatch(t testing.TB, b *vector.RowBatch, s *schema.TypeDescription, rows int, seed int64, nulls NullEvery) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	leaves := s.Leaves()
	require.Len(t, b.Cols, len(leaves))

	b.Ensure(b.Size + rows)
	for i := 0; i < rows; i++ {
		r := b.Size + i
		for c, leaf := range leaves {
			if nulls > 0 && rng.Intn(int(nulls)) == 0 {
				b.Cols[c].SetNull(r)
				continue
			}
			fillValue(t, b.Cols[c], r, leaf.Type, rng)
		}
	}
	b.Size += rows
}

func fillValue(t testing.TB, v vector.ColumnVector, r int, typ *schema.TypeDescription, rng *rand.Rand) {
	switch cv := v.(type) {
	case *vector.LongColumnVector:
		switch typ.Category {
		case schema.Boolean:
			cv.Set(r, int64(rng.Intn(2)))
		case schema.Byte:
			cv.Set(r, int64(int8(rng.Int())))
		case schema.Short:
			cv.Set(r, int64(int16(rng.Int())))
		case schema.Int:
			cv.Set(r, int64(rng.Int31())-1<<30)
		default:
			cv.Set(r, rng.Int63()-1<<62)
		}
	case *vector.DoubleColumnVector:
		cv.Set(r, float64(float32(rng.NormFloat64()*1000)))
	case *vector.BytesColumnVector:
		n := rng.Intn(12)
		if typ.MaxLength > 0 {
			n = rng.Intn(typ.MaxLength + 1)
		}
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte('a' + rng.Intn(26))
		}
		cv.SetRef(r, buf)
	case *vector.ListColumnVector:
		n := rng.Intn(4)
		start := cv.StartRow(r, n)
		for j := 0; j < n; j++ {
			fillValue(t, cv.Child, start+j, typ.Children[0], rng)
		}
	default:
		t.Fatalf("unsupported vector %T", v)
	}
}

// RequireRowsEqual asserts that n rows of got starting at gotOff match want
// starting at wantOff, including null positions and list contents.
func RequireRowsEqual(t testing.TB, want vector.ColumnVector, wantOff int, got vector.ColumnVector, gotOff, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w, g := wantOff+i, gotOff+i
		require.Equal(t, want.IsNullAt(w), got.IsNullAt(g), "null flag at row %d", i)
		if want.IsNullAt(w) {
			continue
		}
		wl, ok := want.(*vector.ListColumnVector)
		if !ok {
			require.Equal(t, want.Value(w), got.Value(g), "row %d", i)
			continue
		}
		gl := got.(*vector.ListColumnVector)
		require.Equal(t, wl.Lengths[w], gl.Lengths[g], "list length at row %d", i)
		RequireRowsEqual(t, wl.Child, int(wl.Offsets[w]), gl.Child, int(gl.Offsets[g]), int(wl.Lengths[w]))
	}
}

// RepeatString returns a fixed-width string for row i, e.g. "row0000042".
func RepeatString(i int) string {
	return fmt.Sprintf("row%07d", i)
}
