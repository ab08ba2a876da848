package encoding

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/testutil"
	"github.com/ajitpratap0/pixels/pkg/value"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

const allTypes = "struct<b:boolean,t:tinyint,s:smallint,i:int,l:bigint,f:float,d:double," +
	"str:string,v:varchar(8),c:char(4),bin:binary,dt:date,ts:timestamp,arr:array<int>,words:array<string>>"

func TestRoundTripAllTypes(t *testing.T) {
	s := schema.MustParse(allTypes)
	zstd, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Zstd})
	require.NoError(t, err)

	tests := []struct {
		name  string
		opts  *Options
		nulls testutil.NullEvery
	}{
		{"encoded", DefaultOptions(), 7},
		{"encoded no nulls", DefaultOptions(), 0},
		{"plain", &Options{}, 5},
		{"compressed", &Options{Encoding: true, Compressor: zstd}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := s.CreateRowBatch(2500)
			require.NoError(t, err)
			testutil.FillBatch(t, batch, s, 2500, 42, tt.nulls)

			for c, leaf := range s.Leaves() {
				chunk, err := EncodeChunk(leaf.Type, batch.Cols[c], batch.Size, 1000, tt.opts)
				require.NoError(t, err, leaf.Name)
				require.Len(t, chunk.Pixels, 3)
				assert.Equal(t, uint32(500), chunk.Pixels[2].Rows)

				got, err := DecodeChunk(leaf.Type, chunk.Data, chunk.Pixels, AllPixels(len(chunk.Pixels)), tt.opts)
				require.NoError(t, err, leaf.Name)
				testutil.RequireRowsEqual(t, batch.Cols[c], 0, got, 0, batch.Size)
			}
		})
	}
}

func longVector(vals ...int64) *vector.LongColumnVector {
	v := vector.NewLongColumnVector(len(vals))
	for i, x := range vals {
		v.Set(i, x)
	}
	return v
}

func TestLongEncodingSelection(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	constant := make([]int64, 1000)
	sorted := make([]int64, 1000)
	random := make([]int64, 1000)
	for i := range constant {
		constant[i] = 7
		sorted[i] = int64(i * 3)
		random[i] = rng.Int63n(1 << 20)
	}

	tests := []struct {
		name string
		vals []int64
		opts *Options
		want Kind
	}{
		{"runs", constant, DefaultOptions(), KindRLE},
		{"monotonic", sorted, DefaultOptions(), KindDelta},
		{"random", random, DefaultOptions(), KindBitPacked},
		{"disabled", random, &Options{}, KindPlain},
		{"extremes", []int64{math.MaxInt64, math.MinInt64, 0, math.MaxInt64, -1}, DefaultOptions(), KindBitPacked},
		{"wrapping delta", []int64{math.MinInt64, 0, math.MaxInt64}, DefaultOptions(), KindDelta},
	}
	long := schema.NewPrimitive(schema.Long)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := longVector(tt.vals...)
			blob, err := EncodePixel(long, v, 0, len(tt.vals), stats.NewCollector(), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Kind(blob[0]))

			out := vector.NewLongColumnVector(0)
			n, err := DecodePixel(long, blob, out, 0, len(tt.vals), tt.opts)
			require.NoError(t, err)
			require.Equal(t, len(tt.vals), n)
			assert.Equal(t, tt.vals, out.Vector[:n])
		})
	}

	rle, err := EncodePixel(long, longVector(constant...), 0, 1000, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, len(rle), 16)
}

func TestDictionarySelection(t *testing.T) {
	str := schema.NewPrimitive(schema.String)
	repeated := vector.NewBytesColumnVector(100)
	unique := vector.NewBytesColumnVector(100)
	for i := 0; i < 100; i++ {
		repeated.SetString(i, []string{"red", "green", "blue"}[i%3])
		unique.SetString(i, testutil.RepeatString(i))
	}

	blob, err := EncodePixel(str, repeated, 0, 100, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, KindDictionary, Kind(blob[0]))

	blob, err = EncodePixel(str, unique, 0, 100, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, KindPlain, Kind(blob[0]))

	// a threshold of 1 accepts any column
	blob, err = EncodePixel(str, unique, 0, 100, stats.NewCollector(), &Options{Encoding: true, DictionaryThreshold: 1})
	require.NoError(t, err)
	assert.Equal(t, KindDictionary, Kind(blob[0]))

	out := vector.NewBytesColumnVector(0)
	_, err = DecodePixel(str, blob, out, 0, 100, DefaultOptions())
	require.NoError(t, err)
	testutil.RequireRowsEqual(t, unique, 0, out, 0, 100)
}

func TestPartialDecodeSkipsPixels(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	vals := make([]int64, 550)
	for i := range vals {
		vals[i] = int64(i)
	}
	chunk, err := EncodeChunk(long, longVector(vals...), len(vals), 100, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunk.Pixels, 6)

	// corrupt a pixel that is not selected: decoding must never look at it
	chunk.Data[chunk.Pixels[2].Offset+2] ^= 0xff

	got, err := DecodeChunk(long, chunk.Data, chunk.Pixels, []PixelRange{{1, 2}, {3, 4}, {5, 6}}, DefaultOptions())
	require.NoError(t, err)
	lv := got.(*vector.LongColumnVector)
	require.Equal(t, 250, lv.Len())
	assert.Equal(t, int64(100), lv.Vector[0])
	assert.Equal(t, int64(199), lv.Vector[99])
	assert.Equal(t, int64(300), lv.Vector[100])
	assert.Equal(t, int64(500), lv.Vector[200])
	assert.Equal(t, int64(549), lv.Vector[249])

	_, err = DecodeChunk(long, chunk.Data, chunk.Pixels, []PixelRange{{2, 3}}, DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption))

	_, err = DecodeChunk(long, chunk.Data, chunk.Pixels, []PixelRange{{5, 7}}, DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestPixelStatistics(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	v := longVector(5, 1, 9, 0, 100, 50)
	v.SetNull(3)
	chunk, err := EncodeChunk(long, v, 6, 3, DefaultOptions())
	require.NoError(t, err)

	p0, p1 := chunk.Pixels[0].Stats, chunk.Pixels[1].Stats
	assert.Equal(t, value.Int64(1), p0.Min)
	assert.Equal(t, value.Int64(9), p0.Max)
	assert.Equal(t, uint64(0), p0.NullCount)
	assert.Equal(t, value.Int64(50), p1.Min)
	assert.Equal(t, value.Int64(100), p1.Max)
	assert.Equal(t, uint64(1), p1.NullCount)
	assert.Equal(t, uint64(3), p1.RowCount)

	assert.Equal(t, value.Int64(1), chunk.Stats.Min)
	assert.Equal(t, value.Int64(100), chunk.Stats.Max)
	assert.Equal(t, uint64(1), chunk.Stats.NullCount)
	assert.Equal(t, uint64(6), chunk.Stats.RowCount)
}

func TestStatisticsSoundness(t *testing.T) {
	s := schema.MustParse("struct<i:int,d:double,s:string>")
	batch, err := s.CreateRowBatch(3000)
	require.NoError(t, err)
	testutil.FillBatch(t, batch, s, 3000, 9, 11)

	for c, leaf := range s.Leaves() {
		chunk, err := EncodeChunk(leaf.Type, batch.Cols[c], batch.Size, 250, DefaultOptions())
		require.NoError(t, err)
		for p, px := range chunk.Pixels {
			var nulls uint64
			for r := p * 250; r < p*250+int(px.Rows); r++ {
				val := batch.Cols[c].Value(r)
				if val.IsNull() {
					nulls++
					continue
				}
				require.True(t, px.Stats.Contains(val), "%s pixel %d row %d", leaf.Name, p, r)
				require.True(t, chunk.Stats.Contains(val))
			}
			assert.Equal(t, nulls, px.Stats.NullCount)
		}
	}
}

func TestCompressedPixel(t *testing.T) {
	str := schema.NewPrimitive(schema.String)
	v := vector.NewBytesColumnVector(500)
	for i := 0; i < 500; i++ {
		v.SetString(i, testutil.RepeatString(i%50)+testutil.RepeatString(i))
	}
	lz4, err := compression.NewCompressor(&compression.Config{Algorithm: compression.LZ4})
	require.NoError(t, err)
	opts := &Options{Encoding: false, Compressor: lz4}

	blob, err := EncodePixel(str, v, 0, 500, stats.NewCollector(), opts)
	require.NoError(t, err)
	assert.NotZero(t, blob[1]&flagCompressed)

	out := vector.NewBytesColumnVector(0)
	_, err = DecodePixel(str, blob, out, 0, 500, opts)
	require.NoError(t, err)
	testutil.RequireRowsEqual(t, v, 0, out, 0, 500)

	_, err = DecodePixel(str, blob, vector.NewBytesColumnVector(0), 0, 500, &Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption))
}

func TestChecksumDetectsCorruption(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	blob, err := EncodePixel(long, longVector(1, 2, 3, 4, 5, 6, 7, 8), 0, 8, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)

	for i := range blob {
		bad := bytes.Clone(blob)
		bad[i] ^= 0x10
		_, err := DecodePixel(long, bad, vector.NewLongColumnVector(0), 0, 8, DefaultOptions())
		require.Error(t, err, "flipped byte %d", i)
		assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption))
	}

	_, err = DecodePixel(long, blob[:5], vector.NewLongColumnVector(0), 0, 8, DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption))
}

func TestDecodeAtOffsetKeepsEarlierRows(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	v := longVector(10, 20, 30)
	v.SetNull(1)
	blob, err := EncodePixel(long, v, 0, 3, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)

	out := longVector(99, 98)
	n, err := DecodePixel(long, blob, out, 2, 3, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{99, 98, 10, 0, 30}, out.Vector[:5])
	assert.True(t, out.IsNullAt(3))
	assert.False(t, out.IsNullAt(4))
}

func TestAllNullPixel(t *testing.T) {
	dbl := schema.NewPrimitive(schema.Double)
	v := vector.NewDoubleColumnVector(10)
	vector.FillNulls(v, 0, 10)
	col := stats.NewCollector()
	blob, err := EncodePixel(dbl, v, 0, 10, col, DefaultOptions())
	require.NoError(t, err)
	st := col.Statistics()
	assert.False(t, st.HasMinMax())
	assert.Equal(t, uint64(10), st.NullCount)

	out := vector.NewDoubleColumnVector(0)
	_, err = DecodePixel(dbl, blob, out, 0, 10, DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.True(t, out.IsNullAt(i))
	}
}

func TestBitPacking(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for width := uint(0); width <= 64; width++ {
		vals := make([]uint64, 37)
		for i := range vals {
			if width > 0 {
				vals[i] = rng.Uint64() >> (64 - width)
			}
		}
		var buf bytes.Buffer
		appendPacked(&buf, vals, width)
		require.Equal(t, packedLen(len(vals), width), buf.Len())
		assert.Equal(t, vals, unpack(buf.Bytes(), len(vals), width), "width %d", width)
	}
}

func TestUnsupportedCategory(t *testing.T) {
	_, err := EncodePixel(schema.NewStruct(), vector.NewLongColumnVector(1), 0, 1, stats.NewCollector(), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = EncodePixel(schema.NewPrimitive(schema.Double), vector.NewLongColumnVector(1), 0, 1, stats.NewCollector(), DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// sealPixel assembles a pixel blob from a raw header and payload with a valid
// checksum.
func sealPixel(kind Kind, flags byte, rows uint64, payload []byte) []byte {
	b := []byte{byte(kind), flags}
	b = binary.AppendUvarint(b, rows)
	b = append(b, payload...)
	return binary.LittleEndian.AppendUint32(b, crc32.Checksum(b, crc32.MakeTable(crc32.Castagnoli)))
}

func TestDecodeRejectsImplausibleRowCounts(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)

	// one RLE run covering every claimed row
	const huge = uint64(1) << 62
	var rle []byte
	rle = binary.AppendUvarint(rle, 1)
	rle = binary.AppendVarint(rle, 7)
	rle = binary.AppendUvarint(rle, huge)
	blob := sealPixel(KindRLE, 0, huge, rle)

	valid, err := EncodePixel(long, longVector(1, 2, 3), 0, 3, stats.NewCollector(), DefaultOptions())
	require.NoError(t, err)

	tests := []struct {
		name string
		blob []byte
		rows int
	}{
		{"huge header", blob, 3},
		{"huge header matching index", blob, int(huge)},
		{"header above index", valid, 2},
		{"header below index", valid, 4},
		{"negative index", valid, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := vector.NewLongColumnVector(0)
			var err error
			require.NotPanics(t, func() {
				_, err = DecodePixel(long, tt.blob, out, 0, tt.rows, DefaultOptions())
			})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption), "%v", err)
			assert.Zero(t, out.Len())
		})
	}
}

func TestDecodeRejectsImplausibleListLengths(t *testing.T) {
	list := schema.MustParse("array<int>")

	// one row whose RLE-encoded length claims more elements than a pixel may hold
	var lengths []byte
	lengths = binary.AppendUvarint(lengths, 1)
	lengths = binary.AppendVarint(lengths, MaxPixelRows+1)
	lengths = binary.AppendUvarint(lengths, 1)
	payload := append([]byte{byte(KindRLE)}, lengths...)
	payload = binary.AppendUvarint(payload, 0)
	blob := sealPixel(KindList, 0, 1, payload)

	out, err := list.NewColumnVector(0)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		_, err = DecodePixel(list, blob, out, 0, 1, DefaultOptions())
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption), "%v", err)
}

func TestDecodeRejectsImplausibleRawLength(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	zstd, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Zstd})
	require.NoError(t, err)

	var payload []byte
	payload = binary.AppendUvarint(payload, uint64(1)<<62)
	payload = append(payload, 0x28, 0xb5, 0x2f, 0xfd)
	blob := sealPixel(KindPlain, flagCompressed, 1, payload)

	require.NotPanics(t, func() {
		_, err = DecodePixel(long, blob, vector.NewLongColumnVector(0), 0, 1, &Options{Encoding: true, Compressor: zstd})
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption), "%v", err)
}

func TestDecodeChunkRejectsIndexMismatch(t *testing.T) {
	long := schema.NewPrimitive(schema.Long)
	chunk, err := EncodeChunk(long, longVector(1, 2, 3, 4, 5), 5, 2, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunk.Pixels, 3)

	chunk.Pixels[1].Rows = 3
	_, err = DecodeChunk(long, chunk.Data, chunk.Pixels, []PixelRange{{1, 2}}, DefaultOptions())
	assert.True(t, errors.IsType(err, errors.ErrorTypeRecordCorruption), "%v", err)
}
