package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/format"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/storage"
	"github.com/ajitpratap0/pixels/pkg/testutil"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

var testSchema = schema.MustParse("struct<id:bigint,name:string>")

func testOptions(t *testing.T) *Options {
	opts := DefaultOptions(testSchema)
	opts.PixelStride = 100
	opts.RowGroupSize = 1 << 30
	opts.Logger = zaptest.NewLogger(t)
	return opts
}

func sequentialBatch(t *testing.T, start, n int) *vector.RowBatch {
	b, err := testSchema.CreateRowBatch(n)
	require.NoError(t, err)
	ids := b.Cols[0].(*vector.LongColumnVector)
	names := b.Cols[1].(*vector.BytesColumnVector)
	for i := 0; i < n; i++ {
		ids.Set(i, int64(start+i))
		names.SetString(i, testutil.RepeatString(start+i))
	}
	b.Size = n
	return b
}

func readFooter(t *testing.T, path string) *format.Footer {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, format.CheckHeader(data[:len(format.Magic)]))
	ps, err := format.ParsePostScript(data[len(data)-format.PostScriptSize:], int64(len(data)))
	require.NoError(t, err)
	f, err := format.UnmarshalFooter(data[ps.FooterOffset:ps.FooterOffset+uint64(ps.FooterLength)], ps.FooterCRC)
	require.NoError(t, err)
	return f
}

func TestWriterRowGroups(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a.pxl")
	opts := testOptions(t)
	// 100 rows of 8 + 10 + 4 bytes per pixel; three pixels per row group
	opts.RowGroupSize = 3 * 100 * 22

	w, err := New(ctx, storage.NewLocal(), path, opts)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, w.State())

	for start := 0; start < 1000; start += 70 {
		require.NoError(t, w.AddRowBatch(ctx, sequentialBatch(t, start, min(70, 1000-start))))
	}
	assert.Equal(t, StateAccumulating, w.State())
	assert.Equal(t, 3, w.NumRowGroups())
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, StateClosed, w.State())

	f := readFooter(t, path)
	assert.Equal(t, uint64(1000), f.NumberOfRows)
	assert.Equal(t, testSchema.String(), f.Schema)
	assert.Equal(t, uint32(100), f.PixelStride)
	require.Len(t, f.RowGroups, 4)
	var start uint64
	for i, rg := range f.RowGroups {
		assert.Equal(t, start, rg.StartRow)
		assert.Equal(t, format.NoPartition, rg.PartitionHash)
		if i < 3 {
			assert.Equal(t, uint64(300), rg.NumRows)
		}
		start += rg.NumRows
	}
	assert.Equal(t, uint64(100), f.RowGroups[3].NumRows)
	assert.Equal(t, int64(0), f.ColumnStats[0].Min.Int)
	assert.Equal(t, int64(999), f.ColumnStats[0].Max.Int)
	assert.Equal(t, int64(299), f.RowGroupStats[0][0].Max.Int)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), w.CompletedBytes())
	assert.Greater(t, w.NumWriteRequests(), int64(4))

	err = w.AddRowBatch(ctx, sequentialBatch(t, 0, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriterClosed))
	assert.ErrorIs(t, w.Close(ctx), ErrWriterClosed)
}

func TestWriterEmptyFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.pxl")
	w, err := New(ctx, storage.NewLocal(), path, testOptions(t))
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	f := readFooter(t, path)
	assert.Zero(t, f.NumberOfRows)
	assert.Empty(t, f.RowGroups)
}

func TestWriterBlockPadding(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "padded.pxl")
	opts := testOptions(t)
	opts.Encoding = false
	opts.RowGroupSize = 100 * 22
	opts.BlockPadding = true
	opts.BlockSize = 4096

	w, err := New(ctx, storage.NewLocal(), path, opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRowBatch(ctx, sequentialBatch(t, 0, 500)))
	require.NoError(t, w.Close(ctx))

	f := readFooter(t, path)
	require.Len(t, f.RowGroups, 5)
	for _, rg := range f.RowGroups {
		size := uint64(rg.DataLength) + uint64(rg.FooterLength)
		first := rg.Offset / uint64(opts.BlockSize)
		last := (rg.Offset + size - 1) / uint64(opts.BlockSize)
		assert.Equal(t, first, last, "row group at %d straddles a block", rg.Offset)
	}
}

func TestWriterCompressionRecorded(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "z.pxl")
	opts := testOptions(t)
	opts.Compression = compression.Zstd
	opts.CompressionLevel = compression.Best
	opts.Timezone = "Asia/Tokyo"

	w, err := New(ctx, storage.NewLocal(), path, opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRowBatch(ctx, sequentialBatch(t, 0, 250)))
	require.NoError(t, w.Close(ctx))

	f := readFooter(t, path)
	assert.Equal(t, "zstd", f.Compression)
	assert.Equal(t, "best", f.CompressionLevel)
	assert.Equal(t, "Asia/Tokyo", f.Timezone)
}

func TestWriterPartitioned(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "part.pxl")
	opts := testOptions(t)
	opts.Partitioned = true
	opts.KeyColumnIDs = []int{0}

	w, err := New(ctx, storage.NewLocal(), path, opts)
	require.NoError(t, err)

	err = w.AddRowBatch(ctx, sequentialBatch(t, 0, 10))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	require.NoError(t, w.AddRowBatchWithHash(ctx, sequentialBatch(t, 0, 10), 2))
	require.NoError(t, w.AddRowBatchWithHash(ctx, sequentialBatch(t, 10, 10), 2))
	require.NoError(t, w.AddRowBatchWithHash(ctx, sequentialBatch(t, 20, 5), 0))
	require.NoError(t, w.AddRowBatchWithHash(ctx, sequentialBatch(t, 25, 5), 2))
	require.NoError(t, w.Close(ctx))

	f := readFooter(t, path)
	assert.True(t, f.Partitioned)
	assert.Equal(t, []int{0}, f.KeyColumnIDs)
	require.Len(t, f.RowGroups, 3)
	assert.Equal(t, int32(2), f.RowGroups[0].PartitionHash)
	assert.Equal(t, uint64(20), f.RowGroups[0].NumRows)
	assert.Equal(t, int32(0), f.RowGroups[1].PartitionHash)
	assert.Equal(t, int32(2), f.RowGroups[2].PartitionHash)
}

func TestWriterOptionsValidation(t *testing.T) {
	ctx := context.Background()
	st := storage.NewLocal()
	path := filepath.Join(t.TempDir(), "x.pxl")

	tests := map[string]func(o *Options){
		"no schema":      func(o *Options) { o.Schema = nil },
		"not a struct":   func(o *Options) { o.Schema = schema.NewPrimitive(schema.Long) },
		"zero stride":    func(o *Options) { o.PixelStride = 0 },
		"zero row group": func(o *Options) { o.RowGroupSize = 0 },
		"threshold":      func(o *Options) { o.DictionaryThreshold = 2 },
		"no keys":        func(o *Options) { o.Partitioned = true },
		"bad key":        func(o *Options) { o.Partitioned, o.KeyColumnIDs = true, []int{5} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := testOptions(t)
			mutate(opts)
			_, err := New(ctx, st, path, opts)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}

	w, err := New(ctx, st, path, testOptions(t))
	require.NoError(t, err)
	other, err := schema.MustParse("struct<a:int>").CreateRowBatch(1)
	require.NoError(t, err)
	err = w.AddRowBatch(ctx, other)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	require.NoError(t, w.Abort())
}

// failingStorage fails every write after the first okWrites.
type failingStorage struct {
	storage.Storage
	okWrites int
	aborted  bool
}

type failingWriter struct {
	storage.PhysicalWriter
	s *failingStorage
}

func (f *failingStorage) Create(ctx context.Context, path string) (storage.PhysicalWriter, error) {
	w, err := f.Storage.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	return &failingWriter{PhysicalWriter: w, s: f}, nil
}

func (f *failingWriter) Write(ctx context.Context, p []byte) error {
	if f.s.okWrites == 0 {
		return errors.New(errors.ErrorTypeIOFailure, "disk full")
	}
	f.s.okWrites--
	return f.PhysicalWriter.Write(ctx, p)
}

func (f *failingWriter) Abort() error {
	f.s.aborted = true
	return f.PhysicalWriter.Abort()
}

func TestWriterFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "fail.pxl")
	st := &failingStorage{Storage: storage.NewLocal(), okWrites: 2}
	opts := testOptions(t)
	opts.RowGroupSize = 1

	w, err := New(ctx, st, path, opts)
	require.NoError(t, err)
	err = w.AddRowBatch(ctx, sequentialBatch(t, 0, 100))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIOFailure))
	assert.Equal(t, StateFailed, w.State())
	assert.True(t, st.aborted)
	assert.Zero(t, w.NumRowGroups())

	err = w.AddRowBatch(ctx, sequentialBatch(t, 0, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriterClosed))
	assert.True(t, errors.IsType(err, errors.ErrorTypeIOFailure))
	err = w.Close(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWriterClosed))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
