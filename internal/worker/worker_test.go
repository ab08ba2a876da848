package worker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/partition"
	"github.com/ajitpratap0/pixels/pkg/predicate"
	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/storage"
	"github.com/ajitpratap0/pixels/pkg/testutil"
	"github.com/ajitpratap0/pixels/pkg/value"
	"github.com/ajitpratap0/pixels/pkg/vector"
	"github.com/ajitpratap0/pixels/pkg/writer"
)

var inputSchema = schema.MustParse("struct<id:bigint,name:string,score:double>")

func writeInput(t *testing.T, path string, start, n int) {
	t.Helper()
	ctx := context.Background()
	b, err := inputSchema.CreateRowBatch(n)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		b.Cols[0].(*vector.LongColumnVector).Set(i, int64(start+i))
		b.Cols[1].(*vector.BytesColumnVector).SetString(i, testutil.RepeatString(start+i))
		b.Cols[2].(*vector.DoubleColumnVector).Set(i, float64(i%7))
	}
	b.Size = n

	opts := writer.DefaultOptions(inputSchema)
	opts.PixelStride = 100
	opts.RowGroupSize = 100 * 30
	opts.Logger = zaptest.NewLogger(t)
	w, err := writer.New(ctx, storage.NewLocal(), path, opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRowBatch(ctx, b))
	require.NoError(t, w.Close(ctx))
}

func newWorker(t *testing.T) *PartitionWorker {
	cfg := config.NewDefault()
	cfg.Reader.BatchSize = 128
	cfg.Writer.PixelStride = 64
	w, err := New(Config{
		Storage:     storage.NewLocal(),
		Reader:      cfg.Reader,
		Writer:      cfg.Writer,
		Parallelism: 2,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return w
}

func TestPartitionWorker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var splits []Split
	for k := 0; k < 3; k++ {
		path := filepath.Join(dir, "in", string(rune('a'+k))+".pxl")
		writeInput(t, path, k*1000, 1000)
		splits = append(splits, Split{Path: path})
	}
	// only the second half of the last file
	splits[2].RGStart = 5

	out := filepath.Join(dir, "out.pxl")
	res, err := newWorker(t).Run(ctx, Task{
		Splits:        splits,
		Projection:    []string{"name", "id"},
		Filter:        predicate.Lt("score", value.Float64(3)),
		KeyColumns:    []string{"id"},
		NumPartitions: 4,
		OutputPath:    out,
	})
	require.NoError(t, err)

	var want []int64
	for id := 0; id < 3000; id++ {
		if id >= 2000 && id < 2500 {
			continue
		}
		if (id%1000)%7 < 3 {
			want = append(want, int64(id))
		}
	}
	assert.Equal(t, int64(len(want)), res.RowsRead)
	assert.Equal(t, int64(len(want)), res.RowsWritten)
	assert.Positive(t, res.ReadBytes)
	assert.Positive(t, res.WriteBytes)
	assert.True(t, sort.SliceIsSorted(res.HashValues, func(i, j int) bool { return res.HashValues[i] < res.HashValues[j] }))

	r, err := reader.Open(ctx, storage.NewLocal(), out, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.IsPartitioned())
	assert.Equal(t, []int{1}, r.KeyColumnIDs())
	assert.Equal(t, "struct<name:string,id:bigint>", r.Schema().String())
	assert.Equal(t, res.HashValues, r.PartitionHashes())

	fn, err := partition.NewHashFunc([]int{1}, 4)
	require.NoError(t, err)
	var got []int64
	for _, h := range r.PartitionHashes() {
		rr, err := r.Read(ctx, reader.ReadOptions{HashValue: &h})
		require.NoError(t, err)
		for {
			b, err := rr.ReadBatch(ctx, 500)
			require.NoError(t, err)
			for row := 0; row < b.Size; row++ {
				require.Equal(t, int(h), fn.Partition(b.Cols, row))
				id := b.Cols[1].(*vector.LongColumnVector).Vector[row]
				require.Equal(t, testutil.RepeatString(int(id)), string(b.Cols[0].(*vector.BytesColumnVector).Vector[row]))
				got = append(got, id)
			}
			if b.EndOfFile {
				break
			}
		}
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, want, got)
}

func TestPartitionWorkerErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pxl")
	writeInput(t, in, 0, 200)
	w := newWorker(t)

	tests := []struct {
		name string
		task Task
		typ  errors.ErrorType
	}{
		{"no splits", Task{OutputPath: "x", NumPartitions: 2}, errors.ErrorTypeValidation},
		{"no output", Task{Splits: []Split{{Path: in}}, NumPartitions: 2}, errors.ErrorTypeValidation},
		{"key not projected", Task{
			Splits: []Split{{Path: in}}, Projection: []string{"name"}, KeyColumns: []string{"id"},
			NumPartitions: 2, OutputPath: filepath.Join(dir, "a.pxl"),
		}, errors.ErrorTypeSchemaMismatch},
		{"unknown column", Task{
			Splits: []Split{{Path: in}}, Projection: []string{"nope"}, KeyColumns: []string{"nope"},
			NumPartitions: 2, OutputPath: filepath.Join(dir, "b.pxl"),
		}, errors.ErrorTypeSchemaMismatch},
		{"missing split", Task{
			Splits: []Split{{Path: in}, {Path: filepath.Join(dir, "missing.pxl")}}, KeyColumns: []string{"id"},
			NumPartitions: 2, OutputPath: filepath.Join(dir, "c.pxl"),
		}, errors.ErrorTypeNotFound},
		{"no partitions", Task{
			Splits: []Split{{Path: in}}, KeyColumns: []string{"id"},
			NumPartitions: 0, OutputPath: filepath.Join(dir, "d.pxl"),
		}, errors.ErrorTypeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Run(ctx, tt.task)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.typ), err.Error())
			if tt.task.OutputPath != "" {
				_, statErr := os.Stat(tt.task.OutputPath)
				assert.True(t, os.IsNotExist(statErr))
			}
		})
	}

	_, err := New(Config{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
