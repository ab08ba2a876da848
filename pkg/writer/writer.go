// Package writer produces pixels files.
//
// A Writer moves through an explicit state machine:
//
//	OPEN -> ACCUMULATING <-> FLUSHING -> CLOSED
//	                  \________________-> FAILED
//
// Rows accumulate in an in-memory row group. At every pixel boundary the
// buffered size is estimated; once it reaches the row-group size the row group
// is flushed: every column is encoded concurrently, then chunks and the
// row-group footer are emitted in order. The row group is recorded in the file
// footer only after its bytes were written. Any failure moves the writer to
// FAILED and aborts the output, so no postscript is ever written after a
// partial row group.
package writer

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pixels/pkg/encoding"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/format"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/metrics"
	"github.com/ajitpratap0/pixels/pkg/observability"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/storage"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// State is the lifecycle state of a Writer.
type State int

const (
	StateOpen State = iota
	StateAccumulating
	StateFlushing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrWriterClosed is returned by calls on a closed writer.
var ErrWriterClosed = errors.New(errors.ErrorTypeWriterClosed, "writer is closed")

// Writer writes one file. It is not safe for concurrent use.
type Writer struct {
	opts    Options
	encOpts *encoding.Options
	leaves  []schema.Column
	out     storage.PhysicalWriter
	log     *zap.Logger

	state   State
	failure error

	buffer      *vector.RowBatch
	bufferBytes int64
	bufferHash  int32

	footer    format.Footer
	fileStats []*stats.Collector
	rows      uint64

	completedBytes int64
	writeRequests  int64
}

// New creates path on st and writes the file header.
func New(ctx context.Context, st storage.Storage, path string, opts *Options) (*Writer, error) {
	if opts == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "writer options are required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	encOpts, err := opts.encodingOptions()
	if err != nil {
		return nil, err
	}
	buffer, err := opts.Schema.CreateRowBatch(opts.PixelStride)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "allocate row group buffer")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Named("writer")
	}
	log = log.With(zap.String("path", path))

	out, err := st.Create(ctx, path)
	if err != nil {
		return nil, err
	}

	leaves := opts.Schema.Leaves()
	w := &Writer{
		opts:       *opts,
		encOpts:    encOpts,
		leaves:     leaves,
		out:        out,
		log:        log,
		buffer:     buffer,
		bufferHash: format.NoPartition,
		fileStats:  make([]*stats.Collector, len(leaves)),
	}
	for i := range w.fileStats {
		w.fileStats[i] = stats.NewCollector()
	}
	w.footer = format.Footer{
		Schema:           opts.Schema.String(),
		PixelStride:      uint32(opts.PixelStride),
		Compression:      string(opts.Compression),
		CompressionLevel: opts.CompressionLevel.String(),
		Timezone:         opts.Timezone,
		Partitioned:      opts.Partitioned,
		KeyColumnIDs:     opts.KeyColumnIDs,
		BlockSize:        opts.BlockSize,
		Replication:      opts.Replication,
	}

	if err := w.write(ctx, []byte(format.Magic)); err != nil {
		return nil, w.fail(err)
	}
	log.Debug("writer opened",
		zap.String("schema", w.footer.Schema),
		zap.Int("pixel_stride", opts.PixelStride),
		zap.Int64("row_group_size", opts.RowGroupSize),
		zap.String("compression", w.footer.Compression))
	return w, nil
}

// State returns the current state.
func (w *Writer) State() State { return w.state }

// Schema returns the file schema.
func (w *Writer) Schema() *schema.TypeDescription { return w.opts.Schema }

// Path returns the output path.
func (w *Writer) Path() string { return w.out.Name() }

// NumRows returns the rows flushed so far.
func (w *Writer) NumRows() uint64 { return w.rows }

// NumRowGroups returns the row groups flushed so far.
func (w *Writer) NumRowGroups() int { return len(w.footer.RowGroups) }

// CompletedBytes returns the bytes written to storage, including padding.
func (w *Writer) CompletedBytes() int64 { return w.completedBytes }

// NumWriteRequests returns the number of writes issued to storage.
func (w *Writer) NumWriteRequests() int64 { return w.writeRequests }

func (w *Writer) checkUsable() error {
	switch w.state {
	case StateClosed:
		return ErrWriterClosed
	case StateFailed:
		return errors.Wrap(w.failure, errors.ErrorTypeWriterClosed, "writer failed")
	}
	return nil
}

// AddRowBatch appends the rows of batch. The batch columns must match the
// schema leaves; the batch can be reused once AddRowBatch returns.
func (w *Writer) AddRowBatch(ctx context.Context, batch *vector.RowBatch) error {
	if w.opts.Partitioned {
		return errors.New(errors.ErrorTypeValidation, "partitioned writer needs AddRowBatchWithHash")
	}
	return w.add(ctx, batch, format.NoPartition)
}

// AddRowBatchWithHash appends rows that all belong to partition hash. A row
// group never mixes partitions: a new hash flushes the buffered rows first.
func (w *Writer) AddRowBatchWithHash(ctx context.Context, batch *vector.RowBatch, hash int32) error {
	if !w.opts.Partitioned {
		return errors.New(errors.ErrorTypeValidation, "writer is not partitioned")
	}
	if hash < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "partition hash must not be negative, got %d", hash)
	}
	if err := w.checkUsable(); err != nil {
		return err
	}
	if w.buffer.Size > 0 && w.bufferHash != hash {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	return w.add(ctx, batch, hash)
}

func (w *Writer) add(ctx context.Context, batch *vector.RowBatch, hash int32) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	if len(batch.Cols) != len(w.leaves) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "batch has %d columns, schema has %d", len(batch.Cols), len(w.leaves))
	}
	w.state = StateAccumulating
	w.bufferHash = hash

	stride := w.opts.PixelStride
	for off := 0; off < batch.Size; {
		// fill up to the next pixel boundary
		n := min(stride-w.buffer.Size%stride, batch.Size-off)
		start := w.buffer.Size
		if err := w.buffer.AppendRows(batch, off, n); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSchemaMismatch, "buffer rows")
		}
		for i, col := range w.buffer.Cols {
			w.bufferBytes += estimateRows(col, start, n, w.leaves[i].Type)
		}
		off += n
		if w.buffer.Size%stride == 0 && w.bufferBytes >= w.opts.RowGroupSize {
			if err := w.flush(ctx); err != nil {
				return err
			}
			w.bufferHash = hash
		}
	}
	return nil
}

// flush encodes and emits the buffered row group.
func (w *Writer) flush(ctx context.Context) (err error) {
	rows := w.buffer.Size
	if rows == 0 {
		return nil
	}
	w.state = StateFlushing
	ctx, span := observability.StartSpan(ctx, "writer.flush")
	span.SetAttribute("rows", rows)
	span.SetAttribute("row_group", len(w.footer.RowGroups))
	timer := metrics.NewTimer("flush")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	chunks := make([]*encoding.Chunk, len(w.leaves))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.workers())
	for i, leaf := range w.leaves {
		g.Go(func() error {
			c, err := encoding.EncodeChunk(leaf.Type, w.buffer.Cols[i], rows, w.opts.PixelStride, w.encOpts)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "encode column").WithDetail("column", leaf.Name)
			}
			chunks[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return w.fail(err)
	}

	info, err := w.emit(ctx, chunks, rows)
	if err != nil {
		return w.fail(err)
	}

	// commit
	w.footer.RowGroups = append(w.footer.RowGroups, info)
	rgStats := make([]stats.Statistics, len(chunks))
	for i, c := range chunks {
		rgStats[i] = c.Stats
		w.fileStats[i].Merge(c.Collector)
	}
	w.footer.RowGroupStats = append(w.footer.RowGroupStats, rgStats)
	w.rows += uint64(rows)
	w.buffer.Reset()
	w.bufferBytes = 0
	w.state = StateAccumulating

	elapsed := timer.Stop()
	metrics.WriterRowGroups.Inc()
	metrics.WriterFlushDuration.Observe(elapsed.Seconds())
	w.log.Debug("row group flushed",
		zap.Int("row_group", len(w.footer.RowGroups)-1),
		zap.Int("rows", rows),
		zap.Uint64("bytes", info.DataLength+uint64(info.FooterLength)),
		zap.Int32("hash", info.PartitionHash),
		zap.Duration("duration", elapsed))
	return nil
}

// emit writes the chunks and the row-group footer of one row group.
func (w *Writer) emit(ctx context.Context, chunks []*encoding.Chunk, rows int) (format.RowGroupInformation, error) {
	rgFooter := &format.RowGroupFooter{Columns: make([]format.ColumnChunkIndex, len(chunks))}
	var dataLen int64
	for i, c := range chunks {
		rgFooter.Columns[i] = format.ColumnChunkIndex{
			ChunkLength: uint64(len(c.Data)),
			Pixels:      c.Pixels,
			Stats:       c.Stats,
		}
		dataLen += int64(len(c.Data))
	}
	// chunk offsets are set after padding; the probe sizes the footer with
	// offsets no smaller than the real ones
	bound := uint64(w.out.Position() + w.opts.BlockSize + dataLen)
	for i := range rgFooter.Columns {
		rgFooter.Columns[i].ChunkOffset = bound
	}
	probe, err := format.MarshalRowGroupFooter(rgFooter)
	if err != nil {
		return format.RowGroupInformation{}, err
	}
	if err := w.pad(ctx, dataLen+int64(len(probe))); err != nil {
		return format.RowGroupInformation{}, err
	}

	start := w.out.Position()
	for i, c := range chunks {
		rgFooter.Columns[i].ChunkOffset = uint64(w.out.Position())
		if err := w.write(ctx, c.Data); err != nil {
			return format.RowGroupInformation{}, err
		}
	}
	footerOffset := w.out.Position()
	fb, err := format.MarshalRowGroupFooter(rgFooter)
	if err != nil {
		return format.RowGroupInformation{}, err
	}
	if err := w.write(ctx, fb); err != nil {
		return format.RowGroupInformation{}, err
	}
	return format.RowGroupInformation{
		Offset:        uint64(start),
		DataLength:    uint64(footerOffset - start),
		FooterOffset:  uint64(footerOffset),
		FooterLength:  uint32(len(fb)),
		FooterCRC:     format.Checksum(fb),
		NumRows:       uint64(rows),
		StartRow:      w.rows,
		PartitionHash: w.bufferHash,
	}, nil
}

// pad zero-fills to the next block boundary when a row group of size bytes
// fits in a block but would straddle the current one.
func (w *Writer) pad(ctx context.Context, size int64) error {
	if !w.opts.BlockPadding || w.opts.BlockSize <= 0 || size >= w.opts.BlockSize {
		return nil
	}
	remaining := w.opts.BlockSize - w.out.Position()%w.opts.BlockSize
	if size <= remaining {
		return nil
	}
	w.log.Debug("padding to block boundary", zap.Int64("padding", remaining))
	zeros := make([]byte, min(remaining, 1<<20))
	for remaining > 0 {
		n := min(remaining, int64(len(zeros)))
		if err := w.write(ctx, zeros[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func (w *Writer) write(ctx context.Context, p []byte) error {
	if err := w.out.Write(ctx, p); err != nil {
		return err
	}
	w.completedBytes += int64(len(p))
	w.writeRequests++
	metrics.WriterBytes.Add(float64(len(p)))
	metrics.WriterRequests.Inc()
	return nil
}

// fail moves the writer to FAILED and discards the output.
func (w *Writer) fail(err error) error {
	if w.state == StateFailed {
		return err
	}
	w.state = StateFailed
	w.failure = err
	w.log.Error("writer failed, discarding file", zap.Error(err))
	if abortErr := w.out.Abort(); abortErr != nil {
		return multierr.Append(err, abortErr)
	}
	return err
}

// Close flushes the buffered rows and writes the footer and postscript. The
// writer is terminal afterwards.
func (w *Writer) Close(ctx context.Context) error {
	if err := w.checkUsable(); err != nil {
		return err
	}
	ctx, span := observability.StartSpan(ctx, "writer.close")
	defer span.End()

	if err := w.flush(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	w.footer.NumberOfRows = w.rows
	w.footer.ColumnStats = make([]stats.Statistics, len(w.fileStats))
	for i, c := range w.fileStats {
		w.footer.ColumnStats[i] = c.Statistics()
	}
	fb, err := format.MarshalFooter(&w.footer)
	if err != nil {
		return w.fail(err)
	}
	ps := format.PostScript{
		FooterOffset: uint64(w.out.Position()),
		FooterLength: uint32(len(fb)),
		FooterCRC:    format.Checksum(fb),
		Version:      format.Version,
	}
	if err := w.write(ctx, fb); err != nil {
		return w.fail(err)
	}
	if err := w.write(ctx, ps.Marshal()); err != nil {
		return w.fail(err)
	}
	if err := w.out.Close(ctx); err != nil {
		err = w.fail(err)
		span.RecordError(err)
		return err
	}
	w.state = StateClosed
	span.SetAttribute("rows", w.rows)
	span.SetAttribute("bytes", w.completedBytes)
	w.log.Info("file written",
		zap.Uint64("rows", w.rows),
		zap.Int("row_groups", len(w.footer.RowGroups)),
		zap.Int64("bytes", w.completedBytes),
		zap.Int64("write_requests", w.writeRequests))
	return nil
}

// Abort discards the file. It is a no-op on a closed or failed writer.
func (w *Writer) Abort() error {
	if w.state == StateClosed || w.state == StateFailed {
		return nil
	}
	w.state = StateFailed
	w.failure = errors.New(errors.ErrorTypeWriterClosed, "writer aborted")
	return w.out.Abort()
}

// estimateRows approximates the encoded size of n rows of v starting at off.
func estimateRows(v vector.ColumnVector, off, n int, t *schema.TypeDescription) int64 {
	var size int64
	switch cv := v.(type) {
	case *vector.LongColumnVector, *vector.DoubleColumnVector:
		size = int64(n) * 8
	case *vector.BytesColumnVector:
		for i := off; i < off+n; i++ {
			if !cv.IsNull[i] {
				size += int64(len(cv.Vector[i]))
			}
			size += 4
		}
	case *vector.ListColumnVector:
		for i := off; i < off+n; i++ {
			size += 4
			if !cv.IsNull[i] && cv.Lengths[i] > 0 {
				size += estimateRows(cv.Child, int(cv.Offsets[i]), int(cv.Lengths[i]), t.Children[0])
			}
		}
	}
	return size
}
