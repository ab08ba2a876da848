package reader

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/cache"
	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/encoding"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/format"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/metrics"
	"github.com/ajitpratap0/pixels/pkg/observability"
	"github.com/ajitpratap0/pixels/pkg/predicate"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// ReadOptions selects what a RecordReader returns.
type ReadOptions struct {
	// IncludeCols names the leaf columns to return, in output order. Empty
	// means every column of the file.
	IncludeCols []string
	// Predicate filters rows. Row groups and pixels whose statistics prove it
	// false are skipped without being decoded.
	Predicate *predicate.Expr
	// TolerantSchemaEvolution reads columns that are missing from the file, or
	// whose type differs from ReadSchema, as all nulls instead of failing.
	TolerantSchemaEvolution bool
	// SkipCorruptRecords drops pixels that fail their checksum or decode
	// instead of failing the read.
	SkipCorruptRecords bool
	// RGStart and RGLength restrict the read to a window of row groups.
	// RGLength <= 0 reads to the end of the file.
	RGStart  int
	RGLength int
	// HashValue restricts a partitioned file to the row groups of one hash.
	HashValue *int32
	// ReadSchema supplies the types of columns the file does not have. Missing
	// columns default to bigint.
	ReadSchema *schema.TypeDescription
	// DisableSkip turns off statistics pruning; results are unchanged.
	DisableSkip bool
}

// ReadOptionsFromConfig maps the reader section of the configuration.
func ReadOptionsFromConfig(cfg config.ReaderConfig) ReadOptions {
	return ReadOptions{
		TolerantSchemaEvolution: cfg.TolerantSchemaEvolution,
		SkipCorruptRecords:      cfg.SkipCorruptRecords,
	}
}

// column is a leaf as the read sees it. fileID is -1 for a column read as
// nulls.
type column struct {
	schema.Column
	fileID int
}

// RecordReader streams the rows of a file that satisfy a predicate.
type RecordReader struct {
	r    *Reader
	opts ReadOptions
	log  *zap.Logger

	cols    []column
	project []int
	decode  []int
	filter  *predicate.Bound
	output  *schema.TypeDescription

	rgNext int
	rgEnd  int

	// pending holds the decoded rows of the current row group, indexed like
	// cols; sel lists the rows that passed the filter and pos the next one to
	// emit.
	pending []vector.ColumnVector
	sel     []int
	pos     int
	eof     bool

	io          ioStats
	rowsDecoded int64
}

// Read prepares a record reader.
func (r *Reader) Read(ctx context.Context, opts ReadOptions) (*RecordReader, error) {
	rr := &RecordReader{r: r, opts: opts, log: withPredicate(logger.FromContext(ctx, r.log), opts)}
	if err := rr.resolveColumns(); err != nil {
		return nil, err
	}
	if err := rr.resolveWindow(); err != nil {
		return nil, err
	}
	rr.log.Debug("record reader created",
		zap.String("output", rr.output.String()),
		zap.Int("rg_start", rr.rgNext),
		zap.Int("rg_end", rr.rgEnd))
	return rr, nil
}

func withPredicate(l *zap.Logger, opts ReadOptions) *zap.Logger {
	if opts.Predicate != nil {
		return l.With(zap.Stringer("predicate", opts.Predicate))
	}
	return l
}

func (rr *RecordReader) resolveColumns() error {
	file := rr.r.leaves
	rr.cols = make([]column, len(file))
	for i, leaf := range file {
		rr.cols[i] = column{Column: leaf, fileID: i}
		if want := rr.readType(leaf.Name); want != nil && want.Category != leaf.Type.Category {
			if !rr.opts.TolerantSchemaEvolution {
				return errors.Newf(errors.ErrorTypeSchemaMismatch, "column %q is %s in the file, %s was requested",
					leaf.Name, leaf.Type, want).WithDetail("path", rr.r.path)
			}
			rr.cols[i].Type = want
			rr.cols[i].fileID = -1
		}
	}

	lookup := func(name string) (int, error) {
		for i, c := range rr.cols {
			if c.Name == name {
				return i, nil
			}
		}
		if !rr.opts.TolerantSchemaEvolution {
			return -1, errors.Newf(errors.ErrorTypeSchemaMismatch, "column %q is not in the file", name).
				WithDetail("path", rr.r.path)
		}
		t := rr.readType(name)
		if t == nil {
			t = schema.NewPrimitive(schema.Long)
		}
		id := len(rr.cols)
		rr.cols = append(rr.cols, column{Column: schema.Column{ID: id, Name: name, Type: t}, fileID: -1})
		return id, nil
	}

	if len(rr.opts.IncludeCols) == 0 {
		for i := range file {
			rr.project = append(rr.project, i)
		}
	}
	for _, name := range rr.opts.IncludeCols {
		id, err := lookup(name)
		if err != nil {
			return err
		}
		rr.project = append(rr.project, id)
	}

	if rr.opts.Predicate != nil {
		if err := rr.opts.Predicate.Validate(); err != nil {
			return err
		}
		for _, name := range rr.opts.Predicate.Columns() {
			if _, err := lookup(name); err != nil {
				return err
			}
		}
		leaves := make([]schema.Column, len(rr.cols))
		for i, c := range rr.cols {
			leaves[i] = c.Column
		}
		filter, err := predicate.Bind(rr.opts.Predicate, schema.FromLeaves(leaves))
		if err != nil {
			return err
		}
		rr.filter = filter
	}

	needed := make(map[int]bool)
	for _, id := range rr.project {
		needed[id] = true
	}
	if rr.filter != nil {
		for _, id := range rr.filter.Columns() {
			needed[id] = true
		}
	}
	for id := range rr.cols {
		if needed[id] {
			rr.decode = append(rr.decode, id)
		}
	}

	out := make([]schema.Column, len(rr.project))
	for i, id := range rr.project {
		out[i] = schema.Column{ID: i, Name: rr.cols[id].Name, Type: rr.cols[id].Type}
	}
	rr.output = schema.FromLeaves(out)
	return nil
}

func (rr *RecordReader) readType(name string) *schema.TypeDescription {
	if rr.opts.ReadSchema == nil {
		return nil
	}
	for _, leaf := range rr.opts.ReadSchema.Leaves() {
		if leaf.Name == name {
			return leaf.Type
		}
	}
	return nil
}

func (rr *RecordReader) resolveWindow() error {
	n := rr.r.NumRowGroups()
	if rr.opts.RGStart < 0 || rr.opts.RGStart > n {
		return errors.Newf(errors.ErrorTypeValidation, "row group start %d outside [0,%d]", rr.opts.RGStart, n)
	}
	if rr.opts.HashValue != nil && !rr.r.IsPartitioned() {
		return errors.New(errors.ErrorTypeValidation, "hash value given for a file that is not partitioned").
			WithDetail("path", rr.r.path)
	}
	rr.rgNext = rr.opts.RGStart
	rr.rgEnd = n
	if rr.opts.RGLength > 0 && rr.opts.RGStart+rr.opts.RGLength < n {
		rr.rgEnd = rr.opts.RGStart + rr.opts.RGLength
	}
	return nil
}

// Schema describes the batches ReadBatch returns.
func (rr *RecordReader) Schema() *schema.TypeDescription { return rr.output }

// CompletedBytes returns the bytes this reader fetched from storage.
func (rr *RecordReader) CompletedBytes() int64 { return rr.io.bytes }

// NumReadRequests returns the storage reads this reader issued.
func (rr *RecordReader) NumReadRequests() int64 { return rr.io.requests }

// ReadTimeNanos returns the time spent waiting on storage.
func (rr *RecordReader) ReadTimeNanos() int64 { return rr.io.nanos }

// RowsDecoded returns the rows decoded before filtering.
func (rr *RecordReader) RowsDecoded() int64 { return rr.rowsDecoded }

// ReadBatch returns up to maxSize rows. The batch that exhausts the reader has
// EndOfFile set; later calls return empty batches with EndOfFile set.
func (rr *RecordReader) ReadBatch(ctx context.Context, maxSize int) (*vector.RowBatch, error) {
	if maxSize <= 0 {
		maxSize = vector.DefaultSize
	}
	batch, err := rr.output.CreateRowBatch(maxSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "create row batch")
	}
	for !rr.eof && !batch.IsFull() {
		if rr.pos == len(rr.sel) {
			more, err := rr.advance(ctx)
			if err != nil {
				return nil, err
			}
			if !more {
				rr.eof = true
				break
			}
		}
		if err := rr.emit(batch); err != nil {
			return nil, err
		}
	}
	if !rr.eof && rr.pos == len(rr.sel) {
		more, err := rr.advance(ctx)
		if err != nil {
			return nil, err
		}
		rr.eof = !more
	}
	batch.EndOfFile = rr.eof
	return batch, nil
}

// emit copies pending selected rows into batch, in runs of consecutive rows.
func (rr *RecordReader) emit(batch *vector.RowBatch) error {
	n := min(batch.MaxSize-batch.Size, len(rr.sel)-rr.pos)
	sel := rr.sel[rr.pos : rr.pos+n]
	for i := 0; i < len(sel); {
		j := i + 1
		for j < len(sel) && sel[j] == sel[j-1]+1 {
			j++
		}
		for out, id := range rr.project {
			if err := vector.CopyRows(batch.Cols[out], batch.Size+i, rr.pending[id], sel[i], j-i); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "copy rows")
			}
		}
		i = j
	}
	batch.Size += n
	rr.pos += n
	return nil
}

// advance loads row groups until one has selected rows. It returns false when
// the window is exhausted.
func (rr *RecordReader) advance(ctx context.Context) (bool, error) {
	for rr.rgNext < rr.rgEnd {
		rg := rr.rgNext
		rr.rgNext++
		if err := rr.loadRowGroup(ctx, rg); err != nil {
			return false, err
		}
		if len(rr.sel) > 0 {
			return true, nil
		}
	}
	rr.pending, rr.sel, rr.pos = nil, nil, 0
	return false, nil
}

func (rr *RecordReader) skip() bool {
	return rr.filter != nil && !rr.opts.DisableSkip
}

// rowGroupStats lines up the footer statistics of row group rg with cols.
func (rr *RecordReader) rowGroupStats(rg int) []stats.Statistics {
	file := rr.r.footer.RowGroupStats[rg]
	rows := rr.r.footer.RowGroups[rg].NumRows
	out := make([]stats.Statistics, len(rr.cols))
	for i, c := range rr.cols {
		if c.fileID < 0 {
			out[i] = stats.AllNull(rows)
			continue
		}
		out[i] = file[c.fileID]
	}
	return out
}

func (rr *RecordReader) pixelStats(f *format.RowGroupFooter, p int) []stats.Statistics {
	rows := uint64(f.Columns[0].Pixels[p].Rows)
	out := make([]stats.Statistics, len(rr.cols))
	for i, c := range rr.cols {
		if c.fileID < 0 {
			out[i] = stats.AllNull(rows)
			continue
		}
		out[i] = f.Columns[c.fileID].Pixels[p].Stats
	}
	return out
}

func (rr *RecordReader) loadRowGroup(ctx context.Context, rg int) (err error) {
	rr.pending, rr.sel, rr.pos = nil, rr.sel[:0], 0
	info := rr.r.footer.RowGroups[rg]

	if h := rr.opts.HashValue; h != nil && info.PartitionHash != *h {
		return nil
	}
	if rr.skip() && !rr.filter.MightMatch(rr.rowGroupStats(rg)) {
		metrics.ReaderSkipped.WithLabelValues(metrics.LevelRowGroup).Inc()
		rr.log.Debug("row group skipped", zap.Int("row_group", rg))
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "reader.row_group")
	span.SetAttribute("row_group", rg)
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	f, err := rr.r.rowGroupFooter(ctx, rg, &rr.io)
	if err != nil {
		return err
	}
	pixels := f.Columns[0].Pixels

	surviving := make([]int, 0, len(pixels))
	total := 0
	for p := range pixels {
		if rr.skip() && !rr.filter.MightMatch(rr.pixelStats(f, p)) {
			metrics.ReaderSkipped.WithLabelValues(metrics.LevelPixel).Inc()
			continue
		}
		surviving = append(surviving, p)
		total += int(pixels[p].Rows)
	}
	span.SetAttribute("pixels", len(surviving))
	if len(surviving) == 0 {
		return nil
	}

	rr.pending = make([]vector.ColumnVector, len(rr.cols))
	blobs := make([][][]byte, len(rr.cols))
	for _, id := range rr.decode {
		c := rr.cols[id]
		v, err := c.Type.NewColumnVector(total)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "allocate column vector")
		}
		rr.pending[id] = v
		if c.fileID < 0 {
			continue
		}
		if blobs[id], err = rr.fetch(ctx, rg, c.fileID, f.Columns[c.fileID], surviving); err != nil {
			return err
		}
	}

	rows := 0
	for k, p := range surviving {
		n := int(pixels[p].Rows)
		if err := rr.decodePixel(blobs, k, rows, n); err != nil {
			if !errors.IsType(err, errors.ErrorTypeRecordCorruption) {
				return err
			}
			if !rr.opts.SkipCorruptRecords {
				return errors.Wrap(err, errors.ErrorTypeRecordCorruption, "decode pixel").
					WithDetail("row_group", rg).WithDetail("pixel", p)
			}
			metrics.ReaderCorruptPixels.Inc()
			rr.log.Warn("skipping corrupt pixel",
				zap.Int("row_group", rg),
				zap.Int("pixel", p),
				zap.Error(err))
			continue
		}
		rows += n
	}
	for _, id := range rr.decode {
		if rr.cols[id].fileID < 0 {
			vector.FillNulls(rr.pending[id], 0, rows)
		}
	}
	rr.rowsDecoded += int64(rows)

	if rr.filter != nil {
		rr.sel = rr.filter.Select(rr.pending, rows, rr.sel)
	} else {
		for i := 0; i < rows; i++ {
			rr.sel = append(rr.sel, i)
		}
	}
	span.SetAttribute("rows", len(rr.sel))
	return nil
}

// decodePixel decodes the k-th surviving pixel of every file column at row
// off. A failure leaves rows past off undefined; the next pixel overwrites
// them.
func (rr *RecordReader) decodePixel(blobs [][][]byte, k, off, rows int) error {
	for _, id := range rr.decode {
		c := rr.cols[id]
		if c.fileID < 0 {
			continue
		}
		if _, err := encoding.DecodePixel(c.Type, blobs[id][k], rr.pending[id], off, rows, rr.r.encOpts); err != nil {
			return err
		}
	}
	return nil
}

// fetch returns the blobs of the surviving pixels of one chunk, in order.
func (rr *RecordReader) fetch(ctx context.Context, rg, fileID int, chunk format.ColumnChunkIndex, surviving []int) ([][]byte, error) {
	out := make([][]byte, len(surviving))
	if rr.r.cache != nil {
		data, err := rr.chunkThroughCache(ctx, rg, fileID, chunk)
		if err != nil {
			return nil, err
		}
		for k, p := range surviving {
			px := chunk.Pixels[p]
			out[k] = data[px.Offset : px.Offset+px.Length]
		}
		return out, nil
	}

	// adjacent surviving pixels are read with one request
	for k := 0; k < len(surviving); {
		j := k + 1
		for j < len(surviving) && surviving[j] == surviving[j-1]+1 {
			j++
		}
		lo, hi := chunk.Pixels[surviving[k]].Offset, uint64(0)
		for _, p := range surviving[k:j] {
			px := chunk.Pixels[p]
			lo = min(lo, px.Offset)
			hi = max(hi, px.Offset+px.Length)
		}
		buf := make([]byte, hi-lo)
		if err := rr.r.readAt(ctx, buf, int64(chunk.ChunkOffset+lo), &rr.io); err != nil {
			return nil, err
		}
		for i := k; i < j; i++ {
			px := chunk.Pixels[surviving[i]]
			out[i] = buf[px.Offset-lo : px.Offset-lo+px.Length]
		}
		k = j
	}
	return out, nil
}

// chunkThroughCache returns a whole chunk from the cache, reading and
// populating it on a miss. Failing to populate only costs the next reader a
// storage read.
func (rr *RecordReader) chunkThroughCache(ctx context.Context, rg, fileID int, chunk format.ColumnChunkIndex) ([]byte, error) {
	key := cache.Key{File: rr.r.cacheKey, RowGroup: rg, Column: fileID}
	if data, ok := rr.r.cache.Get(key); ok && uint64(len(data)) == chunk.ChunkLength {
		metrics.ReaderBytes.WithLabelValues(metrics.SourceCache).Add(float64(len(data)))
		return data, nil
	}
	data := make([]byte, chunk.ChunkLength)
	if err := rr.r.readAt(ctx, data, int64(chunk.ChunkOffset), &rr.io); err != nil {
		return nil, err
	}
	if err := rr.r.cache.Put(key, data); err != nil {
		rr.log.Debug("cache put failed",
			zap.Int("row_group", rg),
			zap.Int("column", fileID),
			zap.Error(err))
	}
	return data, nil
}

// Close releases the pending batch. The Reader stays open.
func (rr *RecordReader) Close() error {
	rr.pending, rr.sel = nil, nil
	rr.eof = true
	return nil
}
