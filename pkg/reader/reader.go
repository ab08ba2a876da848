// Package reader opens pixels files and reads them back as row batches.
//
// Open performs a single tail read for the postscript and footer; row-group
// footers are fetched on demand and kept in a small LRU. A RecordReader then
// walks the row groups of the file, pruning row groups with the aggregate
// statistics in the file footer and pixels with the statistics in each
// row-group footer before decoding anything.
package reader

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/cache"
	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/encoding"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/format"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/metrics"
	"github.com/ajitpratap0/pixels/pkg/observability"
	"github.com/ajitpratap0/pixels/pkg/pool"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/storage"
)

const defaultFooterCacheSize = 64

// ChunkCache is the subset of the shared chunk cache the reader uses.
type ChunkCache interface {
	Get(key cache.Key) ([]byte, bool)
	Put(key cache.Key, data []byte) error
}

// Options configures an open file.
type Options struct {
	Logger *zap.Logger
	// Cache, when set, serves whole column chunks; misses are read from
	// storage and put back.
	Cache ChunkCache
	// CacheKey identifies the file in the cache. Defaults to the path.
	CacheKey string
	// FooterCacheSize bounds the row-group footers kept in memory.
	FooterCacheSize int
}

// OptionsFromConfig maps the reader section of the configuration.
func OptionsFromConfig(cfg config.ReaderConfig) *Options {
	return &Options{FooterCacheSize: cfg.FooterCacheSize}
}

// Reader is an open pixels file. It is not safe for concurrent use; open one
// Reader per split.
type Reader struct {
	phys       storage.PhysicalReader
	path       string
	cacheKey   string
	postScript format.PostScript
	footer     *format.Footer
	schema     *schema.TypeDescription
	leaves     []schema.Column
	encOpts    *encoding.Options
	rgFooters  *lru.Cache[int, *format.RowGroupFooter]
	cache      ChunkCache
	log        *zap.Logger
}

// ioStats accumulates the storage traffic of one caller.
type ioStats struct {
	bytes    int64
	requests int64
	nanos    int64
}

// Open reads and validates the postscript and footer of the file at path.
func Open(ctx context.Context, st storage.Storage, path string, opts *Options) (r *Reader, err error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx, span := observability.StartSpan(ctx, "reader.open")
	span.SetAttribute("path", path)
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	log := opts.Logger
	if log == nil {
		log = logger.Named("reader")
	}
	log = log.With(zap.String("path", path))

	phys, err := st.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r = &Reader{phys: phys, path: path, cacheKey: opts.CacheKey, cache: opts.Cache, log: log}
	if r.cacheKey == "" {
		r.cacheKey = path
	}
	if err := r.init(ctx, opts); err != nil {
		_ = phys.Close()
		return nil, err
	}
	log.Debug("file opened",
		zap.String("schema", r.footer.Schema),
		zap.Uint64("rows", r.footer.NumberOfRows),
		zap.Int("row_groups", len(r.footer.RowGroups)))
	return r, nil
}

func (r *Reader) init(ctx context.Context, opts *Options) error {
	size := r.phys.Size()
	if size < int64(len(format.Magic))+format.PostScriptSize {
		return errors.Newf(errors.ErrorTypeFormatCorruption, "file of %d bytes is too small", size).
			WithDetail("path", r.path)
	}

	tail := pool.GlobalBufferPool.Get(format.PostScriptSize)
	defer pool.GlobalBufferPool.Put(tail)
	if err := r.readAt(ctx, tail, size-format.PostScriptSize, nil); err != nil {
		return err
	}
	ps, err := format.ParsePostScript(tail, size)
	if err != nil {
		return err
	}
	r.postScript = ps

	head := pool.GlobalBufferPool.Get(len(format.Magic))
	defer pool.GlobalBufferPool.Put(head)
	if err := r.readAt(ctx, head, 0, nil); err != nil {
		return err
	}
	if err := format.CheckHeader(head); err != nil {
		return err
	}

	fb := make([]byte, ps.FooterLength)
	if err := r.readAt(ctx, fb, int64(ps.FooterOffset), nil); err != nil {
		return err
	}
	footer, err := format.UnmarshalFooter(fb, ps.FooterCRC)
	if err != nil {
		return err
	}
	s, err := schema.Parse(footer.Schema)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormatCorruption, "parse file schema")
	}
	r.footer, r.schema, r.leaves = footer, s, s.Leaves()

	for i, rg := range footer.RowGroupStats {
		if len(rg) != len(r.leaves) {
			return errors.Newf(errors.ErrorTypeFormatCorruption,
				"row group %d has statistics for %d columns, schema has %d", i, len(rg), len(r.leaves))
		}
	}
	if len(footer.ColumnStats) != 0 && len(footer.ColumnStats) != len(r.leaves) {
		return errors.Newf(errors.ErrorTypeFormatCorruption,
			"file statistics cover %d columns, schema has %d", len(footer.ColumnStats), len(r.leaves))
	}

	algo, err := compression.ParseAlgorithm(footer.Compression)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormatCorruption, "file compression")
	}
	level, err := compression.ParseLevel(footer.CompressionLevel)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormatCorruption, "file compression level")
	}
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: level})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormatCorruption, "file compressor")
	}
	r.encOpts = &encoding.Options{Compressor: comp}

	n := opts.FooterCacheSize
	if n <= 0 {
		n = defaultFooterCacheSize
	}
	r.rgFooters, err = lru.New[int, *format.RowGroupFooter](n)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "row group footer cache")
	}
	return nil
}

// readAt reads p at off from storage, accounting for it in io when set.
func (r *Reader) readAt(ctx context.Context, p []byte, off int64, io *ioStats) error {
	start := time.Now()
	if err := r.phys.ReadAt(ctx, p, off); err != nil {
		return err
	}
	metrics.ReaderRequests.Inc()
	metrics.ReaderBytes.WithLabelValues(metrics.SourceStorage).Add(float64(len(p)))
	if io != nil {
		io.requests++
		io.bytes += int64(len(p))
		io.nanos += time.Since(start).Nanoseconds()
	}
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }

// Schema returns the file schema.
func (r *Reader) Schema() *schema.TypeDescription { return r.schema }

// NumberOfRows returns the total row count.
func (r *Reader) NumberOfRows() uint64 { return r.footer.NumberOfRows }

// NumRowGroups returns the number of row groups.
func (r *Reader) NumRowGroups() int { return len(r.footer.RowGroups) }

// RowGroupInfo returns the location of row group i.
func (r *Reader) RowGroupInfo(i int) (format.RowGroupInformation, error) {
	if i < 0 || i >= len(r.footer.RowGroups) {
		return format.RowGroupInformation{}, errors.Newf(errors.ErrorTypeValidation, "row group %d out of range [0,%d)", i, len(r.footer.RowGroups))
	}
	return r.footer.RowGroups[i], nil
}

// RowGroupStatistics returns the aggregate statistics of row group i, one
// entry per leaf column.
func (r *Reader) RowGroupStatistics(i int) ([]stats.Statistics, error) {
	if _, err := r.RowGroupInfo(i); err != nil {
		return nil, err
	}
	return r.footer.RowGroupStats[i], nil
}

// ColumnStatistics returns file-level statistics, one entry per leaf column.
func (r *Reader) ColumnStatistics() []stats.Statistics { return r.footer.ColumnStats }

// PixelStride returns the maximum rows per pixel.
func (r *Reader) PixelStride() int { return int(r.footer.PixelStride) }

// Compression returns the pixel compression algorithm.
func (r *Reader) Compression() compression.Algorithm {
	return compression.Algorithm(r.footer.Compression)
}

// Version returns the layout version.
func (r *Reader) Version() uint32 { return r.postScript.Version }

// Timezone returns the writer timezone, if recorded.
func (r *Reader) Timezone() string { return r.footer.Timezone }

// IsPartitioned reports whether row groups carry partition hashes.
func (r *Reader) IsPartitioned() bool { return r.footer.Partitioned }

// KeyColumnIDs returns the partition key columns of a partitioned file.
func (r *Reader) KeyColumnIDs() []int { return r.footer.KeyColumnIDs }

// PartitionHashes returns the distinct partition hashes in row-group order.
func (r *Reader) PartitionHashes() []int32 {
	var out []int32
	seen := make(map[int32]bool)
	for _, rg := range r.footer.RowGroups {
		if rg.PartitionHash == format.NoPartition || seen[rg.PartitionHash] {
			continue
		}
		seen[rg.PartitionHash] = true
		out = append(out, rg.PartitionHash)
	}
	return out
}

// Footer returns the decoded file footer.
func (r *Reader) Footer() *format.Footer { return r.footer }

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.phys.Size() }

// RowGroupFooter returns the chunk index of row group i.
func (r *Reader) RowGroupFooter(ctx context.Context, i int) (*format.RowGroupFooter, error) {
	return r.rowGroupFooter(ctx, i, nil)
}

func (r *Reader) rowGroupFooter(ctx context.Context, i int, io *ioStats) (*format.RowGroupFooter, error) {
	info, err := r.RowGroupInfo(i)
	if err != nil {
		return nil, err
	}
	if f, ok := r.rgFooters.Get(i); ok {
		return f, nil
	}
	if info.FooterOffset+uint64(info.FooterLength) > r.postScript.FooterOffset {
		return nil, errors.Newf(errors.ErrorTypeFormatCorruption, "row group %d footer lies past the file footer", i)
	}
	b := make([]byte, info.FooterLength)
	if err := r.readAt(ctx, b, int64(info.FooterOffset), io); err != nil {
		return nil, err
	}
	f, err := format.UnmarshalRowGroupFooter(b, info.FooterCRC)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormatCorruption, "row group footer").WithDetail("row_group", i)
	}
	if err := r.checkRowGroup(i, info, f); err != nil {
		return nil, err
	}
	r.rgFooters.Add(i, f)
	return f, nil
}

// checkRowGroup verifies that every chunk lies inside the row group and that
// all columns agree on pixel boundaries.
func (r *Reader) checkRowGroup(i int, info format.RowGroupInformation, f *format.RowGroupFooter) error {
	bad := func(msg string, args ...interface{}) error {
		return errors.Newf(errors.ErrorTypeFormatCorruption, msg, args...).WithDetail("row_group", i)
	}
	if len(f.Columns) != len(r.leaves) {
		return bad("row group indexes %d columns, schema has %d", len(f.Columns), len(r.leaves))
	}
	for c, col := range f.Columns {
		if col.ChunkOffset < info.Offset || col.ChunkOffset+col.ChunkLength > info.FooterOffset {
			return bad("column %d chunk [%d,+%d) outside the row group", c, col.ChunkOffset, col.ChunkLength)
		}
		if len(col.Pixels) != len(f.Columns[0].Pixels) {
			return bad("column %d has %d pixels, column 0 has %d", c, len(col.Pixels), len(f.Columns[0].Pixels))
		}
		var rows uint64
		for p, px := range col.Pixels {
			if px.Offset+px.Length > col.ChunkLength || px.Offset+px.Length < px.Offset {
				return bad("column %d pixel %d outside its chunk", c, p)
			}
			if px.Rows != f.Columns[0].Pixels[p].Rows {
				return bad("column %d pixel %d has %d rows, column 0 has %d", c, p, px.Rows, f.Columns[0].Pixels[p].Rows)
			}
			rows += uint64(px.Rows)
		}
		if rows != info.NumRows {
			return bad("column %d pixels hold %d rows, row group has %d", c, rows, info.NumRows)
		}
	}
	return nil
}

// Close releases the underlying object.
func (r *Reader) Close() error {
	r.rgFooters.Purge()
	return r.phys.Close()
}
