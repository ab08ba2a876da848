// Package worker runs partition tasks: it scans a set of file splits
// concurrently, filters and projects their rows, hash partitions them on key
// columns and writes one partitioned file whose row groups are grouped by
// partition hash.
package worker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/observability"
	"github.com/ajitpratap0/pixels/pkg/partition"
	"github.com/ajitpratap0/pixels/pkg/predicate"
	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/scanner"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/storage"
	"github.com/ajitpratap0/pixels/pkg/vector"
	"github.com/ajitpratap0/pixels/pkg/writer"
)

// Split is a window of row groups of one input file. RGLength <= 0 reads to
// the end of the file.
type Split struct {
	Path     string
	RGStart  int
	RGLength int
}

// Task describes one partition job.
type Task struct {
	Splits []Split
	// Projection lists the output columns; empty keeps every column.
	Projection []string
	Filter     *predicate.Expr
	// KeyColumns name the output columns rows are hashed on.
	KeyColumns    []string
	NumPartitions int
	OutputPath    string
}

// Result reports what a task produced.
type Result struct {
	OutputPath string
	// HashValues lists the partitions that received rows, ascending.
	HashValues    []int32
	RowsRead      int64
	RowsWritten   int64
	ReadBytes     int64
	ReadRequests  int64
	ReadTimeNanos int64
	WriteBytes    int64
	WriteRequests int64
	Duration      time.Duration
}

// Config holds what every task of a worker shares.
type Config struct {
	Storage storage.Storage
	// Cache is optional.
	Cache  reader.ChunkCache
	Reader config.ReaderConfig
	Writer config.WriterConfig
	// Parallelism bounds the splits scanned at once.
	Parallelism int
	Logger      *zap.Logger
}

// PartitionWorker executes partition tasks.
type PartitionWorker struct {
	cfg Config
	log *zap.Logger
}

// New creates a worker.
func New(cfg Config) (*PartitionWorker, error) {
	if cfg.Storage == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "worker needs a storage backend")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Reader.BatchSize <= 0 {
		cfg.Reader.BatchSize = vector.DefaultSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("worker")
	}
	return &PartitionWorker{cfg: cfg, log: log}, nil
}

type scanStats struct {
	rows, bytes, requests, nanos atomic.Int64
}

// Run executes task. Nothing is left at the output path when it fails.
func (w *PartitionWorker) Run(ctx context.Context, task Task) (res *Result, err error) {
	started := time.Now()
	ctx, span := observability.StartSpan(ctx, "worker.partition")
	span.SetAttribute("output", task.OutputPath)
	span.SetAttribute("splits", len(task.Splits))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	if len(task.Splits) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "partition task has no input splits")
	}
	if task.OutputPath == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "partition task has no output path")
	}
	ctx = context.WithValue(ctx, logger.FileKey, task.OutputPath)
	log := logger.FromContext(ctx, w.log)

	readCols, err := w.readColumns(ctx, task)
	if err != nil {
		return nil, err
	}
	input, err := w.inputSchema(ctx, task.Splits[0].Path, readCols, task.Filter)
	if err != nil {
		return nil, err
	}
	// the reader has already applied the filter; the scanner drops the
	// columns only the filter needed
	scan, err := scanner.New(input, task.Projection, nil)
	if err != nil {
		return nil, err
	}
	out := scan.OutputSchema()

	keyIDs := make([]int, len(task.KeyColumns))
	for i, name := range task.KeyColumns {
		if keyIDs[i] = out.LeafIndex(name); keyIDs[i] < 0 {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "key column %q is not projected", name)
		}
	}
	parts, err := partition.NewPartitioner(task.NumPartitions, w.cfg.Reader.BatchSize, out, keyIDs)
	if err != nil {
		return nil, err
	}

	var st scanStats
	byHash, err := w.scanAndPartition(ctx, task, readCols, input, scan, parts, &st, log)
	if err != nil {
		return nil, err
	}

	res = &Result{
		OutputPath:    task.OutputPath,
		RowsRead:      st.rows.Load(),
		ReadBytes:     st.bytes.Load(),
		ReadRequests:  st.requests.Load(),
		ReadTimeNanos: st.nanos.Load(),
	}
	if err := w.write(ctx, task.OutputPath, out, keyIDs, byHash, res); err != nil {
		return nil, err
	}
	res.Duration = time.Since(started)

	log.Info("partition task complete",
		zap.Int("splits", len(task.Splits)),
		zap.Int64("rows_read", res.RowsRead),
		zap.Int64("rows_written", res.RowsWritten),
		zap.Int("partitions", len(res.HashValues)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// readColumns returns the projection followed by any filter column it lacks.
func (w *PartitionWorker) readColumns(ctx context.Context, task Task) ([]string, error) {
	cols := task.Projection
	if len(cols) == 0 {
		r, err := reader.Open(ctx, w.cfg.Storage, task.Splits[0].Path, w.readerOptions())
		if err != nil {
			return nil, err
		}
		for _, leaf := range r.Schema().Leaves() {
			cols = append(cols, leaf.Name)
		}
		if err := r.Close(); err != nil {
			return nil, err
		}
	}
	if task.Filter == nil {
		return cols, nil
	}
	seen := make(map[string]bool, len(cols))
	out := append([]string(nil), cols...)
	for _, c := range cols {
		seen[c] = true
	}
	for _, c := range task.Filter.Columns() {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (w *PartitionWorker) readerOptions() *reader.Options {
	opts := reader.OptionsFromConfig(w.cfg.Reader)
	opts.Cache = w.cfg.Cache
	opts.Logger = w.log
	return opts
}

func (w *PartitionWorker) readOptions(cols []string, filter *predicate.Expr, split Split) reader.ReadOptions {
	ro := reader.ReadOptionsFromConfig(w.cfg.Reader)
	ro.IncludeCols = cols
	ro.Predicate = filter
	ro.RGStart = split.RGStart
	ro.RGLength = split.RGLength
	return ro
}

// inputSchema resolves the batch layout every split must produce.
func (w *PartitionWorker) inputSchema(ctx context.Context, path string, cols []string, filter *predicate.Expr) (*schema.TypeDescription, error) {
	r, err := reader.Open(ctx, w.cfg.Storage, path, w.readerOptions())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rr, err := r.Read(ctx, w.readOptions(cols, filter, Split{Path: path}))
	if err != nil {
		return nil, err
	}
	return rr.Schema(), nil
}

// scanAndPartition reads every split on a bounded pool and routes the rows
// through the scanner and partitioner on the calling goroutine.
func (w *PartitionWorker) scanAndPartition(ctx context.Context, task Task, cols []string, input *schema.TypeDescription,
	scan *scanner.Scanner, parts *partition.Partitioner, st *scanStats, log *zap.Logger) (map[int][]*vector.RowBatch, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan *vector.RowBatch, 2*w.cfg.Parallelism)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)

	var scanErr error
	var done sync.WaitGroup
	done.Add(1)
	go func() {
		defer done.Done()
		for _, split := range task.Splits {
			g.Go(func() error {
				return w.scanSplit(gctx, split, cols, task.Filter, input, batches, st, log)
			})
		}
		scanErr = g.Wait()
		close(batches)
	}()

	byHash := make(map[int][]*vector.RowBatch)
	var consumeErr error
	for b := range batches {
		if consumeErr != nil {
			continue
		}
		projected, err := scan.FilterAndProject(b)
		if err == nil {
			var full []partition.Output
			if full, err = parts.Partition(projected); err == nil {
				for _, o := range full {
					byHash[o.Hash] = append(byHash[o.Hash], o.Batch)
				}
			}
		}
		if err != nil {
			consumeErr = err
			cancel()
		}
	}
	done.Wait()

	if consumeErr != nil {
		return nil, consumeErr
	}
	if scanErr != nil {
		return nil, scanErr
	}
	for _, o := range parts.Flush() {
		byHash[o.Hash] = append(byHash[o.Hash], o.Batch)
	}
	return byHash, nil
}

func (w *PartitionWorker) scanSplit(ctx context.Context, split Split, cols []string, filter *predicate.Expr,
	input *schema.TypeDescription, batches chan<- *vector.RowBatch, st *scanStats, log *zap.Logger) error {

	r, err := reader.Open(ctx, w.cfg.Storage, split.Path, w.readerOptions())
	if err != nil {
		return err
	}
	defer r.Close()

	rr, err := r.Read(ctx, w.readOptions(cols, filter, split))
	if err != nil {
		return err
	}
	defer rr.Close()
	if !rr.Schema().Equal(input) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "split reads as %s, expected %s", rr.Schema(), input).
			WithDetail("path", split.Path)
	}

	for {
		b, err := rr.ReadBatch(ctx, w.cfg.Reader.BatchSize)
		if err != nil {
			return err
		}
		if b.Size > 0 {
			st.rows.Add(int64(b.Size))
			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if b.EndOfFile {
			break
		}
	}
	st.bytes.Add(rr.CompletedBytes())
	st.requests.Add(rr.NumReadRequests())
	st.nanos.Add(rr.ReadTimeNanos())
	log.Debug("split scanned",
		zap.String("path", split.Path),
		zap.Int("rg_start", split.RGStart),
		zap.Int64("bytes", rr.CompletedBytes()))
	return nil
}

// write emits the partitions in hash order so each hash owns a contiguous run
// of row groups.
func (w *PartitionWorker) write(ctx context.Context, path string, s *schema.TypeDescription, keyIDs []int,
	byHash map[int][]*vector.RowBatch, res *Result) (err error) {

	opts, err := writer.FromConfig(w.cfg.Writer, s)
	if err != nil {
		return err
	}
	opts.Partitioned = true
	opts.KeyColumnIDs = keyIDs
	opts.Logger = w.log

	fw, err := writer.New(ctx, w.cfg.Storage, path, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fw.Abort()
		}
	}()

	hashes := make([]int, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Ints(hashes)
	for _, h := range hashes {
		for _, b := range byHash[h] {
			if err := fw.AddRowBatchWithHash(ctx, b, int32(h)); err != nil {
				return err
			}
			res.RowsWritten += int64(b.Size)
		}
		res.HashValues = append(res.HashValues, int32(h))
	}
	if err := fw.Close(ctx); err != nil {
		return err
	}
	res.WriteBytes = fw.CompletedBytes()
	res.WriteRequests = fw.NumWriteRequests()
	return nil
}
