package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/predicate"
	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

type scanFlags struct {
	columns     []string
	filter      string
	filterFile  string
	limit       int64
	print       bool
	batchSize   int
	rgStart     int
	rgLength    int
	hash        int32
	tolerant    bool
	skipCorrupt bool
	noSkip      bool
}

func (a *app) scanCommand() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Read a file with an optional projection and filter",
		Long: `Read rows from a file. Filters are JSON predicates and prune row groups and
pixels by their statistics before any data is decoded.

Example:
  pixels scan --columns id,name --filter '{"op":"gt","column":"id","value":{"int":50000}}' /tmp/t.pxl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scan(cmd, args[0], f)
		},
	}
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "Columns to read; all when empty")
	cmd.Flags().StringVar(&f.filter, "filter", "", "JSON predicate")
	cmd.Flags().StringVar(&f.filterFile, "filter-file", "", "File holding a JSON predicate")
	cmd.Flags().Int64Var(&f.limit, "limit", 0, "Stop after this many rows; 0 reads everything")
	cmd.Flags().BoolVar(&f.print, "print", false, "Print rows as tab-separated values")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Rows per batch; overrides the configuration")
	cmd.Flags().IntVar(&f.rgStart, "rg-start", 0, "First row group to read")
	cmd.Flags().IntVar(&f.rgLength, "rg-length", 0, "Number of row groups to read; 0 reads to the end")
	cmd.Flags().Int32Var(&f.hash, "hash", -1, "Read only the row groups of this partition hash")
	cmd.Flags().BoolVar(&f.tolerant, "tolerant", false, "Read unknown columns as nulls")
	cmd.Flags().BoolVar(&f.skipCorrupt, "skip-corrupt", false, "Skip pixels that fail their checksum")
	cmd.Flags().BoolVar(&f.noSkip, "no-skip", false, "Decode every pixel instead of pruning by statistics")
	return cmd
}

func loadFilter(f scanFlags) (*predicate.Expr, error) {
	data := []byte(f.filter)
	if f.filterFile != "" {
		var err error
		if data, err = os.ReadFile(f.filterFile); err != nil {
			return nil, fmt.Errorf("failed to read filter file %s: %w", f.filterFile, err)
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	return predicate.Parse(data)
}

func (a *app) scan(cmd *cobra.Command, uri string, f scanFlags) (err error) {
	ctx := cmd.Context()
	filter, err := loadFilter(f)
	if err != nil {
		return err
	}
	st, key, err := a.storageFor(ctx, uri)
	if err != nil {
		return err
	}
	defer st.Close()
	opts, closeCache, err := a.readerOptions()
	if err != nil {
		return err
	}
	defer closeCache()

	started := time.Now()
	r, err := reader.Open(ctx, st, key, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	ro := reader.ReadOptionsFromConfig(a.cfg.Reader)
	ro.IncludeCols = f.columns
	ro.Predicate = filter
	ro.RGStart = f.rgStart
	ro.RGLength = f.rgLength
	ro.TolerantSchemaEvolution = ro.TolerantSchemaEvolution || f.tolerant
	ro.SkipCorruptRecords = ro.SkipCorruptRecords || f.skipCorrupt
	ro.DisableSkip = f.noSkip
	if f.hash >= 0 {
		h := f.hash
		ro.HashValue = &h
	}
	rr, err := r.Read(ctx, ro)
	if err != nil {
		return err
	}
	defer rr.Close()

	batchSize := a.cfg.Reader.BatchSize
	if f.batchSize > 0 {
		batchSize = f.batchSize
	}
	out := cmd.OutOrStdout()
	if f.print {
		fmt.Fprintln(out, strings.Join(leafNames(rr), "\t"))
	}

	var rows int64
	for {
		b, err := rr.ReadBatch(ctx, batchSize)
		if err != nil {
			return err
		}
		n := b.Size
		if f.limit > 0 && rows+int64(n) > f.limit {
			n = int(f.limit - rows)
		}
		if f.print {
			printRows(out, b, n)
		}
		rows += int64(n)
		if b.EndOfFile || (f.limit > 0 && rows >= f.limit) {
			break
		}
	}

	elapsed := time.Since(started)
	a.log.Info("scan complete",
		zap.String("path", uri),
		zap.Int64("rows", rows),
		zap.Int64("rows_decoded", rr.RowsDecoded()),
		zap.Int64("bytes", rr.CompletedBytes()),
		zap.Int64("read_requests", rr.NumReadRequests()),
		zap.Duration("read_time", time.Duration(rr.ReadTimeNanos())),
		zap.Duration("duration", elapsed))
	fmt.Fprintf(cmd.ErrOrStderr(), "%s rows (%s decoded) of %s, read %s in %s requests, %s\n",
		humanize.Comma(rows),
		humanize.Comma(rr.RowsDecoded()),
		humanize.Comma(int64(r.NumberOfRows())),
		humanize.IBytes(uint64(rr.CompletedBytes())),
		humanize.Comma(rr.NumReadRequests()),
		elapsed.Round(time.Millisecond))
	return nil
}

func leafNames(rr *reader.RecordReader) []string {
	leaves := rr.Schema().Leaves()
	names := make([]string, len(leaves))
	for i, l := range leaves {
		names[i] = l.Name
	}
	return names
}

func printRows(out io.Writer, b *vector.RowBatch, n int) {
	cells := make([]string, len(b.Cols))
	for row := 0; row < n; row++ {
		for c, col := range b.Cols {
			cells[c] = formatCell(col, row)
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
}

func formatCell(v vector.ColumnVector, row int) string {
	if v.IsNullAt(row) {
		return "null"
	}
	lv, ok := v.(*vector.ListColumnVector)
	if !ok {
		return v.Value(row).String()
	}
	items := make([]string, lv.Lengths[row])
	for i := range items {
		items[i] = formatCell(lv.Child, int(lv.Offsets[row])+i)
	}
	return "[" + strings.Join(items, ",") + "]"
}
