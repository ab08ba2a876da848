package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/pixels/internal/worker"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/storage"
)

type partitionFlags struct {
	output       string
	keys         []string
	partitions   int
	columns      []string
	filter       string
	filterFile   string
	parallelism  int
	splitRGCount int
}

func (a *app) partitionCommand() *cobra.Command {
	var f partitionFlags
	cmd := &cobra.Command{
		Use:   "partition <input>...",
		Short: "Hash-partition input files into one partitioned file",
		Long: `Scan the inputs, keep the rows matching the filter, and write them to one file
whose row groups each hold a single hash of the key columns. Inputs and output
must live on the same storage backend.

Example:
  pixels partition --out /tmp/p.pxl --key id --partitions 8 /tmp/a.pxl /tmp/b.pxl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.partition(cmd, args, f)
		},
	}
	cmd.Flags().StringVarP(&f.output, "out", "o", "", "Output location (required)")
	cmd.Flags().StringSliceVar(&f.keys, "key", nil, "Key columns (required)")
	cmd.Flags().IntVarP(&f.partitions, "partitions", "p", 8, "Number of partitions")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "Columns to keep; all when empty")
	cmd.Flags().StringVar(&f.filter, "filter", "", "JSON predicate")
	cmd.Flags().StringVar(&f.filterFile, "filter-file", "", "File holding a JSON predicate")
	cmd.Flags().IntVar(&f.parallelism, "parallelism", 4, "Splits scanned concurrently")
	cmd.Flags().IntVar(&f.splitRGCount, "split-row-groups", 0, "Split inputs into windows of this many row groups; 0 keeps one split per file")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (a *app) partition(cmd *cobra.Command, inputs []string, f partitionFlags) error {
	ctx := cmd.Context()
	filter, err := loadFilter(scanFlags{filter: f.filter, filterFile: f.filterFile})
	if err != nil {
		return err
	}
	st, outKey, err := a.storageFor(ctx, f.output)
	if err != nil {
		return err
	}
	defer st.Close()
	outScheme, outBucket, _, _ := storage.ParseURI(f.output)

	opts, closeCache, err := a.readerOptions()
	if err != nil {
		return err
	}
	defer closeCache()

	var splits []worker.Split
	for _, in := range inputs {
		scheme, bucket, key, err := storage.ParseURI(in)
		if err != nil {
			return err
		}
		if scheme != outScheme || bucket != outBucket {
			return errors.Newf(errors.ErrorTypeValidation, "input %s is not on the output backend %s", in, f.output)
		}
		if f.splitRGCount <= 0 {
			splits = append(splits, worker.Split{Path: key})
			continue
		}
		r, err := reader.Open(ctx, st, key, &reader.Options{Logger: a.log})
		if err != nil {
			return err
		}
		n := r.NumRowGroups()
		_ = r.Close()
		for start := 0; start < n; start += f.splitRGCount {
			splits = append(splits, worker.Split{Path: key, RGStart: start, RGLength: f.splitRGCount})
		}
	}

	w, err := worker.New(worker.Config{
		Storage:     st,
		Cache:       opts.Cache,
		Reader:      a.cfg.Reader,
		Writer:      a.cfg.Writer,
		Parallelism: f.parallelism,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}
	res, err := w.Run(ctx, worker.Task{
		Splits:        splits,
		Projection:    f.columns,
		Filter:        filter,
		KeyColumns:    f.keys,
		NumPartitions: f.partitions,
		OutputPath:    outKey,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s rows in %d partitions %v, read %s, wrote %s in %s\n",
		f.output,
		humanize.Comma(res.RowsWritten),
		len(res.HashValues), res.HashValues,
		humanize.IBytes(uint64(res.ReadBytes)),
		humanize.IBytes(uint64(res.WriteBytes)),
		res.Duration)
	return nil
}
