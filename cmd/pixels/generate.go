package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/storage"
	"github.com/ajitpratap0/pixels/pkg/vector"
	"github.com/ajitpratap0/pixels/pkg/writer"
)

type generateFlags struct {
	schema      string
	rows        int
	seed        int64
	nullEvery   int
	distinct    int
	stride      int
	compression string
}

func (a *app) generateCommand() *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate <output>",
		Short: "Write a file of synthetic rows",
		Long: `Write a file of pseudo-random rows for the given schema. The output may be a
local path or an s3:// or gs:// location.

Example:
  pixels generate --schema 'struct<id:bigint,name:string,score:double>' --rows 1000000 /tmp/t.pxl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.generate(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.schema, "schema", "s", "", "Row schema, e.g. struct<a:int,b:string> (required)")
	cmd.Flags().IntVarP(&f.rows, "rows", "n", 100000, "Number of rows")
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&f.nullEvery, "null-every", 0, "Make roughly one value in n null; 0 disables nulls")
	cmd.Flags().IntVar(&f.distinct, "distinct", 0, "Draw strings from this many distinct values; 0 makes them unique")
	cmd.Flags().IntVar(&f.stride, "pixel-stride", 0, "Rows per pixel; overrides the configuration")
	cmd.Flags().StringVar(&f.compression, "compression", "", "Pixel compression; overrides the configuration")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func (a *app) generate(cmd *cobra.Command, uri string, f generateFlags) error {
	ctx := cmd.Context()
	s, err := schema.Parse(f.schema)
	if err != nil {
		return err
	}
	wcfg := a.cfg.Writer
	if f.stride > 0 {
		wcfg.PixelStride = f.stride
	}
	if f.compression != "" {
		if _, err := compression.ParseAlgorithm(f.compression); err != nil {
			return err
		}
		wcfg.Compression = f.compression
	}
	opts, err := writer.FromConfig(wcfg, s)
	if err != nil {
		return err
	}
	opts.Logger = a.log

	st, key, err := a.storageFor(ctx, uri)
	if err != nil {
		return err
	}
	defer st.Close()

	gen := &rowGenerator{rng: rand.New(rand.NewSource(f.seed)), nullEvery: f.nullEvery, distinct: f.distinct}
	started := time.Now()
	w, err := writeGenerated(ctx, st, key, s, opts, gen, f.rows)
	if err != nil {
		return err
	}

	elapsed := time.Since(started)
	a.log.Info("file generated",
		zap.String("path", uri),
		zap.Int("rows", f.rows),
		zap.Int64("bytes", w.CompletedBytes()),
		zap.Duration("duration", elapsed))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s rows, %s in %s (%s/s)\n",
		humanize.Comma(int64(f.rows)),
		humanize.Bytes(uint64(w.CompletedBytes())),
		elapsed.Round(time.Millisecond),
		humanize.Bytes(uint64(float64(w.CompletedBytes())/elapsed.Seconds())))
	return nil
}

func writeGenerated(ctx context.Context, st storage.Storage, key string, s *schema.TypeDescription,
	opts *writer.Options, gen *rowGenerator, rows int) (*writer.Writer, error) {

	w, err := writer.New(ctx, st, key, opts)
	if err != nil {
		return nil, err
	}
	batch, err := s.CreateRowBatch(vector.DefaultSize)
	if err != nil {
		_ = w.Abort()
		return nil, err
	}
	leaves := s.Leaves()
	for done := 0; done < rows; {
		n := min(batch.MaxSize, rows-done)
		batch.Reset()
		gen.fill(batch, leaves, done, n)
		if err := w.AddRowBatch(ctx, batch); err != nil {
			_ = w.Abort()
			return nil, err
		}
		done += n
	}
	if err := w.Close(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
