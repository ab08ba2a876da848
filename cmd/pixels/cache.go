package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/pixels/pkg/cache"
	"github.com/ajitpratap0/pixels/pkg/reader"
)

func (a *app) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the shared chunk cache",
	}

	var asJSON bool
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print occupancy of the cache region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open(a.cfg.Cache, cache.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer c.Close()
			s := c.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				return gojson.NewEncoder(out).Encode(s)
			}
			fmt.Fprintf(out, "Region:    %s (%s)\n", c.Path(), humanize.IBytes(uint64(s.Capacity)))
			fmt.Fprintf(out, "Data:      %s of %s used\n", humanize.IBytes(uint64(s.UsedBytes)), humanize.IBytes(uint64(s.DataSize)))
			fmt.Fprintf(out, "Entries:   %s of %s slots\n", humanize.Comma(int64(s.Entries)), humanize.Comma(int64(s.Slots)))
			fmt.Fprintf(out, "Evictions: %s\n", humanize.Comma(int64(s.Evictions)))
			return nil
		},
	}
	stats.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	var columns []string
	warm := &cobra.Command{
		Use:   "warm <file>...",
		Short: "Read files through the cache so later scans find their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Cache
			cfg.Enabled = true
			c, err := cache.Open(cfg, cache.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer c.Close()
			for _, uri := range args {
				n, err := a.warm(cmd, c, uri, columns)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s fetched\n", uri, humanize.IBytes(uint64(n)))
			}
			return nil
		},
	}
	warm.Flags().StringSliceVar(&columns, "columns", nil, "Columns to load; all when empty")

	cmd.AddCommand(stats, warm)
	return cmd
}

// warm scans uri with c attached and returns the bytes read from storage.
func (a *app) warm(cmd *cobra.Command, c *cache.Cache, uri string, columns []string) (int64, error) {
	ctx := cmd.Context()
	st, key, err := a.storageFor(ctx, uri)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	opts := reader.OptionsFromConfig(a.cfg.Reader)
	opts.Logger = a.log
	opts.Cache = c
	r, err := reader.Open(ctx, st, key, opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	ro := reader.ReadOptionsFromConfig(a.cfg.Reader)
	ro.IncludeCols = columns
	rr, err := r.Read(ctx, ro)
	if err != nil {
		return 0, err
	}
	defer rr.Close()
	for {
		b, err := rr.ReadBatch(ctx, a.cfg.Reader.BatchSize)
		if err != nil {
			return 0, err
		}
		if b.EndOfFile {
			return rr.CompletedBytes(), nil
		}
	}
}
