package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/stats"
)

// fileSummary is the machine-readable form of inspect.
type fileSummary struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	Version      uint32            `json:"version"`
	Schema       string            `json:"schema"`
	Rows         uint64            `json:"rows"`
	PixelStride  int               `json:"pixel_stride"`
	Compression  string            `json:"compression"`
	Timezone     string            `json:"timezone,omitempty"`
	Partitioned  bool              `json:"partitioned"`
	KeyColumnIDs []int             `json:"key_column_ids,omitempty"`
	Columns      []columnSummary   `json:"columns"`
	RowGroups    []rowGroupSummary `json:"row_groups,omitempty"`
}

type columnSummary struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Min         string `json:"min,omitempty"`
	Max         string `json:"max,omitempty"`
	Nulls       uint64 `json:"nulls"`
	NumDistinct uint64 `json:"num_distinct"`
	Bytes       uint64 `json:"bytes,omitempty"`
}

type rowGroupSummary struct {
	Index         int    `json:"index"`
	Offset        uint64 `json:"offset"`
	DataLength    uint64 `json:"data_length"`
	Rows          uint64 `json:"rows"`
	StartRow      uint64 `json:"start_row"`
	PartitionHash int32  `json:"partition_hash"`
	Pixels        int    `json:"pixels,omitempty"`
}

func (a *app) inspectCommand() *cobra.Command {
	var asJSON, rowGroups bool
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the footer of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.summarize(cmd, args[0], rowGroups)
			if err != nil {
				return err
			}
			if asJSON {
				enc := gojson.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&rowGroups, "row-groups", false, "Include every row group and its chunk sizes")
	return cmd
}

func (a *app) summarize(cmd *cobra.Command, uri string, rowGroups bool) (*fileSummary, error) {
	ctx := cmd.Context()
	st, key, err := a.storageFor(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	r, err := reader.Open(ctx, st, key, &reader.Options{Logger: a.log})
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sum := &fileSummary{
		Path:         uri,
		Size:         r.Size(),
		Version:      r.Version(),
		Schema:       r.Schema().String(),
		Rows:         r.NumberOfRows(),
		PixelStride:  r.PixelStride(),
		Compression:  string(r.Compression()),
		Timezone:     r.Timezone(),
		Partitioned:  r.IsPartitioned(),
		KeyColumnIDs: r.KeyColumnIDs(),
	}
	colStats := r.ColumnStatistics()
	for i, leaf := range r.Schema().Leaves() {
		sum.Columns = append(sum.Columns, columnFrom(leaf.Name, leaf.Type.String(), colStats[i]))
	}
	if !rowGroups {
		return sum, nil
	}
	for i := 0; i < r.NumRowGroups(); i++ {
		info, err := r.RowGroupInfo(i)
		if err != nil {
			return nil, err
		}
		rgf, err := r.RowGroupFooter(ctx, i)
		if err != nil {
			return nil, err
		}
		rg := rowGroupSummary{
			Index:         i,
			Offset:        info.Offset,
			DataLength:    info.DataLength,
			Rows:          info.NumRows,
			StartRow:      info.StartRow,
			PartitionHash: info.PartitionHash,
		}
		for c, chunk := range rgf.Columns {
			sum.Columns[c].Bytes += chunk.ChunkLength
			if c == 0 {
				rg.Pixels = len(chunk.Pixels)
			}
		}
		sum.RowGroups = append(sum.RowGroups, rg)
	}
	return sum, nil
}

func columnFrom(name, typ string, s stats.Statistics) columnSummary {
	c := columnSummary{Name: name, Type: typ, Nulls: s.NullCount, NumDistinct: s.NumDistinct}
	if s.HasMinMax() {
		c.Min, c.Max = s.Min.String(), s.Max.String()
	}
	return c
}

func printSummary(out io.Writer, s *fileSummary) error {
	fmt.Fprintf(out, "File:        %s (%s, format v%d)\n", s.Path, humanize.IBytes(uint64(s.Size)), s.Version)
	fmt.Fprintf(out, "Schema:      %s\n", s.Schema)
	fmt.Fprintf(out, "Rows:        %s\n", humanize.Comma(int64(s.Rows)))
	fmt.Fprintf(out, "Pixel:       %s rows\n", humanize.Comma(int64(s.PixelStride)))
	fmt.Fprintf(out, "Compression: %s\n", s.Compression)
	if s.Partitioned {
		fmt.Fprintf(out, "Partitioned: by columns %v\n", s.KeyColumnIDs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCOLUMN\tTYPE\tMIN\tMAX\tNULLS\tDISTINCT\tSIZE")
	for _, c := range s.Columns {
		size := "-"
		if c.Bytes > 0 {
			size = humanize.IBytes(c.Bytes)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t~%s\t%s\n", c.Name, c.Type, orDash(c.Min), orDash(c.Max),
			humanize.Comma(int64(c.Nulls)), humanize.Comma(int64(c.NumDistinct)), size)
	}
	if len(s.RowGroups) > 0 {
		fmt.Fprintln(tw, "\nROW GROUP\tOFFSET\tSIZE\tROWS\tPIXELS\tHASH")
		for _, rg := range s.RowGroups {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%d\n", rg.Index, rg.Offset, humanize.IBytes(rg.DataLength),
				humanize.Comma(int64(rg.Rows)), rg.Pixels, rg.PartitionHash)
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
