// Package pixels is a columnar file format and reader library with a shared,
// memory-mapped chunk cache.
//
// A file is a sequence of row groups. Each row group holds one column chunk
// per leaf column, and each chunk is cut into pixels of a fixed number of rows
// carrying min/max/null statistics. Readers prune row groups and pixels with a
// predicate before any data is decoded.
//
// # Writing
//
//	s := schema.MustParse("struct<id:bigint,name:string>")
//	w, err := writer.New(ctx, storage.NewLocal(), "/data/t.pxl", writer.DefaultOptions(s))
//	...
//	err = w.AddRowBatch(ctx, batch)
//	err = w.Close(ctx)
//
// # Reading
//
//	r, err := reader.Open(ctx, storage.NewLocal(), "/data/t.pxl", nil)
//	rr, err := r.Read(ctx, reader.ReadOptions{
//	    IncludeCols: []string{"id"},
//	    Predicate:   predicate.Gt("id", value.Int64(50000)),
//	})
//	for {
//	    b, err := rr.ReadBatch(ctx, 1024)
//	    ...
//	    if b.EndOfFile {
//	        break
//	    }
//	}
//
// # Key Packages
//
//	pkg/schema      - Type descriptions and the struct<...> schema syntax
//	pkg/vector      - Column vectors and row batches
//	pkg/encoding    - Pixel codecs (run-length, delta, dictionary, bit-packing)
//	pkg/format      - Header, footers and postscript
//	pkg/writer      - File writer with partitioned output
//	pkg/reader      - File reader, record reader and statistics pruning
//	pkg/predicate   - Filter expressions and their evaluation
//	pkg/cache       - Cross-process chunk cache over pkg/mmap
//	pkg/storage     - Local, S3 and GCS backends
//	pkg/partition   - Hash partitioning of row batches
//	internal/worker - Partition tasks over file splits
//
// Configuration is YAML with ${VAR_NAME} substitution; see pkg/config.
package pixels
