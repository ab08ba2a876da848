package writer

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/encoding"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
)

// Options are the layout and encoding knobs of a file.
type Options struct {
	// Schema is the struct type of the rows; its leaves are the file columns.
	Schema *schema.TypeDescription
	// PixelStride is the number of rows per pixel.
	PixelStride int
	// RowGroupSize is the estimated buffered size, in bytes, at which a row
	// group is flushed. Flushes happen on pixel boundaries.
	RowGroupSize int64
	// BlockSize and BlockPadding keep a row group inside one storage block
	// when it fits in one.
	BlockSize    int64
	BlockPadding bool
	// Replication is recorded for replicated backends.
	Replication int16

	Compression         compression.Algorithm
	CompressionLevel    compression.Level
	Encoding            bool
	DictionaryThreshold float64
	// EncodeWorkers bounds the columns encoded concurrently during a flush.
	EncodeWorkers int
	Timezone      string

	// Partitioned files keep each row group to one partition hash. Rows are
	// added with AddRowBatchWithHash.
	Partitioned  bool
	KeyColumnIDs []int

	Logger *zap.Logger
}

// DefaultOptions returns options for schema s with the configuration defaults.
func DefaultOptions(s *schema.TypeDescription) *Options {
	opts, _ := FromConfig(config.NewDefault().Writer, s)
	return opts
}

// FromConfig builds options from the writer configuration section.
func FromConfig(cfg config.WriterConfig, s *schema.TypeDescription) (*Options, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "writer compression")
	}
	level, err := compression.ParseLevel(cfg.CompressionLevel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "writer compression level")
	}
	return &Options{
		Schema:              s,
		PixelStride:         cfg.PixelStride,
		RowGroupSize:        cfg.RowGroupSize,
		BlockSize:           cfg.BlockSize,
		BlockPadding:        cfg.BlockPadding,
		Replication:         int16(cfg.Replication),
		Compression:         algo,
		CompressionLevel:    level,
		Encoding:            cfg.Encoding,
		DictionaryThreshold: cfg.DictionaryThreshold,
		EncodeWorkers:       cfg.GetEncodeWorkers(),
		Timezone:            cfg.Timezone,
	}, nil
}

func (o *Options) validate() error {
	if o.Schema == nil || o.Schema.Category != schema.Struct {
		return errors.New(errors.ErrorTypeValidation, "writer schema must be a struct")
	}
	if len(o.Schema.Leaves()) == 0 {
		return errors.New(errors.ErrorTypeValidation, "writer schema has no columns")
	}
	if o.PixelStride <= 0 {
		return errors.Newf(errors.ErrorTypeValidation, "pixel stride must be positive, got %d", o.PixelStride)
	}
	if o.RowGroupSize <= 0 {
		return errors.Newf(errors.ErrorTypeValidation, "row group size must be positive, got %d", o.RowGroupSize)
	}
	if o.BlockSize < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "block size cannot be negative, got %d", o.BlockSize)
	}
	if o.DictionaryThreshold < 0 || o.DictionaryThreshold > 1 {
		return errors.Newf(errors.ErrorTypeValidation, "dictionary threshold %g outside [0, 1]", o.DictionaryThreshold)
	}
	if o.Partitioned {
		if len(o.KeyColumnIDs) == 0 {
			return errors.New(errors.ErrorTypeValidation, "partitioned files need key columns")
		}
		n := len(o.Schema.Leaves())
		for _, id := range o.KeyColumnIDs {
			if id < 0 || id >= n {
				return errors.Newf(errors.ErrorTypeValidation, "key column %d outside %d columns", id, n)
			}
		}
	}
	return nil
}

func (o *Options) workers() int {
	if o.EncodeWorkers > 0 {
		return o.EncodeWorkers
	}
	return runtime.NumCPU()
}

func (o *Options) encodingOptions() (*encoding.Options, error) {
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: o.Compression, Level: o.CompressionLevel})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create compressor")
	}
	return &encoding.Options{
		Encoding:            o.Encoding,
		DictionaryThreshold: o.DictionaryThreshold,
		Compressor:          comp,
	}, nil
}
