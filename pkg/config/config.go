// Package config provides the configuration surface for pixels.
//
// The configuration is organized into sections:
//   - Writer: pixel stride, row-group size, block layout, compression and encoding
//   - Reader: schema-evolution and corrupt-record tolerance, batch sizes
//   - Cache: shared-memory region path, capacity and index sizing
//   - Storage: backend scheme, bucket/region and the I/O retry policy
//   - Logging, Metrics, Tracing: observability
//
// Example usage:
//
//	cfg := config.NewDefault()
//	cfg.Writer.PixelStride = 1000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Config is the root configuration structure.
type Config struct {
	Writer  WriterConfig  `yaml:"writer" json:"writer"`
	Reader  ReaderConfig  `yaml:"reader" json:"reader"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// WriterConfig controls file layout and encoding.
type WriterConfig struct {
	// PixelStride is the number of rows per statistics unit
	PixelStride int `yaml:"pixel_stride" json:"pixel_stride"`
	// RowGroupSize is the target size of a row group in bytes
	RowGroupSize int64 `yaml:"row_group_size" json:"row_group_size"`
	// BlockSize is the storage block size used for padding decisions
	BlockSize int64 `yaml:"block_size" json:"block_size"`
	// Replication is the block replication factor for replicated backends
	Replication int `yaml:"replication" json:"replication"`
	// BlockPadding keeps row groups from straddling block boundaries
	BlockPadding bool `yaml:"block_padding" json:"block_padding"`
	// Compression is one of none, zstd, snappy, s2, lz4, gzip, deflate
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel is one of fastest, default, better, best
	CompressionLevel string `yaml:"compression_level" json:"compression_level"`
	// Encoding enables run-length, delta, dictionary and bit-packing
	Encoding bool `yaml:"encoding" json:"encoding"`
	// DictionaryThreshold is the max distinct/non-null ratio for dictionary encoding
	DictionaryThreshold float64 `yaml:"dictionary_threshold" json:"dictionary_threshold"`
	// EncodeWorkers bounds the goroutines encoding columns during a flush
	EncodeWorkers int `yaml:"encode_workers" json:"encode_workers"`
	// Timezone is recorded in the footer
	Timezone string `yaml:"timezone" json:"timezone"`
}

// ReaderConfig controls scans.
type ReaderConfig struct {
	TolerantSchemaEvolution bool `yaml:"tolerant_schema_evolution" json:"tolerant_schema_evolution"`
	SkipCorruptRecords      bool `yaml:"skip_corrupt_records" json:"skip_corrupt_records"`
	// BatchSize is the default maximum rows per row batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// FooterCacheSize is the number of row-group footers kept per open file
	FooterCacheSize int `yaml:"footer_cache_size" json:"footer_cache_size"`
}

// CacheConfig describes the shared-memory region. Every process on a host must
// use the same path and capacity.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	// Capacity is the total region size in bytes; 0 derives it from host memory
	Capacity int64 `yaml:"capacity" json:"capacity"`
	// IndexSlots is the number of index entries
	IndexSlots int `yaml:"index_slots" json:"index_slots"`
	// MaxReadRetries bounds lock-free read retries before falling back to storage
	MaxReadRetries int `yaml:"max_read_retries" json:"max_read_retries"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Scheme is one of file, s3, gcs
	Scheme          string      `yaml:"scheme" json:"scheme"`
	Bucket          string      `yaml:"bucket" json:"bucket"`
	Region          string      `yaml:"region" json:"region"`
	Endpoint        string      `yaml:"endpoint" json:"endpoint"`
	CredentialsFile string      `yaml:"credentials_file" json:"credentials_file"`
	Retry           RetryConfig `yaml:"retry" json:"retry"`
}

// RetryConfig is the bounded retry policy for storage I/O failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
}

// LoggingConfig configures the global zap logger.
type LoggingConfig struct {
	Level       string   `yaml:"level" json:"level"`
	Encoding    string   `yaml:"encoding" json:"encoding"`
	Development bool     `yaml:"development" json:"development"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// NewDefault returns a configuration with production defaults.
func NewDefault() *Config {
	return &Config{
		Writer: WriterConfig{
			PixelStride:         10000,
			RowGroupSize:        256 * 1024 * 1024,
			BlockSize:           2 * 1024 * 1024 * 1024,
			Replication:         1,
			BlockPadding:        true,
			Compression:         "none",
			CompressionLevel:    "default",
			Encoding:            true,
			DictionaryThreshold: 0.5,
			EncodeWorkers:       runtime.NumCPU(),
			Timezone:            "UTC",
		},
		Reader: ReaderConfig{
			BatchSize:       10000,
			FooterCacheSize: 64,
		},
		Cache: CacheConfig{
			Enabled:        false,
			Path:           "/dev/shm/pixels.cache",
			IndexSlots:     1 << 16,
			MaxReadRetries: 8,
		},
		Storage: StorageConfig{
			Scheme: "file",
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Tracing: TracingConfig{
			ServiceName:  "pixels",
			SamplingRate: 0.1,
		},
	}
}

// Validate checks that values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Writer.PixelStride <= 0 {
		return fmt.Errorf("writer.pixel_stride must be positive")
	}
	if c.Writer.RowGroupSize <= 0 {
		return fmt.Errorf("writer.row_group_size must be positive")
	}
	if c.Writer.BlockSize < 0 {
		return fmt.Errorf("writer.block_size cannot be negative")
	}
	if c.Writer.Replication <= 0 {
		return fmt.Errorf("writer.replication must be positive")
	}
	if c.Writer.DictionaryThreshold < 0 || c.Writer.DictionaryThreshold > 1 {
		return fmt.Errorf("writer.dictionary_threshold must be within [0, 1]")
	}
	switch c.Writer.Compression {
	case "", "none", "zstd", "snappy", "s2", "lz4", "gzip", "deflate":
	default:
		return fmt.Errorf("writer.compression %q is not supported", c.Writer.Compression)
	}
	switch c.Writer.CompressionLevel {
	case "", "fastest", "default", "better", "best":
	default:
		return fmt.Errorf("writer.compression_level %q is not supported", c.Writer.CompressionLevel)
	}
	if c.Reader.BatchSize <= 0 {
		return fmt.Errorf("reader.batch_size must be positive")
	}
	if c.Reader.FooterCacheSize < 0 {
		return fmt.Errorf("reader.footer_cache_size cannot be negative")
	}
	if c.Cache.Enabled {
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required when the cache is enabled")
		}
		if c.Cache.Capacity < 0 {
			return fmt.Errorf("cache.capacity cannot be negative")
		}
		if c.Cache.IndexSlots <= 0 {
			return fmt.Errorf("cache.index_slots must be positive")
		}
	}
	switch c.Storage.Scheme {
	case "file":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for scheme %s", c.Storage.Scheme)
		}
	default:
		return fmt.Errorf("storage.scheme %q is not supported", c.Storage.Scheme)
	}
	if c.Storage.Retry.MaxAttempts < 1 {
		return fmt.Errorf("storage.retry.max_attempts must be at least 1")
	}
	return nil
}

// GetEncodeWorkers returns the number of encode workers, ensuring it's at least 1
func (w *WriterConfig) GetEncodeWorkers() int {
	if w.EncodeWorkers <= 0 {
		return runtime.NumCPU()
	}
	return w.EncodeWorkers
}

const (
	minCacheCapacity = 64 * 1024 * 1024
	maxCacheCapacity = 4 * 1024 * 1024 * 1024
)

// ResolveCapacity returns the configured capacity, or 1/32 of host memory clamped
// to [64MiB, 4GiB] when unset.
func (c *CacheConfig) ResolveCapacity() (int64, error) {
	if c.Capacity > 0 {
		return c.Capacity, nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read host memory: %w", err)
	}
	capacity := int64(vm.Total / 32)
	if capacity < minCacheCapacity {
		capacity = minCacheCapacity
	}
	if capacity > maxCacheCapacity {
		capacity = maxCacheCapacity
	}
	return capacity, nil
}
