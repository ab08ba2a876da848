package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pixels/pkg/config"
)

// ExampleNewDefault shows the defaults a writer starts from.
func ExampleNewDefault() {
	cfg := config.NewDefault()

	fmt.Printf("Pixel stride: %d\n", cfg.Writer.PixelStride)
	fmt.Printf("Row group size: %d\n", cfg.Writer.RowGroupSize)
	fmt.Printf("Storage: %s\n", cfg.Storage.Scheme)

	// Output:
	// Pixel stride: 10000
	// Row group size: 268435456
	// Storage: file
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("PIXELS_TEST_BUCKET", "warehouse")

	path := filepath.Join(t.TempDir(), "pixels.yaml")
	content := `
writer:
  pixel_stride: 1000
  compression: zstd
storage:
  scheme: s3
  bucket: ${PIXELS_TEST_BUCKET}
  region: eu-west-1
cache:
  enabled: true
  path: /tmp/pixels.cache
  capacity: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Writer.PixelStride)
	assert.Equal(t, "zstd", cfg.Writer.Compression)
	assert.Equal(t, "warehouse", cfg.Storage.Bucket)
	// untouched sections keep their defaults
	assert.Equal(t, int64(256*1024*1024), cfg.Writer.RowGroupSize)
	assert.Equal(t, 3, cfg.Storage.Retry.MaxAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(c *config.Config) {}, ok: true},
		{name: "zero stride", mutate: func(c *config.Config) { c.Writer.PixelStride = 0 }},
		{name: "unknown compression", mutate: func(c *config.Config) { c.Writer.Compression = "brotli" }},
		{name: "s3 without bucket", mutate: func(c *config.Config) { c.Storage.Scheme = "s3" }},
		{name: "cache without path", mutate: func(c *config.Config) {
			c.Cache.Enabled = true
			c.Cache.Path = ""
		}},
		{name: "no attempts", mutate: func(c *config.Config) { c.Storage.Retry.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := config.NewDefault()
	cfg.Writer.PixelStride = 42

	require.NoError(t, config.Save(path, cfg))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Writer.PixelStride)
}

func TestResolveCapacity(t *testing.T) {
	c := config.CacheConfig{Capacity: 4096}
	got, err := c.ResolveCapacity()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), got)

	c.Capacity = 0
	got, err = c.ResolveCapacity()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, int64(64*1024*1024))
	assert.LessOrEqual(t, got, int64(4*1024*1024*1024))
}
