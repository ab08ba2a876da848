package compression

import (
	"bytes"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() []byte {
	return []byte(strings.Repeat("pixel payload with repetitive content content content. ", 64))
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	original := testPayload()
	for _, algo := range Algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(algo), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, algo, comp.Algorithm())

				compressed, err := comp.Compress(original)
				require.NoError(t, err)
				if algo != None {
					assert.Less(t, len(compressed), len(original))
				}

				decompressed, err := comp.Decompress(compressed, len(original))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(original, decompressed))
			})
		}
	}
}

func TestDecompressRejectsWrongLength(t *testing.T) {
	original := testPayload()
	for _, algo := range Algorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo})
			require.NoError(t, err)
			compressed, err := comp.Compress(original)
			require.NoError(t, err)

			_, err = comp.Decompress(compressed, len(original)-1)
			assert.Error(t, err)
		})
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Snappy, LZ4, Zstd, S2, Deflate} {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)
		_, err = comp.Decompress([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}, 100)
		assert.Error(t, err, string(algo))
	}
}

func TestParse(t *testing.T) {
	a, err := ParseAlgorithm("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	_, err = ParseAlgorithm("brotli")
	assert.Error(t, err)

	l, err := ParseLevel("best")
	require.NoError(t, err)
	assert.Equal(t, Best, l)

	_, err = ParseLevel("max")
	assert.Error(t, err)
}

func TestConcurrentUse(t *testing.T) {
	comp, err := NewCompressor(&Config{Algorithm: Zstd})
	require.NoError(t, err)
	original := testPayload()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c, err := comp.Compress(original)
				assert.NoError(t, err)
				d, err := comp.Decompress(c, len(original))
				assert.NoError(t, err)
				assert.Equal(t, original, d)
			}
		}()
	}
	wg.Wait()
}

func TestDecompressRejectsImplausibleRawLength(t *testing.T) {
	original := testPayload()
	for _, algo := range Algorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo})
			require.NoError(t, err)
			compressed, err := comp.Compress(original)
			require.NoError(t, err)

			for _, rawLen := range []int{-1, MaxDecompressedSize + 1, math.MaxInt} {
				_, err = comp.Decompress(compressed, rawLen)
				assert.Error(t, err, "raw length %d", rawLen)
			}
		})
	}
}

func TestZstdSharesCoders(t *testing.T) {
	a, err := NewCompressor(&Config{Algorithm: Zstd, Level: Best})
	require.NoError(t, err)
	b, err := NewCompressor(&Config{Algorithm: Zstd, Level: Best})
	require.NoError(t, err)
	c, err := NewCompressor(&Config{Algorithm: Zstd, Level: Fastest})
	require.NoError(t, err)

	za, zb, zc := a.(*zstdCompressor), b.(*zstdCompressor), c.(*zstdCompressor)
	assert.Same(t, za.encoder, zb.encoder)
	assert.NotSame(t, za.encoder, zc.encoder)
	assert.Same(t, za.decoder, zc.decoder)

	// output of one level decodes through any compressor
	out, err := zc.Compress(testPayload())
	require.NoError(t, err)
	got, err := za.Decompress(out, len(testPayload()))
	require.NoError(t, err)
	assert.Equal(t, testPayload(), got)
}
