package mmap

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pixels/pkg/errors"
)

func TestRegionReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	r, err := Open(path, 4096)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(4096), r.Size())
	assert.Equal(t, path, r.Path())

	require.NoError(t, r.WriteAt([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0xff}, 16))
	v, err := r.ReadUint64At(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	i, err := r.ReadInt64At(16)
	require.NoError(t, err)
	assert.Equal(t, int64(1), i)
	b, err := r.ReadByteAt(24)
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), b)
	u, err := r.ReadUint32At(16)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), u)

	buf := make([]byte, 9)
	require.NoError(t, r.ReadAt(buf, 16))
	assert.Equal(t, byte(0xff), buf[8])
}

func TestRegionBounds(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "region"), 64)
	require.NoError(t, err)
	defer r.Close()

	tests := map[string]error{
		"read past end":  r.ReadAt(make([]byte, 8), 60),
		"write past end": r.WriteAt(make([]byte, 65), 0),
		"negative":       r.WriteAt([]byte{1}, -1),
		"unaligned":      r.StoreUint64(4, 1),
	}
	for name, err := range tests {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
	_, err = r.ReadUint64At(57)
	assert.Error(t, err)
	_, err = r.ReadByteAt(64)
	assert.Error(t, err)
	_, err = r.LoadUint64(64)
	assert.Error(t, err)
}

func TestRegionSharedBetweenMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	a, err := Open(path, 8192)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, 8192)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.StoreUint64(4096, 42))
	v, err := b.LoadUint64(4096)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = Open(path, 4096)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegionLockAndAtomics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	a, err := Open(path, 4096)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, 4096)
	require.NoError(t, err)
	defer b.Close()

	var wg sync.WaitGroup
	for _, r := range []*Region{a, b} {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(r *Region) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					require.NoError(t, r.Lock())
					v, err := r.ReadUint64At(8)
					require.NoError(t, err)
					buf := make([]byte, 8)
					buf[0] = byte(v + 1)
					require.NoError(t, r.WriteAt(buf, 8))
					require.NoError(t, r.Unlock())
					_, err = r.AddUint64(16, 1)
					require.NoError(t, err)
				}
			}(r)
		}
	}
	wg.Wait()
	v, err := a.LoadUint64(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), v)
	c, err := a.ReadByteAt(8)
	require.NoError(t, err)
	assert.Equal(t, byte(800%256), c)
	require.NoError(t, a.Sync())
}
