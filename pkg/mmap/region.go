// Package mmap provides a fixed-size file region mapped MAP_SHARED, so every
// process mapping the same path sees the same bytes.
//
// All accessors take offsets relative to the start of the region and are
// bounds checked; nothing hands out pointers into the mapping. The atomic
// accessors require 8-byte aligned offsets and use the platform byte order,
// which is little endian on every supported target, the same order the
// plain accessors use.
package mmap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/pixels/pkg/errors"
)

// Region is a shared read/write mapping of a file.
type Region struct {
	path string
	f    *os.File
	data []byte
	size int64

	// mu serialises Lock holders inside one process; flock serialises
	// processes.
	mu sync.Mutex
}

// Open maps the file at path, creating it with size bytes when it does not
// exist or is empty. An existing file of a different size is an error:
// processes sharing a region must agree on its size.
func Open(path string, size int64) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "region size must be positive, got %d", size)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIOFailure, "create region directory").WithDetail("path", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIOFailure, "open region file").WithDetail("path", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeIOFailure, "stat region file").WithDetail("path", path)
	}
	switch {
	case fi.Size() == 0:
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeIOFailure, "size region file").WithDetail("path", path)
		}
	case fi.Size() != size:
		f.Close()
		return nil, errors.Newf(errors.ErrorTypeConfig, "region file is %d bytes, configured size is %d", fi.Size(), size).
			WithDetail("path", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeIOFailure, "map region").WithDetail("path", path)
	}
	// advisory only
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	return &Region{path: path, f: f, data: data, size: size}, nil
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Size returns the region size in bytes.
func (r *Region) Size() int64 { return r.size }

func (r *Region) check(off, n int64) error {
	if off < 0 || n < 0 || off > r.size-n {
		return errors.Newf(errors.ErrorTypeValidation, "range [%d,+%d) outside %d byte region", off, n, r.size)
	}
	return nil
}

func (r *Region) checkAligned(off int64) error {
	if off%8 != 0 {
		return errors.Newf(errors.ErrorTypeValidation, "offset %d is not 8-byte aligned", off)
	}
	return r.check(off, 8)
}

// ReadAt copies len(p) bytes at off into p.
func (r *Region) ReadAt(p []byte, off int64) error {
	if err := r.check(off, int64(len(p))); err != nil {
		return err
	}
	copy(p, r.data[off:])
	return nil
}

// WriteAt copies p into the region at off.
func (r *Region) WriteAt(p []byte, off int64) error {
	if err := r.check(off, int64(len(p))); err != nil {
		return err
	}
	copy(r.data[off:], p)
	return nil
}

// ReadByteAt returns the byte at off.
func (r *Region) ReadByteAt(off int64) (byte, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// ReadUint32At returns the little endian uint32 at off.
func (r *Region) ReadUint32At(off int64) (uint32, error) {
	if err := r.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

// ReadUint64At returns the little endian uint64 at off.
func (r *Region) ReadUint64At(off int64) (uint64, error) {
	if err := r.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.data[off:]), nil
}

// ReadInt64At returns the little endian int64 at off.
func (r *Region) ReadInt64At(off int64) (int64, error) {
	v, err := r.ReadUint64At(off)
	return int64(v), err
}

func (r *Region) word(off int64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}

// LoadUint64 atomically loads the word at the aligned offset off.
func (r *Region) LoadUint64(off int64) (uint64, error) {
	if err := r.checkAligned(off); err != nil {
		return 0, err
	}
	return atomic.LoadUint64(r.word(off)), nil
}

// StoreUint64 atomically stores v at the aligned offset off.
func (r *Region) StoreUint64(off int64, v uint64) error {
	if err := r.checkAligned(off); err != nil {
		return err
	}
	atomic.StoreUint64(r.word(off), v)
	return nil
}

// AddUint64 atomically adds delta at the aligned offset off and returns the new value.
func (r *Region) AddUint64(off int64, delta uint64) (uint64, error) {
	if err := r.checkAligned(off); err != nil {
		return 0, err
	}
	return atomic.AddUint64(r.word(off), delta), nil
}

// Lock takes the region's exclusive writer lock, across goroutines and
// processes.
func (r *Region) Lock() error {
	r.mu.Lock()
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_EX); err != nil {
		r.mu.Unlock()
		return errors.Wrap(err, errors.ErrorTypeIOFailure, "lock region").WithDetail("path", r.path)
	}
	return nil
}

// Unlock releases the writer lock.
func (r *Region) Unlock() error {
	defer r.mu.Unlock()
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIOFailure, "unlock region").WithDetail("path", r.path)
	}
	return nil
}

// Sync flushes the mapping to the backing file.
func (r *Region) Sync() error {
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIOFailure, "sync region").WithDetail("path", r.path)
	}
	return nil
}

// Close unmaps the region and closes the file. The file stays on disk for
// other processes.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return multierr.Append(err, r.f.Close())
}
