// Package pool provides typed object pooling for the scratch memory used while
// encoding, compressing and reading pixels.
//
// Example usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//
//	scratch := pool.GlobalBufferPool.Get(4096)
//	defer pool.GlobalBufferPool.Put(scratch)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset function.
// The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function, if any, runs in Put before the object is returned.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, allocating when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() Stats {
	allocated := atomic.LoadInt64(&p.stats.allocated)
	gets := atomic.LoadInt64(&p.stats.gets)
	return Stats{
		Allocated: allocated,
		InUse:     atomic.LoadInt64(&p.stats.inUse),
		Hits:      gets - allocated,
		Misses:    allocated,
	}
}

// Stats represents pool statistics for monitoring.
type Stats struct {
	// Allocated is the total number of objects created by the pool
	Allocated int64
	// InUse is the current number of objects checked out from the pool
	InUse int64
	// Hits is the number of Gets served by a recycled object
	Hits int64
	// Misses is the number of Gets that allocated
	Misses int64
}

// maxPooledBuffer keeps one oversized pixel from pinning memory in the pool.
const maxPooledBuffer = 4 << 20

// BytesBufferPool pools *bytes.Buffer used as encode and compression scratch.
var BytesBufferPool = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty pooled bytes.Buffer.
func GetBuffer() *bytes.Buffer {
	return BytesBufferPool.Get()
}

// PutBuffer returns b to the pool. Large buffers are dropped.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		atomic.AddInt64(&BytesBufferPool.stats.inUse, -1)
		return
	}
	BytesBufferPool.Put(b)
}

// BufferPool manages byte slice pooling with size-based buckets.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool creates a buffer pool with power-of-4 buckets from 512B to 8MB.
// Larger requests are allocated directly.
func NewBufferPool() *BufferPool {
	sizes := []int{
		512,
		2048,
		8192,
		32768,
		131072,
		524288,
		2097152,
		8388608,
	}
	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(func() []byte { return make([]byte, size) }, nil)
	}
	return &BufferPool{pools: pools, sizes: sizes}
}

// Get returns a slice of length size from the smallest fitting bucket.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			return p.pools[i].Get()[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the bucket matching its capacity.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)
	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf[:size])
			return
		}
	}
}

// GlobalBufferPool holds scratch for small reads that are parsed and dropped.
var GlobalBufferPool = NewBufferPool()
