// Package cache implements the host-wide column chunk cache: a fixed index and
// a data arena inside one shared memory region, written by a single writer at a
// time and read lock-free by any number of processes.
//
// Region layout:
//
//	[0, 128)              header
//	[128, 128+64*slots)   index slots
//	[dataOffset, size)    data arena, dataOffset aligned to 4 KiB
//
// Every slot carries a sequence number. A writer makes it odd before touching
// the slot or the bytes it points at and even again afterwards; readers copy
// the entry and retry when the sequence changed underneath them.
package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/metrics"
	"github.com/ajitpratap0/pixels/pkg/mmap"
)

const (
	magic   = 0x45484341434c5850 // "PXLCACHE"
	version = 1

	headerSize = 128
	slotSize   = 64
	dataAlign  = 4096
	allocAlign = 64
	probeLimit = 8

	defaultReadRetries = 8
)

// header field offsets
const (
	hMagic      = 0
	hVersion    = 8
	hCapacity   = 16
	hSlots      = 24
	hDataOffset = 32
	hDataSize   = 40
	hCursor     = 48
	hClock      = 56
	hEntries    = 64
	hUsed       = 72
	hEvictions  = 80
)

// slot field offsets
const (
	sSeq      = 0
	sKeyHash  = 8
	sFileHash = 16
	sRGCol    = 24
	sOffset   = 32
	sLength   = 40
	sAlloc    = 48
	sTick     = 56
)

// Key identifies one column chunk: column Column of row group RowGroup in File.
type Key struct {
	File     string
	RowGroup int
	Column   int
}

func (k Key) hashes() (keyHash, fileHash, rgCol uint64) {
	fileHash = xxhash.Sum64String(k.File)
	rgCol = uint64(uint32(k.RowGroup))<<32 | uint64(uint32(k.Column))
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], fileHash)
	binary.LittleEndian.PutUint64(buf[8:], rgCol)
	return xxhash.Sum64(buf[:]), fileHash, rgCol
}

// Entry locates a cached chunk inside the region for zero-copy readers.
// Offset is absolute within the region. The bytes are only valid if Validate
// still accepts the entry after they have been consumed.
type Entry struct {
	Slot       int
	Offset     int64
	Length     int64
	Generation uint64
}

// Stats is a point-in-time view of the cache header.
type Stats struct {
	Capacity  int64
	DataSize  int64
	Slots     int
	Entries   int64
	UsedBytes int64
	Evictions int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache is a handle on a shared chunk cache. Handles in different processes
// that open the same path with the same configuration share entries.
type Cache struct {
	region     *mmap.Region
	slots      int
	window     int
	dataOffset int64
	dataSize   int64
	retries    int
	log        *zap.Logger

	closeOnce sync.Once
}

// Open maps the region described by cfg, initialising it on first use.
func Open(cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	capacity, err := cfg.ResolveCapacity()
	if err != nil {
		return nil, err
	}
	if cfg.IndexSlots <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "cache index slots must be positive, got %d", cfg.IndexSlots)
	}
	dataOffset := alignUp(headerSize+int64(cfg.IndexSlots)*slotSize, dataAlign)
	if capacity <= dataOffset {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"cache capacity %d leaves no data area after %d index slots", capacity, cfg.IndexSlots)
	}

	c := &Cache{
		slots:      cfg.IndexSlots,
		window:     min(probeLimit, cfg.IndexSlots),
		dataOffset: dataOffset,
		dataSize:   capacity - dataOffset,
		retries:    cfg.MaxReadRetries,
		log:        logger.Named("cache"),
	}
	if c.retries <= 0 {
		c.retries = defaultReadRetries
	}
	for _, opt := range opts {
		opt(c)
	}

	region, err := mmap.Open(cfg.Path, capacity)
	if err != nil {
		return nil, err
	}
	c.region = region
	if err := c.initHeader(capacity); err != nil {
		return nil, multierr.Append(err, region.Close())
	}
	c.log.Debug("cache opened",
		zap.String("path", cfg.Path),
		zap.Int64("capacity", capacity),
		zap.Int("slots", c.slots))
	return c, nil
}

func (c *Cache) initHeader(capacity int64) (err error) {
	if err := c.region.Lock(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.region.Unlock()) }()

	m := c.load(hMagic)
	if m == 0 {
		c.store(hVersion, version)
		c.store(hCapacity, uint64(capacity))
		c.store(hSlots, uint64(c.slots))
		c.store(hDataOffset, uint64(c.dataOffset))
		c.store(hDataSize, uint64(c.dataSize))
		c.store(hMagic, magic)
		return nil
	}
	if m != magic {
		return errors.New(errors.ErrorTypeConfig, "cache region has an unknown magic").
			WithDetail("path", c.region.Path())
	}
	if v := c.load(hVersion); v != version {
		return errors.Newf(errors.ErrorTypeConfig, "cache region version %d, expected %d", v, version)
	}
	if s := c.load(hSlots); s != uint64(c.slots) {
		return errors.Newf(errors.ErrorTypeConfig, "cache region has %d index slots, configured %d", s, c.slots)
	}
	return nil
}

// load and store address header and slot words; offsets are aligned and in
// range by construction.
func (c *Cache) load(off int64) uint64 {
	v, _ := c.region.LoadUint64(off)
	return v
}

func (c *Cache) store(off int64, v uint64) {
	_ = c.region.StoreUint64(off, v)
}

func (c *Cache) add(off int64, delta uint64) uint64 {
	v, _ := c.region.AddUint64(off, delta)
	return v
}

func (c *Cache) slotOffset(i int) int64 {
	return headerSize + int64(i)*slotSize
}

func (c *Cache) probe(keyHash uint64, fn func(slot int) bool) {
	start := int(keyHash % uint64(c.slots))
	for i := 0; i < c.window; i++ {
		if !fn((start + i) % c.slots) {
			return
		}
	}
}

type snapshot struct {
	seq    uint64
	offset int64
	length int64
	alloc  int64
}

// readSlot loads slot i if it holds key. odd reports a slot caught mid-write.
func (c *Cache) readSlot(i int, keyHash, fileHash, rgCol uint64) (s snapshot, match, odd bool) {
	base := c.slotOffset(i)
	s.seq = c.load(base + sSeq)
	if s.seq&1 == 1 {
		return s, false, true
	}
	if c.load(base+sAlloc) == 0 ||
		c.load(base+sKeyHash) != keyHash ||
		c.load(base+sFileHash) != fileHash ||
		c.load(base+sRGCol) != rgCol {
		return s, false, false
	}
	s.offset = int64(c.load(base + sOffset))
	s.length = int64(c.load(base + sLength))
	s.alloc = int64(c.load(base + sAlloc))
	return s, true, false
}

// Get returns a copy of the chunk cached for key. A read that keeps racing a
// writer gives up after the configured number of retries and reports a miss.
func (c *Cache) Get(key Key) ([]byte, bool) {
	keyHash, fileHash, rgCol := key.hashes()
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			metrics.CacheReadRetries.Inc()
		}
		var (
			out   []byte
			found bool
			raced bool
		)
		c.probe(keyHash, func(i int) bool {
			s, match, odd := c.readSlot(i, keyHash, fileHash, rgCol)
			if odd {
				raced = true
				return false
			}
			if !match {
				return true
			}
			if s.length < 0 || s.length > s.alloc || s.offset < 0 || s.offset+s.alloc > c.dataSize {
				raced = true
				return false
			}
			buf := make([]byte, s.length)
			if err := c.region.ReadAt(buf, c.dataOffset+s.offset); err != nil {
				raced = true
				return false
			}
			if c.load(c.slotOffset(i)+sSeq) != s.seq {
				raced = true
				return false
			}
			out, found = buf, true
			return false
		})
		if found {
			metrics.CacheGets.WithLabelValues(metrics.ResultHit).Inc()
			return out, true
		}
		if !raced {
			metrics.CacheGets.WithLabelValues(metrics.ResultMiss).Inc()
			return nil, false
		}
	}
	metrics.CacheGets.WithLabelValues(metrics.ResultRetryExhausted).Inc()
	c.log.Debug("cache read retries exhausted",
		zap.String("file", key.File),
		zap.Int("row_group", key.RowGroup),
		zap.Int("column", key.Column))
	return nil, false
}

// Lookup returns where the chunk for key lives without copying it.
func (c *Cache) Lookup(key Key) (Entry, bool) {
	keyHash, fileHash, rgCol := key.hashes()
	for attempt := 0; attempt < c.retries; attempt++ {
		var (
			e     Entry
			found bool
			raced bool
		)
		c.probe(keyHash, func(i int) bool {
			s, match, odd := c.readSlot(i, keyHash, fileHash, rgCol)
			if odd {
				raced = true
				return false
			}
			if !match {
				return true
			}
			if c.load(c.slotOffset(i)+sSeq) != s.seq {
				raced = true
				return false
			}
			e = Entry{Slot: i, Offset: c.dataOffset + s.offset, Length: s.length, Generation: s.seq}
			found = true
			return false
		})
		if found {
			return e, true
		}
		if !raced {
			return Entry{}, false
		}
	}
	return Entry{}, false
}

// Validate reports whether e still describes the bytes it pointed at when it
// was looked up.
func (c *Cache) Validate(e Entry) bool {
	if e.Slot < 0 || e.Slot >= c.slots {
		return false
	}
	return c.load(c.slotOffset(e.Slot)+sSeq) == e.Generation
}

// Put stores data for key. Putting the same key twice is idempotent. Entries
// that no longer fit anywhere in the data area fail with capacity_exceeded.
func (c *Cache) Put(key Key, data []byte) (err error) {
	need := alignUp(max(int64(len(data)), 1), allocAlign)
	if need > c.dataSize {
		metrics.CachePuts.WithLabelValues(metrics.ResultCapacity).Inc()
		return errors.Newf(errors.ErrorTypeCapacityExceeded,
			"chunk of %d bytes exceeds cache data area of %d bytes", len(data), c.dataSize).
			WithDetail("file", key.File)
	}

	if err := c.region.Lock(); err != nil {
		metrics.CachePuts.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	defer func() { err = multierr.Append(err, c.region.Unlock()) }()

	keyHash, fileHash, rgCol := key.hashes()
	existing := -1
	c.probe(keyHash, func(i int) bool {
		if _, match, _ := c.readSlot(i, keyHash, fileHash, rgCol); match {
			existing = i
			return false
		}
		return true
	})

	if existing >= 0 {
		base := c.slotOffset(existing)
		if alloc := int64(c.load(base + sAlloc)); int64(len(data)) <= alloc {
			c.add(base+sSeq, 1)
			if err := c.region.WriteAt(data, c.dataOffset+int64(c.load(base+sOffset))); err != nil {
				c.add(base+sSeq, 1)
				return err
			}
			c.store(base+sLength, uint64(len(data)))
			c.store(base+sTick, c.add(hClock, 1))
			c.add(base+sSeq, 1)
			metrics.CachePuts.WithLabelValues(metrics.ResultOK).Inc()
			return nil
		}
		c.retire(existing)
	}

	start := c.allocate(need)
	evicted := c.evictRange(start, start+need)

	slot := -1
	oldest, oldestTick := -1, uint64(0)
	c.probe(keyHash, func(i int) bool {
		base := c.slotOffset(i)
		if c.load(base+sAlloc) == 0 {
			slot = i
			return false
		}
		if tick := c.load(base + sTick); oldest < 0 || tick < oldestTick {
			oldest, oldestTick = i, tick
		}
		return true
	})
	if slot < 0 {
		c.retire(oldest)
		evicted++
		slot = oldest
	}

	base := c.slotOffset(slot)
	c.add(base+sSeq, 1)
	if err := c.region.WriteAt(data, c.dataOffset+start); err != nil {
		c.add(base+sSeq, 1)
		metrics.CachePuts.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	c.store(base+sKeyHash, keyHash)
	c.store(base+sFileHash, fileHash)
	c.store(base+sRGCol, rgCol)
	c.store(base+sOffset, uint64(start))
	c.store(base+sLength, uint64(len(data)))
	c.store(base+sAlloc, uint64(need))
	c.store(base+sTick, c.add(hClock, 1))
	c.add(base+sSeq, 1)

	c.add(hEntries, 1)
	used := c.add(hUsed, uint64(need))
	if evicted > 0 {
		c.add(hEvictions, uint64(evicted))
		metrics.CacheEvictions.Add(float64(evicted))
	}
	metrics.CacheUsedBytes.Set(float64(used))
	metrics.CachePuts.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

// allocate reserves need bytes at the rotation cursor, wrapping to the start
// of the arena when the tail is too short.
func (c *Cache) allocate(need int64) int64 {
	start := int64(c.load(hCursor))
	if start+need > c.dataSize {
		start = 0
	}
	c.store(hCursor, uint64(start+need))
	return start
}

// evictRange retires every live entry overlapping [lo, hi).
func (c *Cache) evictRange(lo, hi int64) int {
	n := 0
	for i := 0; i < c.slots; i++ {
		base := c.slotOffset(i)
		alloc := int64(c.load(base + sAlloc))
		if alloc == 0 {
			continue
		}
		off := int64(c.load(base + sOffset))
		if off < hi && lo < off+alloc {
			c.retire(i)
			n++
		}
	}
	return n
}

// retire empties slot i. The sequence moves on before anything else changes,
// so readers holding the old generation retry.
func (c *Cache) retire(i int) {
	base := c.slotOffset(i)
	c.add(base+sSeq, 1)
	alloc := c.load(base + sAlloc)
	c.store(base+sAlloc, 0)
	c.store(base+sLength, 0)
	c.add(base+sSeq, 1)
	if alloc > 0 {
		c.add(hEntries, ^uint64(0))
		c.add(hUsed, -alloc)
	}
}

// ReadAt copies region bytes at the absolute offset off.
func (c *Cache) ReadAt(p []byte, off int64) error { return c.region.ReadAt(p, off) }

// WriteAt writes region bytes at the absolute offset off, bypassing the index.
func (c *Cache) WriteAt(p []byte, off int64) error { return c.region.WriteAt(p, off) }

// ReadUint64At reads a little endian uint64 at the absolute offset off.
func (c *Cache) ReadUint64At(off int64) (uint64, error) { return c.region.ReadUint64At(off) }

// ReadInt64At reads a little endian int64 at the absolute offset off.
func (c *Cache) ReadInt64At(off int64) (int64, error) { return c.region.ReadInt64At(off) }

// ReadUint32At reads a little endian uint32 at the absolute offset off.
func (c *Cache) ReadUint32At(off int64) (uint32, error) { return c.region.ReadUint32At(off) }

// ReadByteAt reads the byte at the absolute offset off.
func (c *Cache) ReadByteAt(off int64) (byte, error) { return c.region.ReadByteAt(off) }

// Stats reads the shared counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Capacity:  c.region.Size(),
		DataSize:  c.dataSize,
		Slots:     c.slots,
		Entries:   int64(c.load(hEntries)),
		UsedBytes: int64(c.load(hUsed)),
		Evictions: int64(c.load(hEvictions)),
	}
}

// Path returns the region path.
func (c *Cache) Path() string { return c.region.Path() }

// Close unmaps the region. Entries stay available to other handles.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.region.Close() })
	return err
}

func alignUp(n, a int64) int64 {
	return (n + a - 1) / a * a
}
