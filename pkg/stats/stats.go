// Package stats collects the per-pixel, per-chunk and per-file column
// statistics stored in pixels footers.
//
// Min and max use the ordering in package value and exclude NaN. The distinct
// count is a HyperLogLog estimate kept as a hint; readers prune on min, max and
// null count only.
package stats

import (
	"encoding/binary"
	"math"

	"github.com/axiomhq/hyperloglog"

	"github.com/ajitpratap0/pixels/pkg/value"
)

// Statistics summarises the values of one column over a row range.
type Statistics struct {
	_           struct{} `cbor:",toarray"`
	Min         value.Value
	Max         value.Value
	NullCount   uint64
	NaNCount    uint64
	RowCount    uint64
	NumDistinct uint64
}

// HasMinMax reports whether min and max are set; they are absent when every
// value is null or NaN, and for list columns.
func (s Statistics) HasMinMax() bool {
	return !s.Min.IsNull() && !s.Max.IsNull()
}

// NonNullCount returns the number of non-null rows.
func (s Statistics) NonNullCount() uint64 {
	return s.RowCount - s.NullCount
}

// Contains reports whether v lies within [Min, Max]. Null values are accounted
// for by NullCount and NaN by NaNCount, so both report true when counted.
func (s Statistics) Contains(v value.Value) bool {
	if v.IsNull() {
		return s.NullCount > 0
	}
	if v.IsNaN() {
		return s.NaNCount > 0
	}
	if !s.HasMinMax() {
		return false
	}
	lo, ok := value.Compare(s.Min, v)
	if !ok || lo > 0 {
		return false
	}
	hi, ok := value.Compare(v, s.Max)
	return ok && hi <= 0
}

// AllNull returns statistics for rows values of a column that is absent from a
// file; every row reads as null.
func AllNull(rows uint64) Statistics {
	return Statistics{NullCount: rows, RowCount: rows}
}

// Collector accumulates statistics for one column.
type Collector struct {
	stats   Statistics
	sketch  *hyperloglog.Sketch
	scratch [8]byte
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{sketch: hyperloglog.New()}
}

// Reset empties the collector for reuse.
func (c *Collector) Reset() {
	c.stats = Statistics{}
	c.sketch = hyperloglog.New()
}

// AddNull records a null row.
func (c *Collector) AddNull() {
	c.stats.RowCount++
	c.stats.NullCount++
}

// AddRow records a non-null row without a scalar value (lists).
func (c *Collector) AddRow() {
	c.stats.RowCount++
}

// AddInt64 records a non-null integer.
func (c *Collector) AddInt64(v int64) {
	c.stats.RowCount++
	c.update(value.Int64(v))
	binary.LittleEndian.PutUint64(c.scratch[:], uint64(v))
	c.sketch.Insert(c.scratch[:])
}

// AddFloat64 records a non-null float. NaN is counted but excluded from min/max.
func (c *Collector) AddFloat64(v float64) {
	c.stats.RowCount++
	binary.LittleEndian.PutUint64(c.scratch[:], math.Float64bits(v))
	c.sketch.Insert(c.scratch[:])
	if math.IsNaN(v) {
		c.stats.NaNCount++
		return
	}
	c.update(value.Float64(v))
}

// AddBytes records a non-null byte string. b is copied only when it becomes a bound.
func (c *Collector) AddBytes(b []byte) {
	c.stats.RowCount++
	c.sketch.Insert(b)
	c.update(value.Bytes(b))
}

func (c *Collector) update(v value.Value) {
	if c.stats.Min.IsNull() {
		c.stats.Min = v.Clone()
		c.stats.Max = v.Clone()
		return
	}
	if cmp, ok := value.Compare(v, c.stats.Min); ok && cmp < 0 {
		c.stats.Min = v.Clone()
	}
	if cmp, ok := value.Compare(v, c.stats.Max); ok && cmp > 0 {
		c.stats.Max = v.Clone()
	}
}

// Merge folds another collector into c.
func (c *Collector) Merge(o *Collector) {
	c.stats.RowCount += o.stats.RowCount
	c.stats.NullCount += o.stats.NullCount
	c.stats.NaNCount += o.stats.NaNCount
	if o.stats.HasMinMax() {
		if c.stats.Min.IsNull() {
			c.stats.Min = o.stats.Min
			c.stats.Max = o.stats.Max
		} else {
			c.stats.Min = value.Min(c.stats.Min, o.stats.Min)
			c.stats.Max = value.Max(c.stats.Max, o.stats.Max)
		}
	}
	// precisions match, so Merge cannot fail
	_ = c.sketch.Merge(o.sketch)
}

// Statistics returns the collected statistics with the current distinct estimate.
func (c *Collector) Statistics() Statistics {
	s := c.stats
	if s.NonNullCount() > 0 {
		s.NumDistinct = c.sketch.Estimate()
		if s.NumDistinct > s.NonNullCount() {
			s.NumDistinct = s.NonNullCount()
		}
	}
	return s
}
